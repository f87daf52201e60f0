package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/dmksnnk/gamebroker/internal/auth"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const defaultGameAddr = "127.0.0.1:24642"

const commandsUsage = `
Commands:
  host  - create a game and forward its players to the local game server
  join  - join a game and listen for the local game client
  token - issue a new access token`

type commandConfig struct {
	FS *pflag.FlagSet

	Command string
	API     textURL
	Broker  string
	Token   string
	CaCert  string
	Debug   bool
}

func (c *commandConfig) Parse(args []string) error {
	c.FS = pflag.NewFlagSet("gamelink", pflag.ExitOnError)
	c.FS.SetInterspersed(false) // stop at the command
	c.FS.Var(&c.API, "api", "broker API URL")
	c.FS.StringVar(&c.Broker, "broker", "", "broker proxy address, host:port")
	c.FS.StringVar(&c.Token, "token", "", "access token")
	c.FS.StringVar(&c.CaCert, "ca-cert", "", "path to CA certificate of the broker")
	c.FS.BoolVar(&c.Debug, "debug", false, "enable debug logging")
	c.FS.Usage = func() {
		fmt.Fprintln(os.Stderr) // newline
		fmt.Fprintln(os.Stderr, "Usage: gamelink [OPTIONS] COMMAND")
		fmt.Fprintln(os.Stderr, commandsUsage)

		fmt.Fprintln(os.Stderr) // newline
		fmt.Fprintln(os.Stderr, "Global options:")
		c.FS.PrintDefaults()
	}

	if err := c.FS.Parse(args); err != nil {
		return err
	}

	if len(c.FS.Args()) < 1 {
		return errors.New("missing command")
	}

	c.Command = c.FS.Args()[0]
	if c.Command == "token" {
		return nil
	}

	if c.API.URL == nil {
		return errors.New("missing API URL")
	}

	if c.Broker == "" {
		return errors.New("missing broker address")
	}

	if c.Token == "" {
		return errors.New("missing token")
	}

	return nil
}

// AuthToken parses the access token.
func (c *commandConfig) AuthToken() (auth.Token, error) {
	return auth.ParseToken(c.Token)
}

type hostConfig struct {
	FS       *pflag.FlagSet
	GameAddr string
}

func (c *hostConfig) Parse(args []string) error {
	c.FS = pflag.NewFlagSet("host", pflag.ExitOnError)
	c.FS.Usage = func() {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Usage: gamelink host [OPTIONS]")
		fmt.Fprintln(os.Stderr, "Options:")
		c.FS.PrintDefaults()
	}

	c.FS.StringVar(&c.GameAddr, "game-addr", defaultGameAddr, "the address the game server listens on")

	return c.FS.Parse(args)
}

type joinConfig struct {
	FS     *pflag.FlagSet
	GameID uuidValue
	Listen string
}

func (c *joinConfig) Parse(args []string) error {
	c.FS = pflag.NewFlagSet("join", pflag.ExitOnError)
	c.FS.Usage = func() {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Usage: gamelink join [OPTIONS]")
		fmt.Fprintln(os.Stderr, "Options:")
		c.FS.PrintDefaults()
	}

	c.FS.Var(&c.GameID, "game", "ID of the game to join (required)")
	c.FS.StringVar(&c.Listen, "listen", "127.0.0.1:0", "the address to listen on for the game client")

	if err := c.FS.Parse(args); err != nil {
		return err
	}

	if c.GameID.UUID == uuid.Nil {
		return errors.New("missing game ID")
	}

	return nil
}

type tokenConfig struct {
	FS     *pflag.FlagSet
	Secret string
	ID     uuidValue
}

func (c *tokenConfig) Parse(args []string) error {
	c.FS = pflag.NewFlagSet("token", pflag.ExitOnError)
	c.FS.Usage = func() {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Usage: gamelink token [OPTIONS]")
		fmt.Fprintln(os.Stderr, "Options:")
		c.FS.PrintDefaults()
	}

	c.FS.StringVar(&c.Secret, "secret", "", "broker secret (required)")
	c.FS.Var(&c.ID, "id", "identity of the token owner. If not set, a new one is generated")

	if err := c.FS.Parse(args); err != nil {
		return err
	}

	if c.Secret == "" {
		return errors.New("missing secret")
	}

	if c.ID.UUID == uuid.Nil {
		c.ID.UUID = uuid.New()
	}

	return nil
}

func abort(fs *pflag.FlagSet, err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	fs.Usage()
	os.Exit(2)
}

type textURL struct {
	*url.URL
}

func (u *textURL) Set(s string) error {
	parsed, err := url.Parse(s)
	if err != nil {
		return err
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	*u = textURL{parsed}
	return nil
}

func (u *textURL) String() string {
	if u.URL == nil {
		return ""
	}
	return u.URL.String()
}

func (u *textURL) Type() string { return "url" }

type uuidValue struct {
	uuid.UUID
}

func (v *uuidValue) Set(s string) error {
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	v.UUID = id
	return nil
}

func (v *uuidValue) String() string {
	if v.UUID == uuid.Nil {
		return ""
	}
	return v.UUID.String()
}

func (v *uuidValue) Type() string { return "uuid" }
