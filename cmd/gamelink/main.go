package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmksnnk/gamebroker/internal"
	"github.com/dmksnnk/gamebroker/internal/api"
	"github.com/dmksnnk/gamebroker/internal/auth"
	"github.com/dmksnnk/gamebroker/internal/forwarder"
	"github.com/dmksnnk/gamebroker/internal/platform"
	"github.com/quic-go/quic-go"
)

func main() {
	var cfg commandConfig
	if err := cfg.Parse(os.Args[1:]); err != nil {
		abort(cfg.FS, err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(cfg, logger); err != nil {
		logger.Error("gamelink failed", "error", err)
		os.Exit(1)
	}

	logger.Info("bye")
}

// run runs the command. Flag errors abort right away, everything else is returned
// after the connections opened so far are closed.
func run(cfg commandConfig, logger *slog.Logger) error {
	ctx, close := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer close()

	args := cfg.FS.Args()[1:]
	var (
		hostCfg  hostConfig
		joinCfg  joinConfig
		tokenCfg tokenConfig
	)
	switch cfg.Command {
	case "host":
		if err := hostCfg.Parse(args); err != nil {
			abort(hostCfg.FS, err)
		}
	case "join":
		if err := joinCfg.Parse(args); err != nil {
			abort(joinCfg.FS, err)
		}
	case "token":
		if err := tokenCfg.Parse(args); err != nil {
			abort(tokenCfg.FS, err)
		}
		fmt.Println(auth.NewToken(tokenCfg.ID.UUID, []byte(tokenCfg.Secret)))
		return nil
	default:
		abort(cfg.FS, fmt.Errorf("unknown command: %s", cfg.Command))
	}

	token, err := cfg.AuthToken()
	if err != nil {
		abort(cfg.FS, fmt.Errorf("parse token: %w", err))
	}

	quicConf := &quic.Config{
		KeepAlivePeriod: time.Second,
		MaxIdleTimeout:  5 * time.Second,
	}

	dialer, err := internal.NewDialer(cfg.CaCert, quicConf)
	if err != nil {
		return err
	}
	// next protocols are set by the API and broker dialers
	tlsConfig := dialer.TLSConfig

	apiClient := api.NewClient(dialer, cfg.API.URL, token)
	defer apiClient.Close()

	if cfg.Command == "host" {
		return runHost(ctx, cfg, hostCfg, apiClient, token, logger, tlsConfig, quicConf)
	}

	return runJoin(ctx, cfg, joinCfg, apiClient, logger, tlsConfig, quicConf)
}

func runHost(
	ctx context.Context,
	cfg commandConfig,
	hostCfg hostConfig,
	apiClient *api.Client,
	token auth.Token,
	logger *slog.Logger,
	tlsConfig *tls.Config,
	quicConf *quic.Config,
) error {
	secret, err := apiClient.CreateGame(ctx)
	if err != nil {
		return fmt.Errorf("create game: %w", err)
	}

	fwdCfg := forwarder.HostConfig{
		Logger:     logger.With(slog.String("component", "host")),
		TLSConfig:  tlsConfig,
		QUICConfig: quicConf,
		ErrHandlers: []func(error){
			func(err error) {
				logger.Error("host forwarder error", "error", err)
			},
		},
	}

	host, err := fwdCfg.Connect(ctx, cfg.Broker, secret)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer host.Close()

	games, err := apiClient.ListGames(ctx, token.Identity())
	if err != nil {
		return fmt.Errorf("list games: %w", err)
	}
	for _, g := range games {
		logger.Info("game is running", slog.String("game_id", g.ID.String()), slog.Int("players", g.Players))
	}

	if err := host.AcceptAndLink(ctx, hostCfg.GameAddr); err != nil {
		return fmt.Errorf("accept and link: %w", err)
	}

	return nil
}

func runJoin(
	ctx context.Context,
	cfg commandConfig,
	joinCfg joinConfig,
	apiClient *api.Client,
	logger *slog.Logger,
	tlsConfig *tls.Config,
	quicConf *quic.Config,
) error {
	joined, err := apiClient.JoinGame(ctx, joinCfg.GameID.UUID)
	if err != nil {
		return fmt.Errorf("join game: %w", err)
	}

	fwdCfg := forwarder.PeerConfig{
		Logger:     logger.With(slog.String("component", "peer")),
		TLSConfig:  tlsConfig,
		QUICConfig: quicConf,
	}

	peer, err := fwdCfg.Connect(ctx, cfg.Broker, joined.Secret)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer peer.Close()

	l, err := platform.LocalListener{}.Listen(ctx, joinCfg.Listen)
	if err != nil {
		return fmt.Errorf("listen for game client: %w", err)
	}

	logger.Info("joined game",
		slog.String("game_id", joinCfg.GameID.String()),
		slog.String("connection_id", joined.ConnectionID.String()),
		slog.String("listen_addr", l.Addr().String()),
	)

	if err := peer.AcceptAndLink(ctx, l); err != nil {
		return fmt.Errorf("accept and link: %w", err)
	}

	return nil
}
