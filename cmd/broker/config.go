package main

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type config struct {
	SecretFromFile string     `env:"SECRET_FILE,file"` // if set, takes precedence over Secret
	Secret         string     `env:"SECRET"`
	LogLevel       slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	Proxy          proxyConfig
	API            apiConfig
	HTTP           httpConfig
	Cert           certConfig
}

type proxyConfig struct {
	// Listen is the UDP listen address for host and player connections.
	Listen string `env:"PROXY_LISTEN" envDefault:":7777"`
	// KeepAlive is the keep-alive period of QUIC connections.
	KeepAlive time.Duration `env:"KEEP_ALIVE" envDefault:"1s"`
	// IdleTimeout closes QUIC connections silent for this long.
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"5s"`
	// HandshakeTimeout bounds waiting for a secret on a new connection.
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	// PendingTTL removes created games whose host did not connect in time. Zero disables it.
	PendingTTL time.Duration `env:"PENDING_TTL" envDefault:"0s"`
	// RegisterQueue is the number of players waiting to be announced to a host.
	RegisterQueue int `env:"REGISTER_QUEUE" envDefault:"4"`
	// EvictInterval is how often ended games are removed.
	EvictInterval time.Duration `env:"EVICT_INTERVAL" envDefault:"30s"`
}

type apiConfig struct {
	// Listen is the UDP listen address for the HTTP/3 API.
	Listen string `env:"API_LISTEN" envDefault:":7443"`
}

type httpConfig struct {
	// Listen is the listen address for ACME challenges and redirects to the API.
	// Used only with ACME certificates.
	Listen string `env:"HTTP_LISTEN" envDefault:":80"`
}

type certConfig struct {
	// SelfSigned indicates whether to use a self-signed certificate.
	SelfSigned bool `env:"CERT_SELF_SIGNED" envDefault:"false"`
	// Dir to store certificates.
	Dir string `env:"CERT_DIR" envDefault:"certs"`
	// Domains to request or generate certificates for.
	Domains []string `env:"CERT_DOMAINS" envDefault:"localhost"`
}

func parseConfig() config {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		abort("parse config", err)
	}
	cfg.SecretFromFile = strings.TrimSpace(cfg.SecretFromFile) // to remove trailing newlines
	cfg.Secret = strings.TrimSpace(cfg.Secret)                 // to remove trailing newlines
	if cfg.SecretFromFile == "" && cfg.Secret == "" {
		abort("secret is required", errors.New("either SECRET_FILE or SECRET environment variable must be set"))
	}
	if cfg.SecretFromFile != "" {
		cfg.Secret = cfg.SecretFromFile
	}

	return cfg
}
