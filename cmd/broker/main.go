package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dmksnnk/gamebroker/internal/api"
	"github.com/dmksnnk/gamebroker/internal/broker"
	"github.com/dmksnnk/gamebroker/internal/cert"
	http3platform "github.com/dmksnnk/gamebroker/internal/platform/http3"
	"github.com/dmksnnk/gamebroker/internal/platform/httpplatform"
	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/dmksnnk/gamebroker/internal/proxy"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, close := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer close()

	cfg := parseConfig()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	logger.DebugContext(ctx, "load config",
		slog.Any("proxy", cfg.Proxy),
		slog.Any("api", cfg.API),
		slog.Any("cert", cfg.Cert),
	)

	eg, ctx := errgroup.WithContext(ctx)

	tlsConf, acmeMgr := newTLSConfig(cfg.Cert)

	quicConf := &quic.Config{
		KeepAlivePeriod: cfg.Proxy.KeepAlive,
		MaxIdleTimeout:  cfg.Proxy.IdleTimeout,
	}

	registry := broker.NewRegistry(broker.RegistryConfig{
		PendingTTL: cfg.Proxy.PendingTTL,
		Logger:     logger,
	})
	registry.OnGameClosed(func(id uuid.UUID, cause error) {
		logger.Info("game removed", slog.String("game_id", id.String()), slog.Any("cause", cause))
	})

	brk := broker.New(registry, broker.Config{
		HandshakeTimeout: cfg.Proxy.HandshakeTimeout,
		Proxy: proxy.Config{
			RegisterQueue: cfg.Proxy.RegisterQueue,
			Logger:        logger,
		},
		Logger: logger,
	})

	proxyTLSConf := tlsConf.Clone()
	proxyTLSConf.NextProtos = []string{protocol.NextProto}
	ln, err := quic.ListenAddr(cfg.Proxy.Listen, proxyTLSConf, quicConf)
	if err != nil {
		abort("listen proxy", err)
	}

	router := api.NewRouter(api.New(registry, logger), []byte(cfg.Secret))
	addHealthCheck(router)
	handler := httpplatform.Wrap(
		router,
		httpplatform.LogRequests(logger.With(slog.String("component", "api"))),
		httpplatform.AllowHosts(cfg.Cert.Domains),
	)
	apiSrv := api.NewServer(cfg.API.Listen, handler, tlsConf, quicConf)

	eg.Go(func() error {
		if err := brk.Serve(ctx, ln); err != nil {
			return fmt.Errorf("serve proxy: %w", err)
		}

		return nil
	})

	eg.Go(func() error {
		if err := apiSrv.ListenAndServe(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}

			return fmt.Errorf("listen and serve HTTP/3: %w", err)
		}

		return nil
	})

	eg.Go(func() error {
		evictEnded(ctx, registry, cfg.Proxy.EvictInterval)
		return nil
	})

	var httpSrv *http.Server
	if acmeMgr != nil {
		apiPort, err := listenPort(cfg.API.Listen)
		if err != nil {
			abort("parse API listen address", err)
		}

		httpSrv = &http.Server{
			Addr: cfg.HTTP.Listen,
			Handler: acmeMgr.HTTPHandler(httpplatform.Wrap(
				httpplatform.RedirectHTTPS(cfg.API.Listen),
				httpplatform.LogRequests(logger.With(slog.String("component", "redirect_https"))),
				httpplatform.AllowHosts(cfg.Cert.Domains),
				http3platform.AdvertiseHTTP3(apiPort),
			)),
		}

		eg.Go(func() error {
			if err := httpSrv.ListenAndServe(); err != nil {
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}

				return fmt.Errorf("listen and serve HTTP: %w", err)
			}

			return nil
		})
	}

	logger.Info("listening",
		slog.Group("address",
			slog.String("proxy", cfg.Proxy.Listen),
			slog.String("api", cfg.API.Listen),
		),
	)

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ln.Close(); err != nil {
		logger.Error("close proxy listener", "error", err)
	}
	brk.Wait()

	if err := registry.Close(); err != nil {
		logger.Error("close games", "error", err)
	}

	if err := apiSrv.Close(); err != nil {
		logger.Error("shutdown HTTP/3 server", "error", err)
	}

	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown HTTP server", "error", err)
		}
	}

	if err := eg.Wait(); err != nil {
		logger.Error("shutdown", "error", err)
		os.Exit(1)
	}
}

// evictEnded periodically removes ended games from the registry.
func evictEnded(ctx context.Context, registry *broker.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.ListGames()
		}
	}
}

func newTLSConfig(cfg certConfig) (*tls.Config, *autocert.Manager) {
	if cfg.SelfSigned {
		tlsConf, err := selfSigned(cfg)
		if err != nil {
			abort("create self signed cert", err)
		}

		return tlsConf, nil
	}

	mgr := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      autocert.DirCache(cfg.Dir),
		HostPolicy: autocert.HostWhitelist(cfg.Domains...),
	}
	return mgr.TLSConfig(), mgr
}

func selfSigned(cfg certConfig) (*tls.Config, error) {
	ca, srvCert, err := cert.SelfSigned(cfg.Domains, nil)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create certificate dir: %w", err)
	}

	if err := cert.WriteCACert(filepath.Join(cfg.Dir, "ca.crt"), ca); err != nil {
		return nil, fmt.Errorf("write CA certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{srvCert},
	}, nil
}

func listenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(port)
}

func addHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/-/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func abort(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
