// Package broker matches incoming QUIC connections to games by the secret
// they present and hands them to the game's proxy.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmksnnk/gamebroker/internal/errcode"
	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/dmksnnk/gamebroker/internal/proxy"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
)

const defaultHandshakeTimeout = 10 * time.Second

// Config configures a broker.
type Config struct {
	// HandshakeTimeout bounds waiting for the secret on a new connection.
	// Default is 10 seconds.
	HandshakeTimeout time.Duration
	// Proxy configures proxies of started games.
	Proxy  proxy.Config
	Logger *slog.Logger
}

// Broker accepts host and player connections.
type Broker struct {
	registry         *Registry
	handshakeTimeout time.Duration
	proxyConf        proxy.Config

	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a broker serving games from the registry.
func New(registry *Registry, conf Config) *Broker {
	if conf.HandshakeTimeout <= 0 {
		conf.HandshakeTimeout = defaultHandshakeTimeout
	}
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}
	if conf.Proxy.Logger == nil {
		conf.Proxy.Logger = conf.Logger
	}

	return &Broker{
		registry:         registry,
		handshakeTimeout: conf.HandshakeTimeout,
		proxyConf:        conf.Proxy,
		logger:           conf.Logger.With(slog.String("component", "broker")),
	}
}

// Serve accepts connections on the listener until the context is cancelled
// or the listener is closed. Every connection is handled in its own goroutine.
func (b *Broker) Serve(ctx context.Context, ln *quic.Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("accept connection: %w", err)
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handle(ctx, conn)
		}()
	}
}

// Wait waits for in-flight handshakes to finish.
func (b *Broker) Wait() {
	b.wg.Wait()
}

func (b *Broker) handle(ctx context.Context, conn *quic.Conn) {
	logger := b.logger.With(slog.String("remote_addr", conn.RemoteAddr().String()))

	str, secret, err := b.handshake(ctx, conn)
	if err != nil {
		logger.Debug("handshake failed", slog.Any("error", err))
		conn.CloseWithError(errcode.HandshakeFailed, "handshake failed")
		return
	}

	if !secret.IsZero() {
		if pg, ok := b.registry.takePending(secret); ok {
			b.startGame(logger, pg, conn, str)
			return
		}

		if g, slot, ok := b.registry.takeSlot(secret); ok {
			b.joinGame(logger, g, slot, conn, str)
			return
		}
	}

	logger.Warn("unmatched secret")
	conn.CloseWithError(errcode.Unmatched, "unknown secret")
}

// handshake reads the secret from the first stream the peer opens.
func (b *Broker) handshake(ctx context.Context, conn *quic.Conn) (*quic.Stream, protocol.Secret, error) {
	ctx, cancel := context.WithTimeout(ctx, b.handshakeTimeout)
	defer cancel()

	str, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, protocol.Secret{}, fmt.Errorf("accept handshake stream: %w", err)
	}

	deadline, _ := ctx.Deadline()
	if err := str.SetReadDeadline(deadline); err != nil {
		return nil, protocol.Secret{}, fmt.Errorf("set read deadline: %w", err)
	}

	secret, err := protocol.ReadSecret(str)
	if err != nil {
		str.CancelRead(errcode.ProtocolViolation)
		return nil, protocol.Secret{}, fmt.Errorf("read secret: %w", err)
	}

	return str, secret, nil
}

func (b *Broker) startGame(logger *slog.Logger, pg PendingGame, conn *quic.Conn, handshake *quic.Stream) {
	g := &Game{
		ID:     uuid.New(),
		HostID: pg.HostID,
	}
	g.proxy = proxy.New(g.ID, conn, b.proxyConf)

	if !b.registry.addGame(g) {
		g.proxy.Close()
		return
	}

	acceptHandshake(handshake)
	logger.Info("game started", slog.String("game_id", g.ID.String()), slog.String("host_id", g.HostID.String()))
}

func (b *Broker) joinGame(logger *slog.Logger, g *Game, slot Slot, conn *quic.Conn, handshake *quic.Stream) {
	logger = logger.With(
		slog.String("game_id", g.ID.String()),
		slog.String("connection_id", slot.ConnectionID.String()),
	)

	err := g.proxy.Register(slot.PlayerID, slot.ConnectionID, conn)
	switch {
	case err == nil:
		acceptHandshake(handshake)
		logger.Debug("player joined", slog.String("player_id", slot.PlayerID.String()))
	case errors.Is(err, proxy.ErrBusy):
		logger.Warn("game is busy")
		conn.CloseWithError(errcode.Busy, "game busy")
	default:
		logger.Debug("game ended", slog.Any("error", err))
		conn.CloseWithError(errcode.HostGone, "host gone")
	}
}

// acceptHandshake finishes the handshake stream.
// The peer sees end of stream instead of a closed connection.
func acceptHandshake(str *quic.Stream) {
	str.CancelRead(errcode.Cancelled)
	str.Close()
}
