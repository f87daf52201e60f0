package proxy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmksnnk/gamebroker/internal/errcode"
	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
)

type client struct {
	playerID uuid.UUID
	connID   uuid.UUID
	conn     *quic.Conn
}

// addClient announces the client to the host and starts serving its streams.
func (p *Proxy) addClient(ctx context.Context, c *client) {
	logger := p.logger.With(slog.String("connection_id", c.connID.String()))

	if !p.clients.PutNew(c.connID, c) {
		logger.Warn("duplicate connection id")
		c.conn.CloseWithError(errcode.Unmatched, "duplicate connection")
		return
	}

	// teardown may have already emptied the registry
	if ctx.Err() != nil {
		p.clients.Delete(c.connID, context.Cause(ctx))
		c.conn.CloseWithError(errcode.HostGone, "host gone")
		return
	}

	msg := protocol.NewClient{PlayerID: c.playerID, ConnectionID: c.connID}
	if err := p.notifyHost(ctx, msg); err != nil {
		logger.Debug("failed to announce client to host", slog.Any("error", err))
		p.clients.Delete(c.connID, err)
		c.conn.CloseWithError(errcode.HostUnavailable, "host unavailable")
		return
	}

	logger.Debug("client connected", slog.String("player_id", c.playerID.String()))
	p.sup.Go(local, "client", func(ctx context.Context) error {
		return p.serveClient(ctx, c)
	})
}

func (p *Proxy) serveClient(ctx context.Context, c *client) error {
	for {
		str, err := c.conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil // teardown closes the client
			}
			p.depart(c)
			if errcode.IsConnClosed(err) {
				return nil
			}
			return fmt.Errorf("accept client stream: %w", err)
		}

		p.sup.Go(local, "client stream", func(ctx context.Context) error {
			return p.forwardClientStream(ctx, c, str)
		})
	}
}

func (p *Proxy) forwardClientStream(ctx context.Context, c *client, str *quic.Stream) error {
	hostStr, err := p.host.OpenStreamSync(ctx)
	if err != nil {
		cancelStream(str, errcode.InternalError)
		return fmt.Errorf("open host stream: %w", err)
	}

	if err := protocol.WriteMessage(hostStr, protocol.ProxiedStream{ConnectionID: c.connID}); err != nil {
		cancelStream(str, errcode.InternalError)
		cancelStream(hostStr, errcode.InternalError)
		return fmt.Errorf("write host stream header: %w", err)
	}

	return p.pairStreams(c.connID.String(), str, hostStr)
}

// depart removes the client and tells the host about it.
// Notifying is best effort.
func (p *Proxy) depart(c *client) {
	if _, ok := p.clients.Delete(c.connID, errClientDeparted); !ok {
		return // removed by teardown
	}
	c.conn.CloseWithError(errcode.Exit, "client departed")

	if p.sup.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(p.sup.ctx, notifyTimeout)
	defer cancel()

	if err := p.notifyHost(ctx, protocol.ClientDisconnected{ConnectionID: c.connID}); err != nil {
		p.logger.Debug("failed to notify host about disconnected client",
			slog.String("connection_id", c.connID.String()),
			slog.Any("error", err),
		)
	}
}

// notifyHost sends a single control message on a fresh host stream.
func (p *Proxy) notifyHost(ctx context.Context, msg protocol.Message) error {
	str, err := p.host.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open host stream: %w", err)
	}

	if err := protocol.WriteMessage(str, msg); err != nil {
		cancelStream(str, errcode.InternalError)
		return fmt.Errorf("write %s: %w", msg.Kind(), err)
	}

	// the host has nothing to say back on a notification stream
	str.CancelRead(errcode.Cancelled)

	return str.Close()
}
