package forwarder

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dmksnnk/gamebroker/internal/errcode"
	"github.com/dmksnnk/gamebroker/internal/platform"
	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/google/uuid"
	"github.com/jpillora/sizestr"
	"github.com/quic-go/quic-go"
)

const headerTimeout = 10 * time.Second

var errClientDisconnected = errors.New("client disconnected")

type HostConfig struct {
	// Logger specifies an optional logger.
	// If nil, [slog.Default] will be used.
	Logger *slog.Logger
	// TLS config for connecting to the broker.
	// For tests it should trust the broker's cert.
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
	// ErrHandlers are called when an error occurs when handling links.
	ErrHandlers []func(error)
}

// Connect connects to the broker as the host of the game created with the secret.
func (h HostConfig) Connect(ctx context.Context, brokerAddr string, secret protocol.Secret) (*Host, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dialBroker(ctx, brokerAddr, h.TLSConfig, h.QUICConfig, secret)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &Host{
		conn:        conn,
		clients:     platform.NewMap[uuid.UUID, *gameConns](),
		dialer:      platform.LocalDialer{Dialer: net.Dialer{Timeout: platform.DialTimeout}},
		logger:      logger.With(slog.String("role", "host")),
		errHandlers: h.ErrHandlers,
	}, nil
}

// Host forwards streams of remote players to the local game server.
type Host struct {
	conn    *quic.Conn
	clients *platform.Map[uuid.UUID, *gameConns]
	dialer  platform.LocalDialer
	wg      sync.WaitGroup

	logger      *slog.Logger
	errHandlers []func(error)
}

// AcceptAndLink accepts streams from the broker and links each of them
// with a new connection to the local TCP game server.
// Returns nil when the host is closed.
func (h *Host) AcceptAndLink(ctx context.Context, gameAddr string) error {
	for {
		str, err := h.conn.AcceptStream(ctx)
		if err != nil {
			if errcode.IsLocalQUICConnClosed(err, errcode.Exit) || errors.Is(err, context.Canceled) {
				return nil
			}

			return fmt.Errorf("accept stream: %w", err)
		}

		// control messages are handled in order, so a client is known before its streams
		msg, err := readHeader(str)
		if err != nil {
			str.CancelRead(errcode.ProtocolViolation)
			str.CancelWrite(errcode.ProtocolViolation)
			h.handleError(fmt.Errorf("read stream header: %w", err))
			continue
		}

		switch msg := msg.(type) {
		case protocol.NewClient:
			closeControlStream(str)
			h.clients.PutNew(msg.ConnectionID, &gameConns{})
			h.logger.Debug("client connected",
				slog.String("connection_id", msg.ConnectionID.String()),
				slog.String("player_id", msg.PlayerID.String()),
			)
		case protocol.ClientDisconnected:
			closeControlStream(str)
			if conns, ok := h.clients.Delete(msg.ConnectionID, errClientDisconnected); ok {
				conns.closeAll()
			}
			h.logger.Debug("client disconnected", slog.String("connection_id", msg.ConnectionID.String()))
		case protocol.ProxiedStream:
			conns, ok := h.clients.Get(msg.ConnectionID)
			if !ok {
				str.CancelRead(errcode.UnknownConnection)
				str.CancelWrite(errcode.UnknownConnection)
				continue
			}

			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.linkGame(ctx, msg.ConnectionID, conns, str, gameAddr)
			}()
		}
	}
}

func (h *Host) linkGame(ctx context.Context, connID uuid.UUID, conns *gameConns, str *quic.Stream, gameAddr string) {
	logger := h.logger.With(slog.String("connection_id", connID.String()))

	gameConn, err := h.dialer.Dial(ctx, gameAddr)
	if err != nil {
		str.CancelRead(errcode.InternalError)
		str.CancelWrite(errcode.InternalError)
		h.handleError(fmt.Errorf("dial game: %w", err))
		return
	}

	if !conns.add(gameConn) {
		gameConn.Close()
		str.CancelRead(errcode.Cancelled)
		str.CancelWrite(errcode.Cancelled)
		return
	}
	defer conns.remove(gameConn)

	sent, received, err := link(gameConn, str)
	logger.Debug("link finished",
		slog.String("sent", sizestr.ToString(sent)),
		slog.String("received", sizestr.ToString(received)),
	)
	if err != nil {
		h.handleError(fmt.Errorf("link game: %w", err))
	}
}

// Clients returns connection ids of the connected clients.
func (h *Host) Clients() []uuid.UUID {
	return h.clients.Keys()
}

// Close disconnects from the broker and closes all game connections.
func (h *Host) Close() error {
	err := h.conn.CloseWithError(errcode.Exit, "host closed")

	for _, conns := range h.clients.DeleteAll(net.ErrClosed) {
		conns.closeAll()
	}

	h.wg.Wait()

	return err
}

func (h *Host) handleError(err error) {
	h.logger.Debug("forwarding error", slog.Any("error", err))
	for _, handler := range h.errHandlers {
		handler(err)
	}
}

func readHeader(str *quic.Stream) (protocol.Message, error) {
	str.SetReadDeadline(time.Now().Add(headerTimeout))
	defer str.SetReadDeadline(time.Time{})

	return protocol.ReadMessage(str)
}

// closeControlStream releases a stream that carried only a control message.
func closeControlStream(str *quic.Stream) {
	str.CancelRead(errcode.Cancelled)
	str.Close()
}

// gameConns are local game connections opened for one client.
type gameConns struct {
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

func (g *gameConns) add(conn net.Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	if g.conns == nil {
		g.conns = make(map[net.Conn]struct{})
	}
	g.conns[conn] = struct{}{}

	return true
}

func (g *gameConns) remove(conn net.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.conns, conn)
}

func (g *gameConns) closeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	for conn := range g.conns {
		conn.Close()
	}
}
