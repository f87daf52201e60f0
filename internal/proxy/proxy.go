// Package proxy implements a per-game proxy between one game host
// and the players connected to it.
//
// The host and every client talk to the proxy over their own QUIC connection.
// Every client stream is forwarded to a fresh host stream tagged with
// the client's connection id, and vice versa. Payload bytes are never interpreted.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmksnnk/gamebroker/internal/errcode"
	"github.com/dmksnnk/gamebroker/internal/platform"
	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
)

var (
	// ErrBusy is returned when the proxy cannot take a new client right now.
	ErrBusy = errors.New("proxy busy")
	// ErrClosed is returned when the proxy has been closed.
	ErrClosed = errors.New("proxy closed")
	// ErrHostGone is the closing cause when the host connection ends.
	ErrHostGone = errors.New("host gone")

	errProtocolViolation = errors.New("protocol violation")
	errClientDeparted    = errors.New("client departed")
)

const (
	defaultRegisterQueue = 4
	defaultHeaderTimeout = 10 * time.Second
	notifyTimeout        = 5 * time.Second
)

// Config configures a proxy.
type Config struct {
	// RegisterQueue is the number of clients waiting to be announced to the host.
	// Registering more returns ErrBusy. Default is 4.
	RegisterQueue int
	// HeaderTimeout bounds reading the control frame of a host-opened stream.
	// Default is 10 seconds.
	HeaderTimeout time.Duration
	Logger        *slog.Logger
}

// Proxy forwards streams between a game host and its clients.
type Proxy struct {
	host          *quic.Conn
	clients       *platform.Map[uuid.UUID, *client]
	headerTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	register chan *client

	sup    *supervisor
	logger *slog.Logger
}

// New starts a proxy for the game hosted on the host connection.
// The proxy runs until the host connection ends or it is closed.
func New(gameID uuid.UUID, host *quic.Conn, conf Config) *Proxy {
	if conf.RegisterQueue <= 0 {
		conf.RegisterQueue = defaultRegisterQueue
	}
	if conf.HeaderTimeout <= 0 {
		conf.HeaderTimeout = defaultHeaderTimeout
	}
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}

	p := &Proxy{
		host:          host,
		clients:       platform.NewMap[uuid.UUID, *client](),
		headerTimeout: conf.HeaderTimeout,
		register:      make(chan *client, conf.RegisterQueue),
		logger: conf.Logger.With(
			slog.String("component", "proxy"),
			slog.String("game_id", gameID.String()),
		),
	}
	p.clients.NotifyAdd(func(id uuid.UUID, c *client) {
		p.logger.Debug("client added",
			slog.String("connection_id", id.String()),
			slog.String("player_id", c.playerID.String()),
		)
	})
	p.clients.NotifyDelete(func(id uuid.UUID, _ *client, reason error) {
		p.logger.Debug("client removed", slog.String("connection_id", id.String()), slog.Any("reason", reason))
	})
	p.sup = newSupervisor(host.Context(), p.logger, p.teardown)

	p.sup.Go(fatal, "host", p.serveHost)
	p.sup.Go(local, "dispatcher", p.dispatch)

	return p
}

// Register queues a new client connection to be announced to the host.
// It never blocks: if the queue is full, it returns ErrBusy.
// On error the caller still owns the connection.
func (p *Proxy) Register(playerID, connID uuid.UUID, conn *quic.Conn) error {
	c := &client{
		playerID: playerID,
		connID:   connID,
		conn:     conn,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.register <- c:
		return nil
	default:
		return ErrBusy
	}
}

// Clients returns connection ids of the currently connected clients.
func (p *Proxy) Clients() []uuid.UUID {
	return p.clients.Keys()
}

// Done is closed when the proxy has finished and all its clients are disconnected.
func (p *Proxy) Done() <-chan struct{} {
	return p.sup.Done()
}

// Closed reports whether the proxy has finished.
func (p *Proxy) Closed() bool {
	select {
	case <-p.sup.Done():
		return true
	default:
		return false
	}
}

// Err returns the reason the proxy has finished, or nil if it is still running.
func (p *Proxy) Err() error {
	return p.sup.Err()
}

// Close closes the host and all client connections and waits for all proxy tasks to return.
func (p *Proxy) Close() error {
	p.sup.fail(ErrClosed)
	p.sup.Wait()
	return nil
}

// Wait waits for all proxy tasks to return.
func (p *Proxy) Wait() {
	p.sup.Wait()
}

func (p *Proxy) serveHost(ctx context.Context) error {
	for {
		str, err := p.host.AcceptStream(ctx)
		if err != nil {
			return fmt.Errorf("%w: accept stream: %w", ErrHostGone, err)
		}

		p.sup.Go(local, "host stream", func(ctx context.Context) error {
			return p.handleHostStream(ctx, str)
		})
	}
}

func (p *Proxy) handleHostStream(ctx context.Context, str *quic.Stream) error {
	msg, err := p.readHeader(str)
	if err != nil {
		cancelStream(str, errcode.ProtocolViolation)
		return fmt.Errorf("%w: read host stream header: %w", errProtocolViolation, err)
	}

	proxied, ok := msg.(protocol.ProxiedStream)
	if !ok {
		cancelStream(str, errcode.ProtocolViolation)
		return fmt.Errorf("%w: unexpected message from host: %s", errProtocolViolation, msg.Kind())
	}

	c, ok := p.clients.Get(proxied.ConnectionID)
	if !ok {
		cancelStream(str, errcode.UnknownConnection)
		p.logger.Debug("host stream for unknown connection", slog.String("connection_id", proxied.ConnectionID.String()))
		return nil
	}

	clientStr, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		cancelStream(str, errcode.InternalError)
		return fmt.Errorf("open client stream: %w", err)
	}

	if err := protocol.WriteMessage(clientStr, proxied); err != nil {
		cancelStream(str, errcode.InternalError)
		cancelStream(clientStr, errcode.InternalError)
		return fmt.Errorf("write client stream header: %w", err)
	}

	return p.pairStreams(c.connID.String(), str, clientStr)
}

func (p *Proxy) readHeader(str *quic.Stream) (protocol.Message, error) {
	if err := str.SetReadDeadline(time.Now().Add(p.headerTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	msg, err := protocol.ReadMessage(str)
	if err != nil {
		return nil, err
	}

	if err := str.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("reset read deadline: %w", err)
	}

	return msg, nil
}

// dispatch announces registered clients to the host one by one.
func (p *Proxy) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-p.register:
			p.addClient(ctx, c)
		}
	}
}

// teardown runs once, when the host is lost or the proxy is closed.
func (p *Proxy) teardown(cause error) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	code, reason := errcode.HostGone, "host gone"
	if errors.Is(cause, ErrClosed) {
		code, reason = errcode.Shutdown, "broker shutting down"
	}

	for _, c := range p.clients.DeleteAll(cause) {
		c.conn.CloseWithError(code, reason)
	}

	// nothing is sent to the queue once closed
	for {
		select {
		case c := <-p.register:
			c.conn.CloseWithError(code, reason)
		default:
			p.host.CloseWithError(code, reason)
			p.logger.Info("game closed", slog.Any("cause", cause))
			return
		}
	}
}

func cancelStream(str *quic.Stream, code quic.StreamErrorCode) {
	str.CancelRead(code)
	str.CancelWrite(code)
}

func isProtocolViolation(err error) bool {
	return errors.Is(err, errProtocolViolation)
}
