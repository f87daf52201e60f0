package forwarder

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/dmksnnk/gamebroker/internal/errcode"
	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/jpillora/sizestr"
	"github.com/quic-go/quic-go"
)

type PeerConfig struct {
	Logger *slog.Logger
	// TLS config for connecting to the broker, should trust the broker's cert.
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

// Connect connects to the broker as a player with the secret of a joined game.
func (p PeerConfig) Connect(ctx context.Context, brokerAddr string, secret protocol.Secret) (*Peer, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dialBroker(ctx, brokerAddr, p.TLSConfig, p.QUICConfig, secret)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	peer := &Peer{
		conn:   conn,
		logger: logger.With(slog.String("role", "peer")),
	}

	peer.wg.Add(1)
	go func() {
		defer peer.wg.Done()
		peer.rejectStreams()
	}()

	return peer, nil
}

// Peer forwards local game connections to the game host through the broker.
type Peer struct {
	conn   *quic.Conn
	wg     sync.WaitGroup
	logger *slog.Logger
}

// AcceptAndLink accepts local game connections and links each of them with a new stream to the host.
// It returns when the context is cancelled, the listener is closed or the connection to the broker ends.
func (p *Peer) AcceptAndLink(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	stopOnDisconnect := context.AfterFunc(p.conn.Context(), func() { l.Close() })
	defer stopOnDisconnect()

	for {
		gameConn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				if cause := context.Cause(p.conn.Context()); cause != nil && !errcode.IsLocalQUICConnClosed(cause, errcode.Exit) {
					return fmt.Errorf("broker connection closed: %w", cause)
				}
				return nil
			}

			return fmt.Errorf("accept game connection: %w", err)
		}

		p.logger.Debug("accepted game connection", slog.String("addr", gameConn.RemoteAddr().String()))

		str, err := p.conn.OpenStreamSync(ctx)
		if err != nil {
			gameConn.Close()
			return fmt.Errorf("open stream: %w", err)
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()

			sent, received, err := link(gameConn, str)
			p.logger.Debug("link finished",
				slog.String("sent", sizestr.ToString(sent)),
				slog.String("received", sizestr.ToString(received)),
				slog.Any("error", err),
			)
		}()
	}
}

// Close disconnects from the broker and waits for all links to finish.
func (p *Peer) Close() error {
	err := p.conn.CloseWithError(errcode.Exit, "peer exited")
	p.wg.Wait()
	return err
}

// rejectStreams refuses streams opened by the host: local game clients only dial out.
func (p *Peer) rejectStreams() {
	for {
		str, err := p.conn.AcceptStream(context.Background())
		if err != nil {
			return
		}

		str.CancelRead(errcode.Cancelled)
		str.CancelWrite(errcode.Cancelled)
	}
}
