package forwarder

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"

	"github.com/dmksnnk/gamebroker/internal/errcode"
	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/quic-go/quic-go"
)

// dialBroker connects to the broker and presents the secret.
// It returns after the broker has accepted the secret.
func dialBroker(ctx context.Context, addr string, tlsConf *tls.Config, quicConf *quic.Config, secret protocol.Secret) (*quic.Conn, error) {
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{protocol.NextProto}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("dial QUIC: %w", err)
	}

	if err := handshake(ctx, conn, secret); err != nil {
		conn.CloseWithError(errcode.HandshakeFailed, "handshake failed")
		return nil, err
	}

	return conn, nil
}

func handshake(ctx context.Context, conn *quic.Conn, secret protocol.Secret) error {
	str, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open handshake stream: %w", err)
	}

	if err := protocol.WriteSecret(str, secret); err != nil {
		return fmt.Errorf("write secret: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		str.SetReadDeadline(deadline)
	}

	// the broker ends the stream when it accepts the secret, or closes the connection
	if _, err := io.Copy(io.Discard, str); err != nil {
		return fmt.Errorf("wait for handshake: %w", err)
	}

	return nil
}
