package http3

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// HTTP3Dialer dials HTTP/3 connections.
type HTTP3Dialer struct {
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

// Dial creates a new HTTP/3 connection to the given address.
// It returns after the server's SETTINGS are received.
func (d *HTTP3Dialer) Dial(ctx context.Context, addr string) (*http3.ClientConn, error) {
	tlsConf := d.TLSConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{http3.NextProtoH3}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, d.QUICConfig)
	if err != nil {
		return nil, fmt.Errorf("dial QUIC: %w", err)
	}
	// conn will be closed by clientConn
	tr := &http3.Transport{}
	clientConn := tr.NewClientConn(conn)
	select {
	case <-clientConn.ReceivedSettings():
	case <-clientConn.Context().Done():
		// connection closed
		return nil, context.Cause(clientConn.Context())
	case <-ctx.Done():
		conn.CloseWithError(0, "dial cancelled")
		return nil, ctx.Err()
	}

	return clientConn, nil
}
