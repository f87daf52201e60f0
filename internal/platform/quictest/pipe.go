// Package quictest provides real QUIC connections on localhost for tests.
package quictest

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/dmksnnk/gamebroker/internal/cert"
	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"
)

// Config returns a QUIC config with short keep-alive and idle timeouts,
// so lost peers are noticed quickly in tests.
func Config() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 200 * time.Millisecond,
		MaxIdleTimeout:  2 * time.Second,
	}
}

// Listener is a QUIC listener on localhost with a self-signed certificate.
type Listener struct {
	*quic.Listener
	clientTLSConf *tls.Config
}

// Listen starts a QUIC listener on localhost.
// It is closed on test cleanup.
func Listen(t *testing.T) *Listener {
	t.Helper()

	ca, srvCert, err := cert.SelfSigned(nil, []net.IP{net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal("create self-signed cert:", err)
	}

	serverTLSConf := &tls.Config{
		Certificates: []tls.Certificate{srvCert},
		NextProtos:   []string{protocol.NextProto},
	}

	ln, err := quic.Listen(NewLocalUDPConn(t), serverTLSConf, Config())
	if err != nil {
		t.Fatal("listen quic:", err)
	}
	t.Cleanup(func() {
		if err := ln.Close(); err != nil {
			t.Errorf("close QUIC listener: %s", err)
		}
	})

	return &Listener{
		Listener:      ln,
		clientTLSConf: cert.ClientTLSConfig(ca, protocol.NextProto),
	}
}

// TLSConfig returns a client TLS config trusting the listener.
func (l *Listener) TLSConfig() *tls.Config {
	return l.clientTLSConf.Clone()
}

// Dial connects to the listener.
// The connection is closed on test cleanup.
func (l *Listener) Dial(t *testing.T) *quic.Conn {
	t.Helper()

	return l.DialConfig(t, Config())
}

// DialConfig is like Dial, but with the given QUIC config for the dialing side.
func (l *Listener) DialConfig(t *testing.T, conf *quic.Config) *quic.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, err := quic.Dial(ctx, NewLocalUDPConn(t), l.Addr(), l.TLSConfig(), conf)
	if err != nil {
		t.Fatal("dial quic:", err)
	}
	t.Cleanup(func() {
		conn.CloseWithError(0, "test cleanup")
	})

	return conn
}

// Pipe creates a pair of connected QUIC connections for testing.
func Pipe(t *testing.T) (client *quic.Conn, server *quic.Conn) {
	t.Helper()

	return PipeConfig(t, Config())
}

// PipeConfig is like Pipe, but with the given QUIC config for the client side.
func PipeConfig(t *testing.T, conf *quic.Config) (client *quic.Conn, server *quic.Conn) {
	t.Helper()

	ln := Listen(t)

	var srvConn *quic.Conn
	var eg errgroup.Group
	eg.Go(func() error {
		var err error
		srvConn, err = ln.Accept(t.Context())
		return err
	})

	clConn := ln.DialConfig(t, conf)

	if err := eg.Wait(); err != nil {
		t.Fatal("accept quic:", err)
	}
	t.Cleanup(func() {
		srvConn.CloseWithError(0, "test cleanup")
	})

	return clConn, srvConn
}

// NewLocalUDPConn listens on a random UDP port on localhost.
func NewLocalUDPConn(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatal("listen UDP:", err)
	}

	t.Cleanup(func() {
		if err := conn.Close(); err != nil {
			t.Errorf("close local UDP conn: %s", err)
		}
	})

	return conn
}
