// Package http3test runs HTTP/3 servers on localhost for tests.
package http3test

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/dmksnnk/gamebroker/internal/cert"
	http3platform "github.com/dmksnnk/gamebroker/internal/platform/http3"
	"github.com/dmksnnk/gamebroker/internal/platform/quictest"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	clientTLSConf *tls.Config
	conn          net.PacketConn
}

// NewTestServer creates a new test server with the given handler.
// It has a self-signed CA and a server certificate.
// It closes itself on test cleanup.
func NewTestServer(t *testing.T, handler http.Handler) *Server {
	t.Helper()

	ca, srvCert, err := cert.SelfSigned(nil, []net.IP{net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal("create self-signed cert:", err)
	}

	srv := &http3.Server{
		Handler: handler,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{srvCert},
			NextProtos:   []string{http3.NextProtoH3},
		},
		QUICConfig: quictest.Config(),
	}

	conn := quictest.NewLocalUDPConn(t)

	var eg errgroup.Group
	eg.Go(func() error {
		return srv.Serve(conn)
	})

	t.Cleanup(func() {
		if err := srv.Shutdown(context.TODO()); err != nil {
			t.Error("shutdown server:", err)
		}

		if err := eg.Wait(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				t.Error("server:", err)
			}
		}
	})

	return &Server{
		clientTLSConf: cert.ClientTLSConfig(ca, http3.NextProtoH3),
		conn:          conn,
	}
}

// Dialer returns a new HTTP/3 dialer trusting the server's CA.
func (s *Server) Dialer() *http3platform.HTTP3Dialer {
	return &http3platform.HTTP3Dialer{
		TLSConfig:  s.clientTLSConf.Clone(),
		QUICConfig: quictest.Config(),
	}
}

// Addr returns the server's address.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}
