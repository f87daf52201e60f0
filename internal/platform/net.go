package platform

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialTimeout bounds dialing the local game server.
const DialTimeout = 5 * time.Second

// LocalListener listens for local game clients.
type LocalListener struct {
	ListenConfig net.ListenConfig
}

// Listen listens on TCP address addr.
// An address without a host listens on loopback only.
func (l LocalListener) Listen(ctx context.Context, addr string) (net.Listener, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse listen address: %w", err)
	}
	if host == "" {
		host = "127.0.0.1"
	}

	ln, err := l.ListenConfig.Listen(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("listen TCP: %w", err)
	}

	return ln, nil
}

// LocalDialer dials the local game server.
type LocalDialer struct {
	Dialer net.Dialer
}

func (d *LocalDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := d.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial TCP: %w", err)
	}

	return conn, nil
}
