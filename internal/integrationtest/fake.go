// Package integrationtest provides fake TCP game servers and clients
// for testing forwarding end to end.
package integrationtest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"

	"golang.org/x/sync/errgroup"
)

// Handle reads newline-terminated requests from a client and writes a response for each.
func Handle(conn net.Conn, handler func(req string) string) error {
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		req, err := r.ReadString('\n')
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		resp := handler(strings.TrimSuffix(req, "\n"))

		if _, err := conn.Write([]byte(resp + "\n")); err != nil {
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("write: %w", err)
		}
	}
}

// isClosed reports whether err means the client has gone.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Server is a TCP game server handling every connection with the same handler.
type Server struct {
	ln net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewTestTCPServer(t *testing.T, handler func(req string) string) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen local TCP: %s", err)
	}

	srv := &Server{
		ln:    ln,
		conns: make(map[net.Conn]struct{}),
	}

	var eg errgroup.Group
	eg.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}

			srv.track(conn)
			eg.Go(func() error {
				defer srv.untrack(conn)
				return Handle(conn, handler)
			})
		}
	})

	t.Cleanup(func() {
		if err := ln.Close(); err != nil {
			t.Errorf("close TCP listener: %s", err)
		}
		srv.closeConns()

		if err := eg.Wait(); err != nil {
			t.Errorf("wait: %s", err)
		}
	})

	return srv
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Conns returns the number of open client connections.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		conn.Close()
	}
}

// Call sends a message to a server and returns the response.
func Call(conn net.Conn, msg string) (string, error) {
	if _, err := conn.Write([]byte(msg + "\n")); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}

	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}

	return strings.TrimSuffix(resp, "\n"), nil
}

type Client struct {
	Conn net.Conn
}

func NewTestTCPClient(t *testing.T, addr string) *Client {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial local TCP: %s", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return &Client{Conn: conn}
}

func (c *Client) Call(msg string) (string, error) {
	return Call(c.Conn, msg)
}
