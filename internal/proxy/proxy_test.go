package proxy_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/dmksnnk/gamebroker/internal/errcode"
	"github.com/dmksnnk/gamebroker/internal/platform/quictest"
	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/dmksnnk/gamebroker/internal/proxy"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	exitCode := m.Run()
	if exitCode == 0 {
		if err := goleak.Find(); err != nil {
			fmt.Fprintf(os.Stderr, "goleak: %s", err)
			exitCode = 1
		}
	}

	os.Exit(exitCode)
}

func TestProxyNewClient(t *testing.T) {
	p, host := startProxy(t)

	playerID := uuid.New()
	connID := uuid.New()
	_, clientSrv := quictest.Pipe(t)

	if err := p.Register(playerID, connID, clientSrv); err != nil {
		t.Fatalf("register client: %s", err)
	}

	msg, _ := acceptMessage(t, host)
	want := protocol.NewClient{PlayerID: playerID, ConnectionID: connID}
	if msg != want {
		t.Errorf("unexpected message, want: %+v, got: %+v", want, msg)
	}

	waitFor(t, func() bool { return len(p.Clients()) == 1 })
	if got := p.Clients()[0]; got != connID {
		t.Errorf("unexpected client, want: %s, got: %s", connID, got)
	}
}

func TestProxyClientStream(t *testing.T) {
	p, host := startProxy(t)
	client, connID := connectClient(t, p, host)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	clientStr, err := client.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("open client stream: %s", err)
	}
	if _, err := clientStr.Write([]byte("hello")); err != nil {
		t.Fatalf("write client stream: %s", err)
	}

	msg, hostStr := acceptMessage(t, host)
	if msg != (protocol.ProxiedStream{ConnectionID: connID}) {
		t.Fatalf("unexpected message: %+v", msg)
	}

	assertRead(t, hostStr, "hello")

	if _, err := hostStr.Write([]byte("world")); err != nil {
		t.Fatalf("write host stream: %s", err)
	}

	assertRead(t, clientStr, "world")
}

func TestProxyHostStream(t *testing.T) {
	p, host := startProxy(t)
	client, connID := connectClient(t, p, host)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	hostStr, err := host.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("open host stream: %s", err)
	}
	if err := protocol.WriteMessage(hostStr, protocol.ProxiedStream{ConnectionID: connID}); err != nil {
		t.Fatalf("write header: %s", err)
	}
	if _, err := hostStr.Write([]byte("ping")); err != nil {
		t.Fatalf("write host stream: %s", err)
	}

	clientStr, err := client.AcceptStream(ctx)
	if err != nil {
		t.Fatalf("accept client stream: %s", err)
	}

	msg, err := protocol.ReadMessage(clientStr)
	if err != nil {
		t.Fatalf("read header: %s", err)
	}
	if msg != (protocol.ProxiedStream{ConnectionID: connID}) {
		t.Errorf("unexpected message: %+v", msg)
	}

	assertRead(t, clientStr, "ping")

	if _, err := clientStr.Write([]byte("pong")); err != nil {
		t.Fatalf("write client stream: %s", err)
	}

	assertRead(t, hostStr, "pong")
}

func TestProxyIsolation(t *testing.T) {
	p, host := startProxy(t)

	const (
		clients = 3
		streams = 10
	)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	type peer struct {
		conn   *quic.Conn
		connID uuid.UUID
	}
	peers := make([]peer, clients)
	for i := range peers {
		conn, connID := connectClient(t, p, host)
		peers[i] = peer{conn: conn, connID: connID}
	}

	// host echoes every stream back, prefixed with the connection id it was tagged with
	var hostGroup errgroup.Group
	hostGroup.Go(func() error {
		var echoes errgroup.Group
		for range clients * streams {
			str, err := host.AcceptStream(ctx)
			if err != nil {
				return fmt.Errorf("accept host stream: %w", err)
			}

			echoes.Go(func() error {
				msg, err := protocol.ReadMessage(str)
				if err != nil {
					return fmt.Errorf("read header: %w", err)
				}

				buf := make([]byte, 512)
				if _, err := io.ReadFull(str, buf); err != nil {
					return fmt.Errorf("read payload: %w", err)
				}

				connID := msg.Connection()
				if _, err := str.Write(append(connID[:], buf...)); err != nil {
					return fmt.Errorf("write echo: %w", err)
				}

				return nil
			})
		}

		return echoes.Wait()
	})

	var clientGroup errgroup.Group
	for _, pr := range peers {
		for range streams {
			clientGroup.Go(func() error {
				payload := make([]byte, 512)
				rand.Read(payload)

				str, err := pr.conn.OpenStreamSync(ctx)
				if err != nil {
					return fmt.Errorf("open stream: %w", err)
				}
				defer str.Close()

				if _, err := str.Write(payload); err != nil {
					return fmt.Errorf("write payload: %w", err)
				}

				echo := make([]byte, 16+len(payload))
				if _, err := io.ReadFull(str, echo); err != nil {
					return fmt.Errorf("read echo: %w", err)
				}

				if !bytes.Equal(echo[:16], pr.connID[:]) {
					return fmt.Errorf("stream of %s tagged as %x", pr.connID, echo[:16])
				}
				if !bytes.Equal(echo[16:], payload) {
					return fmt.Errorf("stream of %s: payload mismatch", pr.connID)
				}

				return nil
			})
		}
	}

	if err := clientGroup.Wait(); err != nil {
		t.Error(err)
	}
	if err := hostGroup.Wait(); err != nil {
		t.Error(err)
	}
}

func TestProxyUnknownConnection(t *testing.T) {
	p, host := startProxy(t)

	str := openHostStream(t, host, protocol.ProxiedStream{ConnectionID: uuid.New()})

	_, err := io.ReadAll(str)
	if !errcode.IsRemoteStreamError(err, errcode.UnknownConnection) {
		t.Errorf("expected unknown connection stream error, got: %v", err)
	}

	if p.Closed() {
		t.Error("proxy closed after unknown connection")
	}
}

func TestProxyProtocolViolation(t *testing.T) {
	p, host := startProxy(t)

	str := openHostStream(t, host, protocol.NewClient{PlayerID: uuid.New(), ConnectionID: uuid.New()})

	_, err := io.ReadAll(str)
	if !errcode.IsRemoteStreamError(err, errcode.ProtocolViolation) {
		t.Errorf("expected protocol violation stream error, got: %v", err)
	}

	// other clients are unaffected
	client, connID := connectClient(t, p, host)
	if p.Closed() {
		t.Fatal("proxy closed after protocol violation")
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	clientStr, err := client.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("open client stream: %s", err)
	}
	if _, err := clientStr.Write([]byte("still here")); err != nil {
		t.Fatalf("write client stream: %s", err)
	}

	msg, hostStr := acceptMessage(t, host)
	if msg != (protocol.ProxiedStream{ConnectionID: connID}) {
		t.Fatalf("unexpected message: %+v", msg)
	}
	assertRead(t, hostStr, "still here")
}

func TestProxyClientDisconnected(t *testing.T) {
	p, host := startProxy(t)
	client, connID := connectClient(t, p, host)
	other, _ := connectClient(t, p, host)

	client.CloseWithError(errcode.Exit, "bye")

	msg, _ := acceptMessage(t, host)
	if msg != (protocol.ClientDisconnected{ConnectionID: connID}) {
		t.Errorf("unexpected message: %+v", msg)
	}

	waitFor(t, func() bool { return len(p.Clients()) == 1 })

	if err := other.Context().Err(); err != nil {
		t.Errorf("other client closed: %s", err)
	}
	if p.Closed() {
		t.Error("proxy closed after client left")
	}
}

func TestProxyHostLoss(t *testing.T) {
	p, host := startProxy(t)

	clients := make([]*quic.Conn, 3)
	for i := range clients {
		clients[i], _ = connectClient(t, p, host)
	}

	host.CloseWithError(errcode.Exit, "host crashed")

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	for i, client := range clients {
		_, err := client.AcceptStream(ctx)
		if !errcode.IsRemoteQUICConnClosed(err, errcode.HostGone) {
			t.Errorf("client %d: expected host gone, got: %v", i, err)
		}
	}

	select {
	case <-p.Done():
	case <-ctx.Done():
		t.Fatal("proxy not closed after host loss")
	}

	if !errors.Is(p.Err(), proxy.ErrHostGone) {
		t.Errorf("expected host gone error, got: %v", p.Err())
	}
	if n := len(p.Clients()); n != 0 {
		t.Errorf("expected no clients, got: %d", n)
	}
}

func TestProxyHostLossWithActiveStreams(t *testing.T) {
	p, host := startProxy(t)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	type peer struct {
		conn *quic.Conn
		str  *quic.Stream
	}
	peers := make([]peer, 3)
	for i := range peers {
		client, connID := connectClient(t, p, host)

		str, err := client.OpenStreamSync(ctx)
		if err != nil {
			t.Fatalf("client %d: open stream: %s", i, err)
		}
		if _, err := str.Write([]byte("hello")); err != nil {
			t.Fatalf("client %d: write stream: %s", i, err)
		}

		msg, hostStr := acceptMessage(t, host)
		if msg != (protocol.ProxiedStream{ConnectionID: connID}) {
			t.Fatalf("client %d: unexpected message: %+v", i, msg)
		}
		assertRead(t, hostStr, "hello")

		peers[i] = peer{conn: client, str: str}
	}

	host.CloseWithError(errcode.Exit, "host crashed")

	for i, pr := range peers {
		if _, err := io.ReadAll(pr.str); err == nil {
			t.Errorf("client %d: expected paired stream to fail", i)
		}

		_, err := pr.conn.AcceptStream(ctx)
		if !errcode.IsRemoteQUICConnClosed(err, errcode.HostGone) {
			t.Errorf("client %d: expected host gone, got: %v", i, err)
		}
	}

	select {
	case <-p.Done():
	case <-ctx.Done():
		t.Fatal("proxy not closed after host loss")
	}
	p.Wait()

	if !errors.Is(p.Err(), proxy.ErrHostGone) {
		t.Errorf("expected host gone error, got: %v", p.Err())
	}
	if n := len(p.Clients()); n != 0 {
		t.Errorf("expected no clients, got: %d", n)
	}
}

func TestProxyBusy(t *testing.T) {
	// the host never accepts streams, so the proxy can announce only one client
	hostConf := quictest.Config()
	hostConf.MaxIncomingStreams = 1
	host, hostSrv := quictest.PipeConfig(t, hostConf)

	p := proxy.New(uuid.New(), hostSrv, proxy.Config{RegisterQueue: 1})
	t.Cleanup(func() { p.Close() })

	// one client announced, one stuck announcing, one queued
	const maxAccepted = 3

	var busy bool
	for i := 0; i <= maxAccepted; i++ {
		_, clientSrv := quictest.Pipe(t)
		err := p.Register(uuid.New(), uuid.New(), clientSrv)
		if errors.Is(err, proxy.ErrBusy) {
			busy = true
			break
		}
		if err != nil {
			t.Fatalf("register client %d: %s", i, err)
		}
	}
	if !busy {
		t.Fatalf("expected ErrBusy after at most %d clients", maxAccepted)
	}

	if p.Closed() {
		t.Error("proxy closed while busy")
	}
	if err := host.Context().Err(); err != nil {
		t.Errorf("host closed while busy: %s", err)
	}
}

func TestProxyRegisterAfterClose(t *testing.T) {
	p, _ := startProxy(t)

	if err := p.Close(); err != nil {
		t.Fatalf("close proxy: %s", err)
	}
	if !p.Closed() {
		t.Error("proxy is not closed")
	}
	if !errors.Is(p.Err(), proxy.ErrClosed) {
		t.Errorf("expected closed error, got: %v", p.Err())
	}

	_, clientSrv := quictest.Pipe(t)
	err := p.Register(uuid.New(), uuid.New(), clientSrv)
	if !errors.Is(err, proxy.ErrClosed) {
		t.Errorf("expected ErrClosed, got: %v", err)
	}
}

func TestProxyCloseDisconnectsClients(t *testing.T) {
	p, host := startProxy(t)
	client, _ := connectClient(t, p, host)

	if err := p.Close(); err != nil {
		t.Fatalf("close proxy: %s", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	_, err := client.AcceptStream(ctx)
	if !errcode.IsRemoteQUICConnClosed(err, errcode.Shutdown) {
		t.Errorf("client: expected shutdown, got: %v", err)
	}

	_, err = host.AcceptStream(ctx)
	if !errcode.IsRemoteQUICConnClosed(err, errcode.Shutdown) {
		t.Errorf("host: expected shutdown, got: %v", err)
	}
}

// startProxy starts a proxy and returns it with the host's end of the host connection.
func startProxy(t *testing.T) (*proxy.Proxy, *quic.Conn) {
	t.Helper()

	host, hostSrv := quictest.Pipe(t)
	p := proxy.New(uuid.New(), hostSrv, proxy.Config{})
	t.Cleanup(func() { p.Close() })

	return p, host
}

// connectClient registers a new client and waits for the host to be told about it.
// Returns the client's end of the client connection.
func connectClient(t *testing.T, p *proxy.Proxy, host *quic.Conn) (*quic.Conn, uuid.UUID) {
	t.Helper()

	client, clientSrv := quictest.Pipe(t)
	connID := uuid.New()
	if err := p.Register(uuid.New(), connID, clientSrv); err != nil {
		t.Fatalf("register client: %s", err)
	}

	msg, _ := acceptMessage(t, host)
	nc, ok := msg.(protocol.NewClient)
	if !ok || nc.ConnectionID != connID {
		t.Fatalf("unexpected message: %+v", msg)
	}

	return client, connID
}

func acceptMessage(t *testing.T, conn *quic.Conn) (protocol.Message, *quic.Stream) {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	str, err := conn.AcceptStream(ctx)
	if err != nil {
		t.Fatalf("accept stream: %s", err)
	}

	msg, err := protocol.ReadMessage(str)
	if err != nil {
		t.Fatalf("read message: %s", err)
	}

	return msg, str
}

func openHostStream(t *testing.T, host *quic.Conn, msg protocol.Message) *quic.Stream {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	str, err := host.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("open host stream: %s", err)
	}
	if err := protocol.WriteMessage(str, msg); err != nil {
		t.Fatalf("write message: %s", err)
	}

	return str
}

func assertRead(t *testing.T, r io.Reader, want string) {
	t.Helper()

	buf := make([]byte, len(want))
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read: %s", err)
	}
	if string(buf) != want {
		t.Errorf("unexpected data, want: %q, got: %q", want, string(buf))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
