package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/dmksnnk/gamebroker/internal/auth"
	"github.com/dmksnnk/gamebroker/internal/broker"
	http3platform "github.com/dmksnnk/gamebroker/internal/platform/http3"
	"github.com/dmksnnk/gamebroker/internal/platform/httpplatform"
	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go/http3"
)

// Client is a client to the broker API.
type Client struct {
	dialer *http3platform.HTTP3Dialer

	base  *url.URL
	token auth.Token

	mux        sync.Mutex
	clientConn *http3.ClientConn
}

// NewClient creates a new client with the given base URL.
// Every request is authenticated with the token.
func NewClient(dialer *http3platform.HTTP3Dialer, base *url.URL, token auth.Token) *Client {
	return &Client{
		dialer: dialer,
		base:   base,
		token:  token,
	}
}

// CreateGame creates a game hosted by the token's identity.
// Returns the secret the host connects with.
func (c *Client) CreateGame(ctx context.Context) (protocol.Secret, error) {
	var resp CreateGameResponse
	if err := c.do(ctx, http.MethodPost, "/games", nil, &resp); err != nil {
		return protocol.Secret{}, fmt.Errorf("create game: %w", err)
	}

	return resp.Secret, nil
}

// JoinGame joins a running game.
// Returns broker.ErrGameNotFound if there is no such game.
func (c *Client) JoinGame(ctx context.Context, gameID uuid.UUID) (JoinGameResponse, error) {
	var resp JoinGameResponse
	if err := c.do(ctx, http.MethodPost, "/games/"+gameID.String()+"/join", nil, &resp); err != nil {
		if httpplatform.IsNotFound(err) {
			return JoinGameResponse{}, broker.ErrGameNotFound
		}
		return JoinGameResponse{}, fmt.Errorf("join game: %w", err)
	}

	return resp, nil
}

// ListGames lists running games. If hostID is not nil, only games of that host are listed.
func (c *Client) ListGames(ctx context.Context, hostID uuid.UUID) ([]broker.GameSummary, error) {
	query := url.Values{}
	if hostID != uuid.Nil {
		query.Set("host_id", hostID.String())
	}

	var games []broker.GameSummary
	if err := c.do(ctx, http.MethodGet, "/games", query, &games); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}

	return games, nil
}

func (c *Client) Close() error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.clientConn == nil {
		return nil
	}

	if err := c.clientConn.CloseWithError(http3.ErrCodeNoError, "client closed"); err != nil {
		return fmt.Errorf("close client connection: %w", err)
	}
	c.clientConn = nil

	return nil
}

func (c *Client) conn(ctx context.Context) (*http3.ClientConn, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.clientConn != nil && c.clientConn.Context().Err() == nil {
		return c.clientConn, nil
	}

	clientConn, err := c.dialer.Dial(ctx, ensurePort(c.base.Host))
	if err != nil {
		return nil, fmt.Errorf("dial HTTP3: %w", err)
	}

	c.clientConn = clientConn

	return c.clientConn, nil
}

func ensurePort(host string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, "443")
	}

	return host
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	clientConn, err := c.conn(ctx)
	if err != nil {
		return err
	}

	u := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(httpplatform.TokenHeader, c.token.String())

	resp, err := clientConn.RoundTrip(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpplatform.NewBadStatusCodeError(resp.StatusCode, resp.Body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
