package api_test

import (
	"errors"
	"net/url"
	"testing"

	"github.com/dmksnnk/gamebroker/internal/api"
	"github.com/dmksnnk/gamebroker/internal/auth"
	"github.com/dmksnnk/gamebroker/internal/broker"
	"github.com/dmksnnk/gamebroker/internal/platform/http3/http3test"
	"github.com/dmksnnk/gamebroker/internal/platform/httpplatform"
	"github.com/google/uuid"
)

func TestClient(t *testing.T) {
	reg := newFakeRegistry()
	srv := http3test.NewTestServer(t, api.NewRouter(api.New(reg, nil), secret))
	hostID := uuid.New()

	t.Run("create game", func(t *testing.T) {
		cl := newClient(t, srv, auth.NewToken(hostID, secret))

		got, err := cl.CreateGame(t.Context())
		if err != nil {
			t.Fatalf("create game: %s", err)
		}

		if want := reg.secretFor(hostID); want != got {
			t.Errorf("want secret %s, got %s", want, got)
		}
	})

	t.Run("join game", func(t *testing.T) {
		gameID := reg.addGame(hostID)
		cl := newClient(t, srv, auth.NewToken(uuid.New(), secret))

		resp, err := cl.JoinGame(t.Context(), gameID)
		if err != nil {
			t.Fatalf("join game: %s", err)
		}
		if resp.Secret.IsZero() {
			t.Error("zero secret")
		}
	})

	t.Run("join unknown game", func(t *testing.T) {
		cl := newClient(t, srv, auth.NewToken(uuid.New(), secret))

		_, err := cl.JoinGame(t.Context(), uuid.New())
		if !errors.Is(err, broker.ErrGameNotFound) {
			t.Errorf("expected game not found, got: %v", err)
		}
	})

	t.Run("list games", func(t *testing.T) {
		other := uuid.New()
		reg.addGame(other)
		cl := newClient(t, srv, auth.NewToken(uuid.New(), secret))

		games, err := cl.ListGames(t.Context(), other)
		if err != nil {
			t.Fatalf("list games: %s", err)
		}
		if len(games) != 1 || games[0].HostID != other {
			t.Errorf("unexpected games: %+v", games)
		}

		all, err := cl.ListGames(t.Context(), uuid.Nil)
		if err != nil {
			t.Fatalf("list games: %s", err)
		}
		if len(all) < 2 {
			t.Errorf("expected all games, got: %+v", all)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		cl := newClient(t, srv, auth.NewToken(hostID, []byte("wrong secret")))

		_, err := cl.CreateGame(t.Context())
		if !httpplatform.IsUnauthorized(err) {
			t.Errorf("expected unauthorized, got: %v", err)
		}
	})
}

func newClient(t *testing.T, srv *http3test.Server, token auth.Token) *api.Client {
	t.Helper()

	base := &url.URL{
		Scheme: "https",
		Host:   srv.Addr().String(),
	}

	cl := api.NewClient(srv.Dialer(), base, token)
	t.Cleanup(func() {
		if err := cl.Close(); err != nil {
			t.Error("close client:", err)
		}
	})

	return cl
}
