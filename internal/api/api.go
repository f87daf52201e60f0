// Package api implements the HTTP/3 control-plane API of the broker:
// creating, joining and listing games.
package api

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmksnnk/gamebroker/internal/auth"
	"github.com/dmksnnk/gamebroker/internal/broker"
	"github.com/dmksnnk/gamebroker/internal/platform/httpplatform"
	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/go-playground/form/v4"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

const pathValueGameID = "gameID"

// Registry keeps games. It is implemented by [broker.Registry].
type Registry interface {
	CreateGame(hostID uuid.UUID) (protocol.Secret, error)
	JoinSlot(gameID, playerID uuid.UUID) (broker.Slot, error)
	ListGames() []broker.GameSummary
}

// CreateGameResponse is returned to a host creating a game.
type CreateGameResponse struct {
	Secret protocol.Secret `json:"secret"`
}

// JoinGameResponse is returned to a player joining a game.
type JoinGameResponse struct {
	Secret       protocol.Secret `json:"secret"`
	ConnectionID uuid.UUID       `json:"connection_id"`
}

// ListGamesQuery filters listed games.
type ListGamesQuery struct {
	HostID uuid.UUID `form:"host_id"`
}

// API is the HTTP API of the broker.
type API struct {
	registry Registry
	decoder  *form.Decoder
	logger   *slog.Logger
}

// New creates a new API on top of the registry.
func New(registry Registry, logger *slog.Logger) API {
	if logger == nil {
		logger = slog.Default()
	}

	return API{
		registry: registry,
		decoder:  newFormDecoder(),
		logger:   logger.With(slog.String("component", "api")),
	}
}

// CreateGame creates a game hosted by the caller.
func (a API) CreateGame(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.IdentityFromContext(r.Context())

	secret, err := a.registry.CreateGame(hostID)
	if err != nil {
		a.logger.Error("create game", slog.Any("error", err))
		http.Error(w, "failed to create game", http.StatusInternalServerError)
		return
	}

	a.logger.Debug("game created", slog.String("host_id", hostID.String()))
	writeJSON(w, CreateGameResponse{Secret: secret})
}

// JoinGame creates a slot for the caller in a running game.
func (a API) JoinGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(r.PathValue(pathValueGameID))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}

	playerID, _ := auth.IdentityFromContext(r.Context())

	slot, err := a.registry.JoinSlot(gameID, playerID)
	if err != nil {
		if errors.Is(err, broker.ErrGameNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		a.logger.Error("join game", slog.Any("error", err))
		http.Error(w, "failed to join game", http.StatusInternalServerError)
		return
	}

	writeJSON(w, JoinGameResponse{
		Secret:       slot.Secret,
		ConnectionID: slot.ConnectionID,
	})
}

// ListGames lists running games, optionally only of one host.
func (a API) ListGames(w http.ResponseWriter, r *http.Request) {
	var query ListGamesQuery
	if err := a.decoder.Decode(&query, r.URL.Query()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	games := a.registry.ListGames()
	if query.HostID != uuid.Nil {
		filtered := games[:0]
		for _, g := range games {
			if g.HostID == query.HostID {
				filtered = append(filtered, g)
			}
		}
		games = filtered
	}

	writeJSON(w, games)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// NewRouter returns HTTP multiplexer with API routes.
// All routes require a token signed with the secret.
func NewRouter(api API, secret []byte) *http.ServeMux {
	authenticate := httpplatform.Authenticate(secret, httpplatform.TokenFromHeader(httpplatform.TokenHeader))

	mux := http.NewServeMux()
	mux.Handle("POST /games", httpplatform.Wrap(http.HandlerFunc(api.CreateGame), authenticate))
	mux.Handle("POST /games/{"+pathValueGameID+"}/join", httpplatform.Wrap(http.HandlerFunc(api.JoinGame), authenticate))
	mux.Handle("GET /games", httpplatform.Wrap(http.HandlerFunc(api.ListGames), authenticate))

	return mux
}

// NewServer creates a new HTTP/3 server.
func NewServer(addr string, handler http.Handler, tlsConf *tls.Config, quicConf *quic.Config) *http3.Server {
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{http3.NextProtoH3}

	return &http3.Server{
		Addr:       addr,
		Handler:    handler,
		TLSConfig:  tlsConf,
		QUICConfig: quicConf,
	}
}
