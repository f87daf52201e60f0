package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmksnnk/gamebroker/internal/protocol"
	"github.com/dmksnnk/gamebroker/internal/proxy"
	"github.com/google/uuid"
)

// ErrGameNotFound is returned when joining a game that is not running.
var ErrGameNotFound = errors.New("game not found")

var errRegistryClosed = errors.New("registry closed")

// PendingGame is a game created by a host that has not connected yet.
type PendingGame struct {
	HostID    uuid.UUID
	Secret    protocol.Secret
	CreatedAt time.Time
}

// Slot is a place for a player in a running game.
// Its secret is erased once the player has connected.
type Slot struct {
	PlayerID     uuid.UUID
	ConnectionID uuid.UUID
	Secret       protocol.Secret
}

// Game is a running game: a connected host and the slots of its players.
type Game struct {
	ID     uuid.UUID
	HostID uuid.UUID

	proxy *proxy.Proxy

	mu      sync.RWMutex
	players []Slot
}

// Players returns the number of connected player slots. The host is not counted.
func (g *Game) Players() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.players)
}

// Summary describes the game.
// The summary's player count includes the host's own slot.
func (g *Game) Summary() GameSummary {
	return GameSummary{
		ID:      g.ID,
		HostID:  g.HostID,
		Players: g.Players() + 1,
	}
}

// Done is closed when the game has ended.
func (g *Game) Done() <-chan struct{} {
	return g.proxy.Done()
}

func (g *Game) addSlot(playerID uuid.UUID, secret protocol.Secret) Slot {
	slot := Slot{
		PlayerID:     playerID,
		ConnectionID: uuid.New(),
		Secret:       secret,
	}

	g.mu.Lock()
	g.players = append(g.players, slot)
	g.mu.Unlock()

	return slot
}

// takeSlot finds the slot with the secret and erases the secret, so it can't be used again.
func (g *Game) takeSlot(secret protocol.Secret) (Slot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.players {
		s := &g.players[i]
		if s.Secret.IsZero() || !s.Secret.Equal(secret) {
			continue
		}

		slot := *s
		s.Secret = protocol.Secret{}
		return slot, true
	}

	return Slot{}, false
}

// GameSummary is a public description of a running game.
type GameSummary struct {
	ID      uuid.UUID `json:"id"`
	HostID  uuid.UUID `json:"host_id"`
	Players int       `json:"players"` // including the host
}

// RegistryConfig configures a registry.
type RegistryConfig struct {
	// PendingTTL removes created games whose host did not connect in time.
	// Zero keeps them until the host connects.
	PendingTTL time.Duration
	Logger     *slog.Logger
}

// Registry keeps pending and running games.
type Registry struct {
	pendingMu sync.RWMutex
	pending   []PendingGame

	gamesMu sync.RWMutex
	games   map[uuid.UUID]*Game
	closed  bool

	hooksMu   sync.RWMutex
	onStarted []func(GameSummary)
	onClosed  []func(id uuid.UUID, cause error)

	stop   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// NewRegistry creates a new registry.
// Call [Registry.Close] to stop it.
func NewRegistry(conf RegistryConfig) *Registry {
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}

	r := &Registry{
		games:  make(map[uuid.UUID]*Game),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: conf.Logger.With(slog.String("component", "registry")),
	}

	if conf.PendingTTL > 0 {
		go r.sweep(conf.PendingTTL)
	} else {
		close(r.done)
	}

	return r
}

// CreateGame records a pending game for the host and returns the secret
// the host must present when connecting.
func (r *Registry) CreateGame(hostID uuid.UUID) (protocol.Secret, error) {
	secret, err := protocol.NewSecret()
	if err != nil {
		return protocol.Secret{}, fmt.Errorf("create secret: %w", err)
	}

	r.pendingMu.Lock()
	r.pending = append(r.pending, PendingGame{
		HostID:    hostID,
		Secret:    secret,
		CreatedAt: time.Now(),
	})
	r.pendingMu.Unlock()

	return secret, nil
}

// JoinGame creates a slot for the player in a running game and returns
// the secret the player must present when connecting.
// If the game is not running, it returns a zero secret and ErrGameNotFound.
func (r *Registry) JoinGame(gameID, playerID uuid.UUID) (protocol.Secret, error) {
	slot, err := r.JoinSlot(gameID, playerID)
	return slot.Secret, err
}

// JoinSlot is like [Registry.JoinGame], but returns the whole slot.
func (r *Registry) JoinSlot(gameID, playerID uuid.UUID) (Slot, error) {
	r.gamesMu.RLock()
	defer r.gamesMu.RUnlock()

	g, ok := r.games[gameID]
	if !ok || g.proxy.Closed() {
		return Slot{}, ErrGameNotFound
	}

	secret, err := protocol.NewSecret()
	if err != nil {
		return Slot{}, fmt.Errorf("create secret: %w", err)
	}

	return g.addSlot(playerID, secret), nil
}

// ListGames removes ended games and describes the running ones, ordered by id.
func (r *Registry) ListGames() []GameSummary {
	r.evict()

	r.gamesMu.RLock()
	summaries := make([]GameSummary, 0, len(r.games))
	for _, g := range r.games {
		summaries = append(summaries, g.Summary())
	}
	r.gamesMu.RUnlock()

	slices.SortFunc(summaries, func(a, b GameSummary) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	return summaries
}

// Game returns a running game by id.
func (r *Registry) Game(id uuid.UUID) (*Game, bool) {
	r.gamesMu.RLock()
	defer r.gamesMu.RUnlock()

	g, ok := r.games[id]
	return g, ok
}

// Pending returns the number of games waiting for their host.
func (r *Registry) Pending() int {
	r.pendingMu.RLock()
	defer r.pendingMu.RUnlock()

	return len(r.pending)
}

// OnGameStarted registers a hook called when a host connects.
func (r *Registry) OnGameStarted(fn func(GameSummary)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()

	r.onStarted = append(r.onStarted, fn)
}

// OnGameClosed registers a hook called when an ended game is removed.
func (r *Registry) OnGameClosed(fn func(id uuid.UUID, cause error)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()

	r.onClosed = append(r.onClosed, fn)
}

// Close stops expiring pending games and closes all running games.
func (r *Registry) Close() error {
	r.gamesMu.Lock()
	if r.closed {
		r.gamesMu.Unlock()
		return nil
	}
	r.closed = true
	games := r.games
	r.games = make(map[uuid.UUID]*Game)
	r.gamesMu.Unlock()

	select {
	case <-r.done:
	default:
		close(r.stop)
		<-r.done
	}

	r.pendingMu.Lock()
	r.pending = nil
	r.pendingMu.Unlock()

	var errs []error
	for id, g := range games {
		if err := g.proxy.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close game %s: %w", id, err))
		}
		r.gameClosed(id, errRegistryClosed)
	}

	return errors.Join(errs...)
}

// takePending removes and returns the pending game with the secret.
func (r *Registry) takePending(secret protocol.Secret) (PendingGame, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	for i, pg := range r.pending {
		if pg.Secret.Equal(secret) {
			r.pending = slices.Delete(r.pending, i, i+1)
			return pg, true
		}
	}

	return PendingGame{}, false
}

// takeSlot finds the running game with a slot for the secret.
func (r *Registry) takeSlot(secret protocol.Secret) (*Game, Slot, bool) {
	r.gamesMu.RLock()
	defer r.gamesMu.RUnlock()

	for _, g := range r.games {
		if slot, ok := g.takeSlot(secret); ok {
			return g, slot, true
		}
	}

	return nil, Slot{}, false
}

// addGame records a running game. Returns false if the registry is closed.
func (r *Registry) addGame(g *Game) bool {
	r.gamesMu.Lock()
	if r.closed {
		r.gamesMu.Unlock()
		return false
	}
	r.games[g.ID] = g
	r.gamesMu.Unlock()

	summary := g.Summary()
	r.hooksMu.RLock()
	defer r.hooksMu.RUnlock()
	for _, fn := range r.onStarted {
		fn(summary)
	}

	return true
}

// evict removes games whose proxy has finished.
func (r *Registry) evict() {
	r.gamesMu.Lock()
	var ended []*Game
	for id, g := range r.games {
		if g.proxy.Closed() {
			delete(r.games, id)
			ended = append(ended, g)
		}
	}
	r.gamesMu.Unlock()

	for _, g := range ended {
		r.gameClosed(g.ID, g.proxy.Err())
	}
}

func (r *Registry) gameClosed(id uuid.UUID, cause error) {
	r.hooksMu.RLock()
	defer r.hooksMu.RUnlock()

	for _, fn := range r.onClosed {
		fn(id, cause)
	}
}

func (r *Registry) sweep(ttl time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(max(ttl/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.expirePending(now.Add(-ttl))
		}
	}
}

func (r *Registry) expirePending(before time.Time) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	n := len(r.pending)
	r.pending = slices.DeleteFunc(r.pending, func(pg PendingGame) bool {
		return pg.CreatedAt.Before(before)
	})

	if expired := n - len(r.pending); expired > 0 {
		r.logger.Debug("expired pending games", slog.Int("count", expired))
	}
}
