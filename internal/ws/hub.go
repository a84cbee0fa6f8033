package ws

import (
	"context"
	"sync"

	"log/slog"

	"github.com/rbignon/er-fog-vizu/internal/app"
	"github.com/rbignon/er-fog-vizu/internal/game"
	"github.com/rbignon/er-fog-vizu/internal/store"
)

// Store is the slice of the session store the sync engine consumes: one read
// at room creation, merge-only writes afterwards.
type Store interface {
	LoadSession(ctx context.Context, id string) (store.Session, error)
	MergeDiscoveredLinks(ctx context.Context, id string, links []game.DiscoveredLink) error
	MergeNodePositions(ctx context.Context, id string, positions map[string]game.Point) error
	MergeTags(ctx context.Context, id, zone string, tags []string) error
}

// TokenResolver validates a bearer token from the auth handshake and returns
// the user it names.
type TokenResolver interface {
	Resolve(token string) (string, error)
}

// Hub is the process-wide room registry, keyed by session id. Rooms are
// created lazily on first connection and deleted the moment they empty.
type Hub struct {
	log  *slog.Logger
	cfg  app.Config
	db   Store
	auth TokenResolver

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub(logger *slog.Logger, cfg app.Config, db Store, auth TokenResolver) *Hub {
	return &Hub{log: logger, cfg: cfg, db: db, auth: auth, rooms: map[string]*Room{}}
}

// join resolves the session's room and claims c's slot in one registry
// critical section. Lookup and claim must not be separable: a concurrent
// disconnect's cleanup could otherwise delete the room in between, stranding
// the claimer in a room no later connection can reach.
func (h *Hub) join(id string, rec store.Session, c *Conn) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm := h.roomLocked(id, rec)
	if !rm.claim(c, h.cfg.MaxViewers) {
		return nil, false
	}
	return rm, true
}

// getOrCreate returns the active room for a session, building its state from
// the loaded record on first connection. When two connections race here, the
// first room wins and the loser's record is discarded.
func (h *Hub) getOrCreate(id string, rec store.Session) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomLocked(id, rec)
}

func (h *Hub) roomLocked(id string, rec store.Session) *Room {
	rm := h.rooms[id]
	if rm == nil {
		rm = newRoom(id, game.NewState(rec.StartNode, rec.Edges, rec.DiscoveredLinks, rec.NodePositions, rec.Tags))
		h.rooms[id] = rm
		h.log.Debug("room.created", "session", id)
	}
	return rm
}

// cleanup deletes the room once every slot and the viewer list are empty.
// Invoked after every disconnect.
func (h *Hub) cleanup(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rm := h.rooms[id]; rm != nil && rm.empty() {
		delete(h.rooms, id)
		h.log.Debug("room.deleted", "session", id)
	}
}
