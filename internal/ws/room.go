package ws

import (
	"sync"

	"github.com/rbignon/er-fog-vizu/internal/game"
	"github.com/rbignon/er-fog-vizu/pkg/metrics"
)

// Room bundles the live connections for one session: at most one mod, at
// most one host, and a capped list of viewers, plus the session's
// authoritative discovery state and the host's last visual snapshot.
type Room struct {
	id    string
	state *game.State

	mu              sync.Mutex
	mod             *Conn
	host            *Conn
	viewers         []*Conn
	lastVisualState []byte
}

func newRoom(id string, state *game.State) *Room {
	return &Room{id: id, state: state}
}

// claim registers c in its role slot. False means the slot is taken (mod,
// host) or the viewer cap is reached; nothing is mutated in that case.
func (r *Room) claim(c *Conn, maxViewers int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch c.role {
	case roleMod:
		if r.mod != nil {
			return false
		}
		r.mod = c
	case roleHost:
		if r.host != nil {
			return false
		}
		r.host = c
	case roleViewer:
		if len(r.viewers) >= maxViewers {
			return false
		}
		r.viewers = append(r.viewers, c)
	}
	return true
}

// release clears c's slot if it still holds one.
func (r *Room) release(c *Conn) {
	r.mu.Lock()
	r.dropLocked(c)
	r.mu.Unlock()
}

// empty reports whether every slot and the viewer list are vacant.
func (r *Room) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mod == nil && r.host == nil && len(r.viewers) == 0
}

func (r *Room) dropLocked(c *Conn) {
	switch {
	case r.mod == c:
		r.mod = nil
	case r.host == c:
		r.host = nil
	default:
		for i, v := range r.viewers {
			if v == c {
				r.viewers = append(r.viewers[:i], r.viewers[i+1:]...)
				break
			}
		}
	}
}

// cacheVisualState stores the host's latest full snapshot for replay to
// late-joining viewers. Cleared only by room deletion.
func (r *Room) cacheVisualState(b []byte) {
	r.mu.Lock()
	r.lastVisualState = b
	r.mu.Unlock()
}

func (r *Room) visualState() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastVisualState
}

// gameState builds the host welcome payload from the room's current state.
func (r *Room) gameState() gameStateMsg {
	links, positions, tags := r.state.Snapshot()
	return gameStateMsg{
		Type:  typeGameState,
		State: gameStateBody{DiscoveredLinks: links, NodePositions: positions, Tags: tags},
	}
}

// broadcastViewers fans a frame out to every viewer. A viewer that cannot
// take the frame is closed and removed; the rest still receive it.
func (r *Room) broadcastViewers(b []byte) {
	r.mu.Lock()
	r.broadcastViewersLocked(b)
	r.mu.Unlock()
}

func (r *Room) broadcastViewersLocked(b []byte) {
	kept := r.viewers[:0]
	for _, v := range r.viewers {
		if v.sendRaw(b) {
			kept = append(kept, v)
		} else {
			v.close()
			metrics.PeersDropped.Inc()
		}
	}
	r.viewers = kept
}

// broadcastAllExcept delivers to mod, host, and every viewer, skipping the
// sender. A peer whose delivery fails loses its slot; delivery to the
// remaining peers continues.
func (r *Room) broadcastAllExcept(sender *Conn, b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mod != nil && r.mod != sender && !r.mod.sendRaw(b) {
		r.mod.close()
		r.mod = nil
		metrics.PeersDropped.Inc()
	}
	if r.host != nil && r.host != sender && !r.host.sendRaw(b) {
		r.host.close()
		r.host = nil
		metrics.PeersDropped.Inc()
	}
	r.broadcastViewersLocked(b)
}
