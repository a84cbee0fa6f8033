package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rbignon/er-fog-vizu/internal/game"
	"github.com/rbignon/er-fog-vizu/internal/store"
	"github.com/rbignon/er-fog-vizu/pkg/metrics"
)

// One handler per role; the lifecycle is shared. Mod and host must complete
// the auth handshake and own the session; viewers only need the session to
// exist.

func (h *Hub) ServeMod(w http.ResponseWriter, r *http.Request)    { h.serve(w, r, roleMod) }
func (h *Hub) ServeHost(w http.ResponseWriter, r *http.Request)   { h.serve(w, r, roleHost) }
func (h *Hub) ServeViewer(w http.ResponseWriter, r *http.Request) { h.serve(w, r, roleViewer) }

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, role role) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	sock, err := accept(w, r)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}
	c := newConn(sock, role)
	defer c.close()

	ctx := r.Context()

	var uid string
	if role != roleViewer {
		uid, err = h.authenticate(ctx, c)
		if err != nil {
			h.log.Debug("ws.auth.failed", "session", sessionID, "role", role, "err", err)
			return
		}
	}

	rec, err := h.db.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = c.sendNow(ctx, errorFrame("Session not found"))
		} else {
			h.log.Error("ws.load", "session", sessionID, "err", err)
			_ = c.sendNow(ctx, errorFrame("Internal error"))
		}
		return
	}
	if role != roleViewer && rec.OwnerID != uid {
		_ = c.sendNow(ctx, errorFrame("Not your session"))
		return
	}

	rm, ok := h.join(sessionID, rec, c)
	if !ok {
		_ = c.sendNow(ctx, errorFrame(claimError(role, h.cfg.MaxViewers)))
		return
	}
	defer func() {
		rm.release(c)
		h.cleanup(sessionID)
	}()

	metrics.ConnectionsActive.WithLabelValues(string(role)).Inc()
	defer metrics.ConnectionsActive.WithLabelValues(string(role)).Dec()

	// Active: writer and heartbeat live exactly as long as this scope.
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writeLoop(cctx)
	go c.heartbeat(cctx, h.cfg.HeartbeatInterval, h.cfg.HeartbeatTimeout)

	switch role {
	case roleHost:
		c.send(rm.gameState())
	case roleViewer:
		if vs := rm.visualState(); vs != nil {
			c.sendRaw(vs)
		} else {
			c.send(envelope{Type: typeWaiting, Message: "Waiting for host to connect"})
		}
	}

	h.log.Info("ws.connected", "session", sessionID, "role", role)
	h.pump(cctx, c, rm, sessionID)
	h.log.Info("ws.disconnected", "session", sessionID, "role", role)
}

func claimError(r role, maxViewers int) string {
	switch r {
	case roleMod:
		return "Mod already connected"
	case roleHost:
		return "Host already connected"
	default:
		return fmt.Sprintf("Maximum viewers (%d) reached", maxViewers)
	}
}

// authenticate waits for a single auth frame and resolves its bearer token.
// Every failure path sends an explanatory frame; the caller closes the socket.
func (h *Hub) authenticate(ctx context.Context, c *Conn) (string, error) {
	actx, cancel := context.WithTimeout(ctx, h.cfg.AuthTimeout)
	defer cancel()

	raw, err := c.read(actx)
	if err != nil {
		_ = c.sendNow(ctx, authErrorFrame("Auth timeout"))
		return "", err
	}
	in, err := decode(raw)
	if err != nil || in.Type != typeAuth {
		_ = c.sendNow(ctx, authErrorFrame("Expected auth message"))
		return "", errors.New("expected auth message")
	}
	if in.Auth.Token == "" {
		_ = c.sendNow(ctx, authErrorFrame("Missing token"))
		return "", errors.New("missing token")
	}
	uid, err := h.auth.Resolve(in.Auth.Token)
	if err != nil {
		_ = c.sendNow(ctx, authErrorFrame("Invalid token"))
		return "", err
	}
	if err := c.sendNow(ctx, envelope{Type: typeAuthOK}); err != nil {
		return "", err
	}
	return uid, nil
}

// pump processes inbound frames strictly in arrival order until the socket
// closes. A single undecodable frame is answered, not fatal.
func (h *Hub) pump(ctx context.Context, c *Conn, rm *Room, sessionID string) {
	for {
		raw, err := c.read(ctx)
		if err != nil {
			return
		}
		in, err := decode(raw)
		if err != nil {
			h.log.Debug("ws.protocol", "session", sessionID, "role", c.role, "err", err)
			c.send(errorFrame("Unrecognized message"))
			continue
		}
		h.dispatch(ctx, c, rm, sessionID, in)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Conn, rm *Room, sessionID string, in inbound) {
	if in.Type == typePong {
		return // liveness was recorded by the read path
	}

	switch {
	case c.role == roleMod && in.Type == typeDiscovery:
		h.handleDiscovery(ctx, c, rm, sessionID, in.Discovery, game.ActorMod)

	case c.role == roleHost && in.Type == typeVisualState:
		rm.cacheVisualState(in.Raw)
		rm.broadcastViewers(in.Raw)

	case c.role == roleHost && in.Type == typePositionsUpdate:
		rm.state.MergePositions(in.Positions.Positions)
		if err := h.db.MergeNodePositions(ctx, sessionID, in.Positions.Positions); err != nil {
			h.log.Error("store.positions", "session", sessionID, "err", err)
		}
		rm.broadcastViewers(in.Raw)

	case c.role == roleHost && in.Type == typeTagUpdate:
		rm.state.SetTags(in.Tag.Zone, in.Tag.Tags)
		if err := h.db.MergeTags(ctx, sessionID, in.Tag.Zone, in.Tag.Tags); err != nil {
			h.log.Error("store.tags", "session", sessionID, "err", err)
		}
		rm.broadcastAllExcept(c, in.Raw)

	case c.role == roleHost && in.Type == typeManualDiscovery:
		h.handleDiscovery(ctx, c, rm, sessionID, in.Discovery, game.ActorManual)

	default:
		// well-formed but not valid for this role
		h.log.Debug("ws.ignored", "session", sessionID, "role", c.role, "type", in.Type)
	}
}

// handleDiscovery propagates a reported link, persists the additions, acks
// the mod, and broadcasts only the newly revealed links.
func (h *Hub) handleDiscovery(ctx context.Context, c *Conn, rm *Room, sessionID string, msg *discoveryMsg, by game.Actor) {
	if msg.Source == "" || msg.Target == "" {
		c.send(errorFrame("Missing source or target"))
		return
	}

	added := rm.state.Discover(msg.Source, msg.Target, by, time.Now().UTC())
	if len(added) > 0 {
		if err := h.db.MergeDiscoveredLinks(ctx, sessionID, added); err != nil {
			h.log.Error("store.links", "session", sessionID, "err", err)
		}
		metrics.LinksPropagated.Add(float64(len(added)))
	}
	metrics.DiscoveriesTotal.WithLabelValues(string(by)).Inc()

	propagated := wireLinks(added)
	if by == game.ActorMod {
		c.send(discoveryResult{Type: typeDiscoveryAck, Propagated: propagated})
	}
	b, _ := json.Marshal(discoveryResult{Type: typeDiscovery, Propagated: propagated})
	rm.broadcastAllExcept(c, b)
}
