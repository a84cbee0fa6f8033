package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rbignon/er-fog-vizu/internal/game"
	"github.com/rbignon/er-fog-vizu/internal/store"
	"github.com/rbignon/er-fog-vizu/pkg/auth"
)

// SessionStore is the store surface the REST API needs.
type SessionStore interface {
	CreateSession(ctx context.Context, n store.NewSession) (string, bool, error)
	LoadSession(ctx context.Context, id string) (store.Session, error)
	ListSessions(ctx context.Context, ownerID string) ([]store.SessionSummary, error)
	CountSessions(ctx context.Context, ownerID string) (int, error)
	RenameSession(ctx context.Context, id, ownerID, label string) error
	DeleteSession(ctx context.Context, id, ownerID string) error
}

type SessionsAPI struct {
	DB         SessionStore
	MaxPerUser int
}

type createSessionReq struct {
	Seed      int64       `json:"seed"`
	RunID     string      `json:"run_id"`
	Label     string      `json:"label"`
	StartNode string      `json:"start_node"`
	Edges     []game.Edge `json:"edges"`
}

type createSessionResp struct {
	SessionID string `json:"session_id"`
	Created   bool   `json:"created"`
}

type sessionSummaryResp struct {
	ID        string    `json:"id"`
	Seed      int64     `json:"seed"`
	RunID     string    `json:"run_id"`
	Label     string    `json:"label,omitempty"`
	StartNode string    `json:"start_node"`
	Links     int       `json:"discovered_links"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type sessionFullResp struct {
	ID              string                `json:"id"`
	Seed            int64                 `json:"seed"`
	RunID           string                `json:"run_id"`
	Label           string                `json:"label,omitempty"`
	StartNode       string                `json:"start_node"`
	Edges           []game.Edge           `json:"edges"`
	DiscoveredLinks []game.DiscoveredLink `json:"discovered_links"`
	DiscoveredNodes []string              `json:"discovered_nodes"`
	NodePositions   map[string]game.Point `json:"node_positions"`
	Tags            map[string][]string   `json:"tags"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// Create registers a new run for the authenticated user. Posting the same
// seed + run id again returns the existing session instead of a duplicate,
// so the mod can reconnect after a crash without losing state.
func (a *SessionsAPI) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if req.RunID == "" || len(req.Edges) == 0 {
		http.Error(w, "run_id and edges are required", http.StatusBadRequest)
		return
	}
	for _, e := range req.Edges {
		if e.Kind != game.EdgeRandom && e.Kind != game.EdgePreexisting {
			http.Error(w, fmt.Sprintf("unknown edge type %q", e.Kind), http.StatusBadRequest)
			return
		}
	}

	uid := auth.UserID(r.Context())
	count, err := a.DB.CountSessions(r.Context(), uid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if count >= a.MaxPerUser {
		http.Error(w, fmt.Sprintf("maximum sessions per user (%d) reached", a.MaxPerUser), http.StatusTooManyRequests)
		return
	}

	id, created, err := a.DB.CreateSession(r.Context(), store.NewSession{
		OwnerID:   uid,
		Seed:      req.Seed,
		RunID:     req.RunID,
		Label:     req.Label,
		StartNode: req.StartNode,
		Edges:     req.Edges,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, createSessionResp{SessionID: id, Created: created})
}

// List returns the authenticated user's sessions, most recently updated first.
func (a *SessionsAPI) List(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r.Context())
	sessions, err := a.DB.ListSessions(r.Context(), uid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := make([]sessionSummaryResp, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, sessionSummaryResp{
			ID: s.ID, Seed: s.Seed, RunID: s.RunID, Label: s.Label,
			StartNode: s.StartNode, Links: s.Links,
			CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
		})
	}
	writeJSON(w, resp)
}

// Get returns full session state. Public: viewers fetch the map through it.
func (a *SessionsAPI) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := a.DB.LoadSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	nodes := game.DiscoveredNodes(s.StartNode, s.DiscoveredLinks)
	names := make([]string, 0, len(nodes))
	for n := range nodes {
		names = append(names, n)
	}
	sort.Strings(names)

	if s.DiscoveredLinks == nil {
		s.DiscoveredLinks = []game.DiscoveredLink{}
	}
	if s.NodePositions == nil {
		s.NodePositions = map[string]game.Point{}
	}
	if s.Tags == nil {
		s.Tags = map[string][]string{}
	}

	writeJSON(w, sessionFullResp{
		ID: s.ID, Seed: s.Seed, RunID: s.RunID, Label: s.Label,
		StartNode: s.StartNode, Edges: s.Edges,
		DiscoveredLinks: s.DiscoveredLinks, DiscoveredNodes: names,
		NodePositions: s.NodePositions, Tags: s.Tags,
		UpdatedAt: s.UpdatedAt,
	})
}

// Rename updates a session's label.
func (a *SessionsAPI) Rename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	err := a.DB.RenameSession(r.Context(), r.PathValue("id"), auth.UserID(r.Context()), req.Label)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete soft-deletes a session.
func (a *SessionsAPI) Delete(w http.ResponseWriter, r *http.Request) {
	err := a.DB.DeleteSession(r.Context(), r.PathValue("id"), auth.UserID(r.Context()))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// send JSON with proper headers
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
