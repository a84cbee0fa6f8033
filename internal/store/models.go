package store

import (
	"time"

	"github.com/rbignon/er-fog-vizu/internal/game"
)

// Session is one tracked run: a static shuffled graph plus mutable discovery
// state. The jsonb state columns are the merge targets of the sync engine.
type Session struct {
	ID        string
	OwnerID   string
	Seed      int64
	RunID     string
	Label     string
	StartNode string

	Edges           []game.Edge
	DiscoveredLinks []game.DiscoveredLink
	NodePositions   map[string]game.Point
	Tags            map[string][]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionSummary is the list-view projection, without the jsonb payloads.
type SessionSummary struct {
	ID        string
	Seed      int64
	RunID     string
	Label     string
	StartNode string
	Links     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession carries the fields needed to create a session.
type NewSession struct {
	OwnerID   string
	Seed      int64
	RunID     string
	Label     string
	StartNode string
	Edges     []game.Edge
}
