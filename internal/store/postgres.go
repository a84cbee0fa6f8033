package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rbignon/er-fog-vizu/internal/app"
	"github.com/rbignon/er-fog-vizu/internal/game"
)

// ErrNotFound is returned when a session does not exist or is soft-deleted.
var ErrNotFound = errors.New("session not found")

type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects to postgres and returns a pool wrapper
func NewPostgres(ctx context.Context, cfg app.Config, log *slog.Logger) (*Postgres, error) {
	pc, err := pgxpool.ParseConfig(cfg.PGURL)
	if err != nil {
		return nil, err
	}
	pc.MaxConns = int32(cfg.PGMaxConn)
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// Ping reports whether the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// CreateSession inserts a new session, or returns the existing one when the
// same owner already has a session for this seed + run id.
func (p *Postgres) CreateSession(ctx context.Context, n NewSession) (string, bool, error) {
	var id string
	err := p.pool.QueryRow(ctx, `
		SELECT id FROM sessions
		WHERE owner_id = $1 AND seed = $2 AND run_id = $3 AND deleted_at IS NULL
	`, n.OwnerID, n.Seed, n.RunID).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, err
	}

	if n.StartNode == "" {
		n.StartNode = game.DefaultStartNode
	}
	edges, err := json.Marshal(n.Edges)
	if err != nil {
		return "", false, err
	}

	id = uuid.NewString()
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sessions (id, owner_id, seed, run_id, label, start_node, edges)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7::jsonb)
	`, id, n.OwnerID, n.Seed, n.RunID, n.Label, n.StartNode, edges)
	if err != nil {
		return "", false, err
	}
	p.log.Info("session.created", "id", id, "owner", n.OwnerID, "edges", len(n.Edges))
	return id, true, nil
}

// LoadSession fetches a session with its full graph and discovery state.
func (p *Postgres) LoadSession(ctx context.Context, id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, ErrNotFound
	}

	row := p.pool.QueryRow(ctx, `
		SELECT id, owner_id, seed, run_id, COALESCE(label, ''), start_node,
		       edges, discovered_links, node_positions, tags, created_at, updated_at
		FROM sessions
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	var (
		s                             Session
		edges, links, positions, tags []byte
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.Seed, &s.RunID, &s.Label, &s.StartNode,
		&edges, &links, &positions, &tags, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}

	for _, col := range []struct {
		raw []byte
		dst any
	}{
		{edges, &s.Edges},
		{links, &s.DiscoveredLinks},
		{positions, &s.NodePositions},
		{tags, &s.Tags},
	} {
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return Session{}, fmt.Errorf("session %s: %w", id, err)
		}
	}
	return s, nil
}

// ListSessions returns the owner's sessions sorted by last update.
func (p *Postgres) ListSessions(ctx context.Context, ownerID string) ([]SessionSummary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, seed, run_id, COALESCE(label, ''), start_node,
		       jsonb_array_length(discovered_links), created_at, updated_at
		FROM sessions
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.ID, &s.Seed, &s.RunID, &s.Label, &s.StartNode, &s.Links, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountSessions counts the owner's live sessions, for the per-user cap.
func (p *Postgres) CountSessions(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM sessions WHERE owner_id = $1 AND deleted_at IS NULL
	`, ownerID).Scan(&n)
	return n, err
}

// RenameSession updates a session's label, checking ownership.
func (p *Postgres) RenameSession(ctx context.Context, id, ownerID, label string) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE sessions SET label = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
	`, id, ownerID, label)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession soft-deletes a session, checking ownership.
func (p *Postgres) DeleteSession(ctx context.Context, id, ownerID string) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE sessions SET deleted_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
	`, id, ownerID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeDiscoveredLinks appends newly discovered links to the jsonb array.
// Append, never replace: a concurrent writer's links are preserved.
func (p *Postgres) MergeDiscoveredLinks(ctx context.Context, id string, links []game.DiscoveredLink) error {
	if len(links) == 0 {
		return nil
	}
	raw, err := json.Marshal(links)
	if err != nil {
		return err
	}
	ct, err := p.pool.Exec(ctx, `
		UPDATE sessions
		SET discovered_links = discovered_links || $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, raw)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeNodePositions merges a partial position map into the stored one,
// last writer wins per key.
func (p *Postgres) MergeNodePositions(ctx context.Context, id string, positions map[string]game.Point) error {
	if len(positions) == 0 {
		return nil
	}
	raw, err := json.Marshal(positions)
	if err != nil {
		return err
	}
	ct, err := p.pool.Exec(ctx, `
		UPDATE sessions
		SET node_positions = node_positions || $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, raw)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeTags sets one zone's tag list; an empty list removes the zone's key.
func (p *Postgres) MergeTags(ctx context.Context, id, zone string, tags []string) error {
	var (
		ct  pgconn.CommandTag
		err error
	)
	if len(tags) == 0 {
		ct, err = p.pool.Exec(ctx, `
			UPDATE sessions SET tags = tags - $2, updated_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL
		`, id, zone)
	} else {
		var raw []byte
		raw, err = json.Marshal(tags)
		if err != nil {
			return err
		}
		ct, err = p.pool.Exec(ctx, `
			UPDATE sessions SET tags = jsonb_set(tags, ARRAY[$2], $3::jsonb, true), updated_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL
		`, id, zone, raw)
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
