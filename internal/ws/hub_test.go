package ws

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbignon/er-fog-vizu/internal/app"
	"github.com/rbignon/er-fog-vizu/internal/game"
	"github.com/rbignon/er-fog-vizu/internal/store"
)

// fakeStore records merge calls; reads come from the preloaded session.
type fakeStore struct {
	session store.Session
	links   []game.DiscoveredLink
	merged  map[string]game.Point
	tags    map[string][]string
}

func newFakeStore(s store.Session) *fakeStore {
	return &fakeStore{session: s, merged: map[string]game.Point{}, tags: map[string][]string{}}
}

func (f *fakeStore) LoadSession(_ context.Context, id string) (store.Session, error) {
	if id != f.session.ID {
		return store.Session{}, store.ErrNotFound
	}
	return f.session, nil
}

func (f *fakeStore) MergeDiscoveredLinks(_ context.Context, _ string, links []game.DiscoveredLink) error {
	f.links = append(f.links, links...)
	return nil
}

func (f *fakeStore) MergeNodePositions(_ context.Context, _ string, positions map[string]game.Point) error {
	for k, v := range positions {
		f.merged[k] = v
	}
	return nil
}

func (f *fakeStore) MergeTags(_ context.Context, _ string, zone string, tags []string) error {
	if len(tags) == 0 {
		delete(f.tags, zone)
		return nil
	}
	f.tags[zone] = tags
	return nil
}

func testHub(db Store) *Hub {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := app.Config{MaxViewers: 10}
	return NewHub(logger, cfg, db, nil)
}

func testSession() store.Session {
	return store.Session{
		ID:        "11111111-1111-1111-1111-111111111111",
		OwnerID:   "user-1",
		StartNode: "Start",
		Edges: []game.Edge{
			{Source: "Start", Destination: "A", Kind: game.EdgePreexisting},
			{Source: "A", Destination: "Start", Kind: game.EdgePreexisting},
			{Source: "A", Destination: "B", Kind: game.EdgeRandom},
			{Source: "B", Destination: "C", Kind: game.EdgePreexisting},
		},
	}
}

func mustDecode(t *testing.T, raw string) inbound {
	t.Helper()
	in, err := decode([]byte(raw))
	require.NoError(t, err)
	return in
}

func decodeFrame(t *testing.T, b []byte) map[string]any {
	t.Helper()
	require.NotNil(t, b, "expected a frame")
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestRegistry(t *testing.T) {
	h := testHub(newFakeStore(testSession()))
	rec := testSession()

	rm := h.getOrCreate(rec.ID, rec)
	assert.Same(t, rm, h.getOrCreate(rec.ID, rec), "same session id yields the same room")

	c := newConn(nil, roleViewer)
	require.True(t, rm.claim(c, 10))

	h.cleanup(rec.ID)
	assert.Same(t, rm, h.getOrCreate(rec.ID, rec), "occupied room survives cleanup")

	rm.release(c)
	h.cleanup(rec.ID)
	assert.NotSame(t, rm, h.getOrCreate(rec.ID, rec), "empty room is deleted")
}

func TestJoin(t *testing.T) {
	h := testHub(newFakeStore(testSession()))
	rec := testSession()

	mod := newConn(nil, roleMod)
	rm, ok := h.join(rec.ID, rec, mod)
	require.True(t, ok)
	assert.Same(t, rm, h.getOrCreate(rec.ID, rec), "a successful join lands in the registered room")

	_, ok = h.join(rec.ID, rec, newConn(nil, roleMod))
	assert.False(t, ok, "second mod is refused")

	rm.release(mod)
	h.cleanup(rec.ID)

	rm2, ok := h.join(rec.ID, rec, newConn(nil, roleHost))
	require.True(t, ok)
	assert.NotSame(t, rm, rm2, "a join after the room emptied gets a fresh one")
	assert.Same(t, rm2, h.getOrCreate(rec.ID, rec))
}

// Joins, disconnects, and cleanups race freely here. The mod slot must stay
// exclusive throughout, and a held claim must always live in the registered
// room; a lookup/claim gap would let a cleanup strand a claimer in a room the
// registry no longer knows.
func TestJoinCleanupRace(t *testing.T) {
	h := testHub(newFakeStore(testSession()))
	rec := testSession()

	var active atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				c := newConn(nil, roleMod)
				rm, ok := h.join(rec.ID, rec, c)
				if !ok {
					continue
				}
				if n := active.Add(1); n > 1 {
					t.Errorf("%d mods active for one session", n)
				}
				if h.getOrCreate(rec.ID, rec) != rm {
					t.Error("claim held in a room the registry dropped")
				}
				active.Add(-1)
				rm.release(c)
				h.cleanup(rec.ID)
			}
		}()
	}
	wg.Wait()
}

func TestDispatchDiscovery(t *testing.T) {
	db := newFakeStore(testSession())
	h := testHub(db)
	rec := testSession()
	rm := h.getOrCreate(rec.ID, rec)

	mod := newConn(nil, roleMod)
	host := newConn(nil, roleHost)
	viewer := newConn(nil, roleViewer)
	require.True(t, rm.claim(mod, 10))
	require.True(t, rm.claim(host, 10))
	require.True(t, rm.claim(viewer, 10))

	h.dispatch(context.Background(), mod, rm, rec.ID, mustDecode(t, `{"type":"discovery","source":"A","target":"B"}`))

	ack := decodeFrame(t, recv(t, mod))
	assert.Equal(t, "discovery_ack", ack["type"])
	assert.Equal(t, []any{map[string]any{"source": "A", "target": "B"}}, ack["propagated"])

	for _, c := range []*Conn{host, viewer} {
		frame := decodeFrame(t, recv(t, c))
		assert.Equal(t, "discovery", frame["type"])
		assert.Equal(t, []any{map[string]any{"source": "A", "target": "B"}}, frame["propagated"])
	}

	require.Len(t, db.links, 1)
	assert.Equal(t, "A", db.links[0].Source)
	assert.Equal(t, "B", db.links[0].Target)
	assert.Equal(t, game.ActorMod, db.links[0].DiscoveredBy)

	t.Run("repeat discovery acks an empty list", func(t *testing.T) {
		h.dispatch(context.Background(), mod, rm, rec.ID, mustDecode(t, `{"type":"discovery","source":"A","target":"B"}`))

		ack := decodeFrame(t, recv(t, mod))
		assert.Equal(t, "discovery_ack", ack["type"])
		assert.Equal(t, []any{}, ack["propagated"])
		assert.Len(t, db.links, 1, "nothing new persisted")
	})

	t.Run("missing target is answered with an error frame", func(t *testing.T) {
		h.dispatch(context.Background(), mod, rm, rec.ID, mustDecode(t, `{"type":"discovery","source":"A"}`))

		frame := decodeFrame(t, recv(t, mod))
		assert.Equal(t, "error", frame["type"])
	})
}

func TestDispatchManualDiscovery(t *testing.T) {
	db := newFakeStore(testSession())
	h := testHub(db)
	rec := testSession()
	rm := h.getOrCreate(rec.ID, rec)

	mod := newConn(nil, roleMod)
	host := newConn(nil, roleHost)
	viewer := newConn(nil, roleViewer)
	require.True(t, rm.claim(mod, 10))
	require.True(t, rm.claim(host, 10))
	require.True(t, rm.claim(viewer, 10))

	h.dispatch(context.Background(), host, rm, rec.ID, mustDecode(t, `{"type":"manual_discovery","source":"A","target":"B"}`))

	// Host-reported discoveries reach mod and viewers, never the sender.
	assert.Equal(t, "discovery", decodeFrame(t, recv(t, mod))["type"])
	assert.Equal(t, "discovery", decodeFrame(t, recv(t, viewer))["type"])
	assert.Nil(t, recv(t, host))

	require.Len(t, db.links, 1)
	assert.Equal(t, game.ActorManual, db.links[0].DiscoveredBy)
}

func TestDispatchVisualState(t *testing.T) {
	db := newFakeStore(testSession())
	h := testHub(db)
	rec := testSession()
	rm := h.getOrCreate(rec.ID, rec)

	mod := newConn(nil, roleMod)
	host := newConn(nil, roleHost)
	viewer := newConn(nil, roleViewer)
	require.True(t, rm.claim(mod, 10))
	require.True(t, rm.claim(host, 10))
	require.True(t, rm.claim(viewer, 10))

	raw := `{"type":"visual_state","viewport":{"zoom":1.5},"selected_node":"A"}`
	h.dispatch(context.Background(), host, rm, rec.ID, mustDecode(t, raw))

	assert.Equal(t, []byte(raw), recv(t, viewer), "viewers get the frame verbatim")
	assert.Nil(t, recv(t, mod), "visual state never reaches the mod")
	assert.Equal(t, []byte(raw), rm.visualState(), "cached for late joiners")
}

func TestDispatchPositionsUpdate(t *testing.T) {
	db := newFakeStore(testSession())
	h := testHub(db)
	rec := testSession()
	rm := h.getOrCreate(rec.ID, rec)

	host := newConn(nil, roleHost)
	viewer := newConn(nil, roleViewer)
	require.True(t, rm.claim(host, 10))
	require.True(t, rm.claim(viewer, 10))

	h.dispatch(context.Background(), host, rm, rec.ID, mustDecode(t, `{"type":"positions_update","positions":{"A":{"x":1,"y":2},"B":{"x":3,"y":4}}}`))
	h.dispatch(context.Background(), host, rm, rec.ID, mustDecode(t, `{"type":"positions_update","positions":{"B":{"x":9,"y":9},"C":{"x":5,"y":6}}}`))

	// Union of keys, later value wins on overlap.
	assert.Equal(t, map[string]game.Point{
		"A": {X: 1, Y: 2},
		"B": {X: 9, Y: 9},
		"C": {X: 5, Y: 6},
	}, db.merged)

	_, positions, _ := rm.state.Snapshot()
	assert.Equal(t, db.merged, positions, "room state and store agree")
	assert.NotNil(t, recv(t, viewer))
}

func TestDispatchTagUpdate(t *testing.T) {
	db := newFakeStore(testSession())
	h := testHub(db)
	rec := testSession()
	rm := h.getOrCreate(rec.ID, rec)

	mod := newConn(nil, roleMod)
	host := newConn(nil, roleHost)
	viewer := newConn(nil, roleViewer)
	require.True(t, rm.claim(mod, 10))
	require.True(t, rm.claim(host, 10))
	require.True(t, rm.claim(viewer, 10))

	h.dispatch(context.Background(), host, rm, rec.ID, mustDecode(t, `{"type":"tag_update","zone":"A","tags":["boss","grace"]}`))

	assert.Equal(t, map[string][]string{"A": {"boss", "grace"}}, db.tags)
	assert.NotNil(t, recv(t, mod), "tag updates reach the mod")
	assert.NotNil(t, recv(t, viewer))
	assert.Nil(t, recv(t, host))

	t.Run("empty tags removes the zone", func(t *testing.T) {
		h.dispatch(context.Background(), host, rm, rec.ID, mustDecode(t, `{"type":"tag_update","zone":"A","tags":[]}`))

		assert.Empty(t, db.tags)
		_, _, tags := rm.state.Snapshot()
		assert.Empty(t, tags)
	})
}

func TestDispatchIgnoresOutOfRoleMessages(t *testing.T) {
	db := newFakeStore(testSession())
	h := testHub(db)
	rec := testSession()
	rm := h.getOrCreate(rec.ID, rec)

	mod := newConn(nil, roleMod)
	viewer := newConn(nil, roleViewer)
	require.True(t, rm.claim(mod, 10))
	require.True(t, rm.claim(viewer, 10))

	// A viewer reporting a discovery is dropped on the floor.
	h.dispatch(context.Background(), viewer, rm, rec.ID, mustDecode(t, `{"type":"discovery","source":"A","target":"B"}`))
	// So is a mod pushing visual state.
	h.dispatch(context.Background(), mod, rm, rec.ID, mustDecode(t, `{"type":"visual_state"}`))

	assert.Nil(t, recv(t, mod))
	assert.Nil(t, recv(t, viewer))
	assert.Empty(t, db.links)
	assert.Nil(t, rm.visualState())
}

func TestDispatchPongIsSilent(t *testing.T) {
	db := newFakeStore(testSession())
	h := testHub(db)
	rec := testSession()
	rm := h.getOrCreate(rec.ID, rec)

	mod := newConn(nil, roleMod)
	viewer := newConn(nil, roleViewer)
	require.True(t, rm.claim(mod, 10))
	require.True(t, rm.claim(viewer, 10))

	h.dispatch(context.Background(), mod, rm, rec.ID, mustDecode(t, `{"type":"pong"}`))

	assert.Nil(t, recv(t, mod))
	assert.Nil(t, recv(t, viewer))
}
