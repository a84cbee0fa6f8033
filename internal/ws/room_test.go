package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbignon/er-fog-vizu/internal/game"
)

func testRoom() *Room {
	return newRoom("s1", game.NewState("Start", nil, nil, nil, nil))
}

// recv drains one frame from a connection's outbound queue without blocking.
func recv(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case b := <-c.out:
		return b
	default:
		return nil
	}
}

func TestClaim(t *testing.T) {
	t.Run("second mod is rejected and the first keeps its slot", func(t *testing.T) {
		rm := testRoom()
		first := newConn(nil, roleMod)
		second := newConn(nil, roleMod)

		require.True(t, rm.claim(first, 10))
		assert.False(t, rm.claim(second, 10))
		assert.Same(t, first, rm.mod)
	})

	t.Run("second host is rejected", func(t *testing.T) {
		rm := testRoom()
		require.True(t, rm.claim(newConn(nil, roleHost), 10))
		assert.False(t, rm.claim(newConn(nil, roleHost), 10))
	})

	t.Run("mod and host coexist", func(t *testing.T) {
		rm := testRoom()
		assert.True(t, rm.claim(newConn(nil, roleMod), 10))
		assert.True(t, rm.claim(newConn(nil, roleHost), 10))
	})

	t.Run("viewer cap", func(t *testing.T) {
		rm := testRoom()
		assert.True(t, rm.claim(newConn(nil, roleViewer), 2))
		assert.True(t, rm.claim(newConn(nil, roleViewer), 2))
		assert.False(t, rm.claim(newConn(nil, roleViewer), 2))
		assert.Len(t, rm.viewers, 2)
	})
}

func TestRelease(t *testing.T) {
	rm := testRoom()
	mod := newConn(nil, roleMod)
	viewer := newConn(nil, roleViewer)

	require.True(t, rm.claim(mod, 10))
	require.True(t, rm.claim(viewer, 10))
	assert.False(t, rm.empty())

	rm.release(mod)
	assert.False(t, rm.empty())

	rm.release(viewer)
	assert.True(t, rm.empty())

	// Releasing an unregistered connection is harmless.
	rm.release(newConn(nil, roleHost))
	assert.True(t, rm.empty())
}

func TestVisualStateCache(t *testing.T) {
	rm := testRoom()
	assert.Nil(t, rm.visualState())

	snapshot := []byte(`{"type":"visual_state","nodes":[]}`)
	rm.cacheVisualState(snapshot)
	assert.Equal(t, snapshot, rm.visualState())
}

func TestBroadcastViewers(t *testing.T) {
	t.Run("delivers to every viewer", func(t *testing.T) {
		rm := testRoom()
		v1 := newConn(nil, roleViewer)
		v2 := newConn(nil, roleViewer)
		require.True(t, rm.claim(v1, 10))
		require.True(t, rm.claim(v2, 10))

		rm.broadcastViewers([]byte(`{"type":"ping"}`))

		assert.NotNil(t, recv(t, v1))
		assert.NotNil(t, recv(t, v2))
	})

	t.Run("a dead viewer is dropped, the rest still receive", func(t *testing.T) {
		rm := testRoom()
		stuck := newConn(nil, roleViewer)
		ok := newConn(nil, roleViewer)
		require.True(t, rm.claim(stuck, 10))
		require.True(t, rm.claim(ok, 10))

		// Fill the queue so the next delivery fails.
		for stuck.sendRaw([]byte(`x`)) {
		}

		rm.broadcastViewers([]byte(`{"type":"ping"}`))

		assert.Len(t, rm.viewers, 1)
		assert.Same(t, ok, rm.viewers[0])
		assert.NotNil(t, recv(t, ok))
	})
}

func TestBroadcastAllExcept(t *testing.T) {
	rm := testRoom()
	mod := newConn(nil, roleMod)
	host := newConn(nil, roleHost)
	viewer := newConn(nil, roleViewer)
	require.True(t, rm.claim(mod, 10))
	require.True(t, rm.claim(host, 10))
	require.True(t, rm.claim(viewer, 10))

	rm.broadcastAllExcept(host, []byte(`{"type":"tag_update"}`))

	assert.NotNil(t, recv(t, mod))
	assert.Nil(t, recv(t, host), "sender must not receive its own broadcast")
	assert.NotNil(t, recv(t, viewer))
}

func TestBroadcastAllExceptDropsDeadSlot(t *testing.T) {
	rm := testRoom()
	mod := newConn(nil, roleMod)
	viewer := newConn(nil, roleViewer)
	require.True(t, rm.claim(mod, 10))
	require.True(t, rm.claim(viewer, 10))

	for mod.sendRaw([]byte(`x`)) {
	}

	rm.broadcastAllExcept(nil, []byte(`{"type":"discovery"}`))

	assert.Nil(t, rm.mod, "dead mod loses its slot")
	assert.NotNil(t, recv(t, viewer))
}
