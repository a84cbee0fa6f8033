package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatSendsPings(t *testing.T) {
	c := newConn(nil, roleViewer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.heartbeat(ctx, 5*time.Millisecond, time.Hour)

	select {
	case b := <-c.out:
		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m))
		assert.Equal(t, "ping", m["type"])
	case <-time.After(time.Second):
		t.Fatal("no ping within deadline")
	}
}

func TestHeartbeatStopsOnLivenessTimeout(t *testing.T) {
	c := newConn(nil, roleViewer)
	c.mu.Lock()
	c.lastSeen = time.Now().Add(-time.Hour)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.heartbeat(context.Background(), 5*time.Millisecond, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not exit after the liveness window")
	}
}

func TestHeartbeatStopsOnCancel(t *testing.T) {
	c := newConn(nil, roleViewer)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.heartbeat(ctx, time.Hour, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat ignored cancellation")
	}
}

func TestTouchResetsLiveness(t *testing.T) {
	c := newConn(nil, roleViewer)
	c.mu.Lock()
	c.lastSeen = time.Now().Add(-time.Hour)
	c.mu.Unlock()

	require.Greater(t, c.sinceSeen(), time.Minute)
	c.touch()
	assert.Less(t, c.sinceSeen(), time.Minute)
}
