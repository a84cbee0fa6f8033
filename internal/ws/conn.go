package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

type role string

const (
	roleMod    role = "mod"
	roleHost   role = "host"
	roleViewer role = "viewer"
)

// accept upgrades HTTP to websocket (allow all origins)
func accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
}

// Conn wraps a websocket with a buffered outbound queue and liveness
// tracking. The queue decouples broadcast from slow peers: a peer that
// cannot drain it is dropped rather than blocking the room.
type Conn struct {
	sock *websocket.Conn
	role role
	out  chan []byte

	mu       sync.Mutex
	lastSeen time.Time
}

func newConn(sock *websocket.Conn, r role) *Conn {
	return &Conn{sock: sock, role: r, out: make(chan []byte, 64), lastSeen: time.Now()}
}

// read blocks until the next text/binary frame and records liveness.
func (c *Conn) read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.sock.Read(ctx)
		if err != nil {
			return nil, err
		}
		c.touch()
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return data, nil
		}
	}
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Conn) sinceSeen() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSeen)
}

// send marshals v onto the outbound queue; false means the peer is too slow
// and should be treated as dead.
func (c *Conn) send(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.sendRaw(b)
}

func (c *Conn) sendRaw(b []byte) bool {
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

// sendNow writes v synchronously, bypassing the queue. Used before the
// writer goroutine exists: handshake replies and pre-registration errors.
func (c *Conn) sendNow(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.sock.Write(wctx, websocket.MessageText, b)
}

// writeLoop drains the outbound queue until ctx is cancelled or a write
// fails. A failed write leaves the reader to observe the closed socket.
func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case b := <-c.out:
			if err := c.sock.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// heartbeat pings the peer every interval and force-closes the socket once
// the liveness window (interval + timeout) passes without inbound traffic.
// Any inbound frame counts as liveness, not just pong.
func (c *Conn) heartbeat(ctx context.Context, interval, timeout time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if c.sinceSeen() > interval+timeout {
				c.close() // unblocks the read loop
				return
			}
			c.send(pingFrame)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) close() {
	if c.sock != nil {
		_ = c.sock.Close(websocket.StatusNormalClosure, "bye")
	}
}
