// Package websocket adapts gorilla/websocket connections to session
// channels. One connection may carry the messages of many instances.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
)

type (
	// Channel is a session.Channel writing JSON text frames to a WebSocket
	// connection. Writes are serialized.
	Channel struct {
		conn         *websocket.Conn
		writeTimeout time.Duration

		mu     sync.Mutex
		closed bool
		done   chan struct{}
	}

	// Options configures a Channel.
	Options struct {
		// WriteTimeout bounds each frame write. Defaults to 10s.
		WriteTimeout time.Duration
	}
)

// DefaultWriteTimeout bounds frame writes when Options leaves it unset.
const DefaultWriteTimeout = 10 * time.Second

// ErrClosed is returned by Send after the channel was closed.
var ErrClosed = errors.New("websocket channel closed")

// NewChannel wraps conn.
func NewChannel(conn *websocket.Conn, opts Options) *Channel {
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Channel{conn: conn, writeTimeout: timeout, done: make(chan struct{})}
}

// Upgrade upgrades the request and wraps the resulting connection.
func Upgrade(w http.ResponseWriter, r *http.Request, up *websocket.Upgrader, opts Options) (*Channel, error) {
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewChannel(conn, opts), nil
}

// Send writes msg as one JSON text frame.
func (c *Channel) Send(ctx context.Context, msg session.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// ReadJSON reads the next client frame into v.
func (c *Channel) ReadJSON(v any) error {
	return c.conn.ReadJSON(v)
}

// Done is closed once Close has been called.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close sends a normal closure frame and closes the connection. Later calls
// are no-ops.
func (c *Channel) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
