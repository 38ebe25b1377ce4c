// Package sse adapts an HTTP response to a session channel using the
// Server-Sent Events wire format.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
)

// Channel is a session.Channel writing one SSE event per message. The
// handler that created it must keep the request open until Done is closed.
type Channel struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("sse channel closed")

// New writes the event stream headers and returns a Channel on w. It fails
// when w cannot flush.
func New(w http.ResponseWriter) (*Channel, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Channel{w: w, flusher: flusher, done: make(chan struct{})}, nil
}

// Send writes msg as an event named after the message type.
func (c *Channel) Send(_ context.Context, msg session.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Done is closed by Close.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close ends the stream. The response itself completes when the handler
// returns.
func (c *Channel) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}
