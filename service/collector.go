package service

import (
	"context"
	"sync"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
)

// collector is the session channel of a synchronous HTTP run. It keeps the
// messages pushed while the caller waits so they can be returned at once.
type collector struct {
	mu   sync.Mutex
	msgs []session.Message
}

func (c *collector) Send(_ context.Context, msg session.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) Close(context.Context) error { return nil }

func (c *collector) messages() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.Message(nil), c.msgs...)
}
