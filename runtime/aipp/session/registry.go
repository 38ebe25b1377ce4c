package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/telemetry"
)

type (
	// Registry maps instance IDs to live channels. It is safe for concurrent
	// use. Removal and an in-flight Send on the same channel are not ordered:
	// a message may still reach a channel whose registration was just removed.
	Registry struct {
		mu        sync.RWMutex
		handles   map[string]handle
		byChannel map[Channel]map[string]struct{}
		logger    telemetry.Logger
	}

	handle struct {
		ch    Channel
		latch *Latch
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// WithLogger sets the logger used to report replaced registrations.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handles:   make(map[string]handle),
		byChannel: make(map[Channel]map[string]struct{}),
		logger:    telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Add registers ch as the live channel of instanceID and returns the latch
// paired with this registration. An existing registration for the same
// instance is replaced (last write wins) and its latch released with
// Replaced.
func (r *Registry) Add(instanceID string, ch Channel) (*Latch, error) {
	if instanceID == "" {
		return nil, errors.New("instance id is required")
	}
	if ch == nil {
		return nil, errors.New("channel is required")
	}
	latch := NewLatch()

	r.mu.Lock()
	prev, replaced := r.handles[instanceID]
	if replaced {
		r.unindexLocked(prev.ch, instanceID)
	}
	r.handles[instanceID] = handle{ch: ch, latch: latch}
	ids, ok := r.byChannel[ch]
	if !ok {
		ids = make(map[string]struct{})
		r.byChannel[ch] = ids
	}
	ids[instanceID] = struct{}{}
	r.mu.Unlock()

	if replaced {
		prev.latch.release(Replaced)
		if prev.ch != ch {
			r.logger.Warn(context.Background(), "session replaced", "instance_id", instanceID)
		}
	}
	return latch, nil
}

// Get returns the live channel of instanceID.
func (r *Registry) Get(instanceID string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[instanceID]
	if !ok {
		return nil, false
	}
	return h.ch, true
}

// Latch returns the latch of the current registration of instanceID.
func (r *Registry) Latch(instanceID string) (*Latch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[instanceID]
	if !ok {
		return nil, false
	}
	return h.latch, true
}

// Wait blocks on the latch of the current registration of instanceID. See
// Latch.Wait for the release, cancellation and timeout semantics.
func (r *Registry) Wait(ctx context.Context, instanceID string, timeout time.Duration) (Release, error) {
	l, ok := r.Latch(instanceID)
	if !ok {
		return Pending, ErrNotRegistered
	}
	return l.Wait(ctx, timeout)
}

// Complete releases the latch of instanceID with Completed. The registration
// stays in place so late events can still be delivered until the waiter
// removes it. Complete reports whether a pending latch was released.
func (r *Registry) Complete(instanceID string) bool {
	l, ok := r.Latch(instanceID)
	if !ok {
		return false
	}
	return l.release(Completed)
}

// Remove deregisters instanceID. It is a no-op when the instance has no
// registration. The registration's latch is released with Removed if it was
// still pending.
func (r *Registry) Remove(instanceID string) bool {
	r.mu.Lock()
	h, ok := r.handles[instanceID]
	if ok {
		delete(r.handles, instanceID)
		r.unindexLocked(h.ch, instanceID)
	}
	r.mu.Unlock()
	if ok {
		h.latch.release(Removed)
	}
	return ok
}

// RemoveChannel deregisters every instance whose live channel is ch and
// returns their IDs. Calling it again, or with an unknown channel, is a
// no-op.
func (r *Registry) RemoveChannel(ch Channel) []string {
	if ch == nil {
		return nil
	}
	r.mu.Lock()
	ids := r.byChannel[ch]
	delete(r.byChannel, ch)
	removed := make([]string, 0, len(ids))
	latches := make([]*Latch, 0, len(ids))
	for id := range ids {
		if h, ok := r.handles[id]; ok && h.ch == ch {
			delete(r.handles, id)
			removed = append(removed, id)
			latches = append(latches, h.latch)
		}
	}
	r.mu.Unlock()
	for _, l := range latches {
		l.release(Removed)
	}
	return removed
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

func (r *Registry) unindexLocked(ch Channel, instanceID string) {
	ids, ok := r.byChannel[ch]
	if !ok {
		return
	}
	delete(ids, instanceID)
	if len(ids) == 0 {
		delete(r.byChannel, ch)
	}
}
