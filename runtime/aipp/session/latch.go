package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Release records why a latch was released.
type Release int

const (
	// Pending means the latch has not been released.
	Pending Release = iota
	// Completed means the instance reported a terminal event.
	Completed
	// Removed means the session was deregistered before completing, for
	// example because the client connection closed.
	Removed
	// Replaced means a new channel was registered for the same instance.
	Replaced
)

// String implements fmt.Stringer.
func (r Release) String() string {
	switch r {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Removed:
		return "removed"
	case Replaced:
		return "replaced"
	default:
		return fmt.Sprintf("release(%d)", int(r))
	}
}

// Latch is a one-shot completion signal. It is released at most once; later
// releases are ignored and the first reason sticks.
type Latch struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason Release
}

// NewLatch returns an unreleased latch.
func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Done returns a channel closed when the latch is released.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// Reason returns the release reason, or Pending.
func (l *Latch) Reason() Release {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// release closes the latch with reason r. It reports whether this call
// performed the release.
func (l *Latch) release(r Release) bool {
	released := false
	l.once.Do(func() {
		l.mu.Lock()
		l.reason = r
		l.mu.Unlock()
		close(l.done)
		released = true
	})
	return released
}

// Wait blocks until the latch is released, ctx is done or timeout elapses.
// A non-positive timeout is rejected: every wait must be bounded. On timeout
// Wait returns ErrWaitTimeout.
func (l *Latch) Wait(ctx context.Context, timeout time.Duration) (Release, error) {
	if timeout <= 0 {
		return Pending, errors.New("wait timeout must be positive")
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.done:
		return l.Reason(), nil
	case <-ctx.Done():
		return Pending, ctx.Err()
	case <-timer.C:
		return Pending, fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
	}
}
