// Package broker invokes remote "fitable" implementations of a generic
// interface. Pluggable strategies such as custom memory retrieval are
// addressed by a genericable ID and a fitable ID.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Invoker calls a fitable and returns its JSON result.
type Invoker interface {
	Invoke(ctx context.Context, genericableID, fitableID string, args map[string]any) (json.RawMessage, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, genericableID, fitableID string, args map[string]any) (json.RawMessage, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, genericableID, fitableID string, args map[string]any) (json.RawMessage, error) {
	return f(ctx, genericableID, fitableID, args)
}

// ErrNoFitable is returned when no implementation is registered for the
// requested IDs.
var ErrNoFitable = errors.New("no fitable registered")

// Registry is an Invoker dispatching to fitables registered in process. It
// is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	fitables map[string]Invoker
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fitables: make(map[string]Invoker)}
}

// Register installs inv for the given IDs, replacing any previous fitable.
func (r *Registry) Register(genericableID, fitableID string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fitables[genericableID+"/"+fitableID] = inv
}

// Invoke implements Invoker. It returns ErrNoFitable for unknown IDs.
func (r *Registry) Invoke(ctx context.Context, genericableID, fitableID string, args map[string]any) (json.RawMessage, error) {
	r.mu.RLock()
	inv, ok := r.fitables[genericableID+"/"+fitableID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoFitable, genericableID, fitableID)
	}
	return inv.Invoke(ctx, genericableID, fitableID, args)
}
