// Package inmem provides an in-memory implementation of instance.Store.
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
)

// Store is an in-memory instance.Store. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	instances map[string]instance.Instance
	now       func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		instances: make(map[string]instance.Instance),
		now:       time.Now,
	}
}

// Create implements instance.Store.
func (s *Store) Create(_ context.Context, inst instance.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; ok {
		return instance.ErrAlreadyExists
	}
	if inst.UpdatedAt.IsZero() {
		inst.UpdatedAt = s.now().UTC()
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

// Load implements instance.Store.
func (s *Store) Load(_ context.Context, id string) (instance.Instance, error) {
	if id == "" {
		return instance.Instance{}, errors.New("instance id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return instance.Instance{}, instance.ErrNotFound
	}
	return inst.Clone(), nil
}

// Update implements instance.Store.
func (s *Store) Update(_ context.Context, id string, p instance.Patch) (instance.Instance, error) {
	if id == "" {
		return instance.Instance{}, errors.New("instance id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return instance.Instance{}, instance.ErrNotFound
	}
	if !p.Allows(inst.Status) {
		return instance.Instance{}, instance.ErrStatusConflict
	}
	out := inst.Apply(p, s.now())
	s.instances[id] = out
	return out.Clone(), nil
}

// ListByApp implements instance.Store.
func (s *Store) ListByApp(_ context.Context, appID string, limit int) ([]instance.Instance, error) {
	if appID == "" {
		return nil, errors.New("app id is required")
	}
	s.mu.RLock()
	var out []instance.Instance
	for _, inst := range s.instances {
		if inst.AppID == appID {
			out = append(out, inst.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
