// Package inmem provides an in-memory app.Store.
package inmem

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
)

// Store is an in-memory app.Store. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	apps map[string]app.App
}

// New returns an empty Store.
func New() *Store {
	return &Store{apps: make(map[string]app.App)}
}

// Create implements app.Store.
func (s *Store) Create(_ context.Context, a app.App) error {
	if a.ID == "" {
		return errors.New("app id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[a.ID]; ok {
		return errors.New("app id already exists")
	}
	if s.nameTakenLocked(a) {
		return app.ErrDuplicateName
	}
	s.apps[a.ID] = a.Clone()
	return nil
}

// Get implements app.Store.
func (s *Store) Get(_ context.Context, id string) (app.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.apps[id]
	if !ok {
		return app.App{}, app.ErrNotFound
	}
	return a.Clone(), nil
}

// Update implements app.Store.
func (s *Store) Update(_ context.Context, a app.App) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[a.ID]; !ok {
		return app.ErrNotFound
	}
	if s.nameTakenLocked(a) {
		return app.ErrDuplicateName
	}
	s.apps[a.ID] = a.Clone()
	return nil
}

// Delete implements app.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[id]; !ok {
		return app.ErrNotFound
	}
	delete(s.apps, id)
	return nil
}

// List implements app.Store.
func (s *Store) List(_ context.Context, f app.Filter) ([]app.App, error) {
	s.mu.RLock()
	var out []app.App
	for _, a := range s.apps {
		if a.PreviewOf != "" && !f.IncludePreview {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.NameContains != "" && !strings.Contains(a.Name, f.NameContains) {
			continue
		}
		out = append(out, a.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) nameTakenLocked(a app.App) bool {
	for id, other := range s.apps {
		if id != a.ID && other.Name == a.Name && other.Version == a.Version {
			return true
		}
	}
	return false
}
