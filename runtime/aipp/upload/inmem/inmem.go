// Package inmem provides an in-memory upload.Store.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/upload"
)

// Store is an in-memory upload.Store. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	files map[string]upload.File
}

// New returns an empty Store.
func New() *Store {
	return &Store{files: make(map[string]upload.File)}
}

// Create implements upload.Store.
func (s *Store) Create(_ context.Context, f upload.File) (upload.File, error) {
	if err := f.Validate(); err != nil {
		return upload.File{}, err
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.ID] = f
	return f, nil
}

// Get implements upload.Store.
func (s *Store) Get(_ context.Context, id string) (upload.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return upload.File{}, upload.ErrNotFound
	}
	return f, nil
}

// ListByApp implements upload.Store. Files are ordered oldest first.
func (s *Store) ListByApp(_ context.Context, appID string) ([]upload.File, error) {
	s.mu.RLock()
	var out []upload.File
	for _, f := range s.files {
		if f.AppID == appID {
			out = append(out, f)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete implements upload.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return upload.ErrNotFound
	}
	delete(s.files, id)
	return nil
}
