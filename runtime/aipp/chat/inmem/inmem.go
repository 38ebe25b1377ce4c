// Package inmem provides an in-memory chat.Store.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/chat"
)

// Store is an in-memory chat.Store. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	byChat map[string][]chat.Record
	byInst map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byChat: make(map[string][]chat.Record),
		byInst: make(map[string]string),
	}
}

// Append implements chat.Store.
func (s *Store) Append(_ context.Context, r chat.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byChat[r.ChatID] = append(s.byChat[r.ChatID], r)
	s.byInst[r.InstanceID] = r.ChatID
	return nil
}

// SetAnswer implements chat.Store.
func (s *Store) SetAnswer(_ context.Context, instanceID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chatID, ok := s.byInst[instanceID]
	if !ok {
		return chat.ErrNotFound
	}
	recs := s.byChat[chatID]
	for i := range recs {
		if recs[i].InstanceID == instanceID {
			recs[i].Answer = answer
			return nil
		}
	}
	return chat.ErrNotFound
}

// DeleteTurn implements chat.Store.
func (s *Store) DeleteTurn(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chatID, ok := s.byInst[instanceID]
	if !ok {
		return nil
	}
	delete(s.byInst, instanceID)
	recs := s.byChat[chatID]
	for i := range recs {
		if recs[i].InstanceID == instanceID {
			s.byChat[chatID] = append(recs[:i:i], recs[i+1:]...)
			break
		}
	}
	if len(s.byChat[chatID]) == 0 {
		delete(s.byChat, chatID)
	}
	return nil
}

// Recent implements chat.Store.
func (s *Store) Recent(_ context.Context, chatID string, n int) ([]chat.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.byChat[chatID]
	if n > 0 && len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return append([]chat.Record(nil), recs...), nil
}

// DeleteChat implements chat.Store.
func (s *Store) DeleteChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.byChat[chatID] {
		delete(s.byInst, r.InstanceID)
	}
	delete(s.byChat, chatID)
	return nil
}
