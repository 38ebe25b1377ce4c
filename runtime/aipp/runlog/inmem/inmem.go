// Package inmem provides an in-memory implementation of runlog.Store for
// tests and local development.
package inmem

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
)

// Store implements runlog.Store in memory.
type Store struct {
	mu      sync.Mutex
	nextSeq map[string]int64
	records map[string][]*runlog.Record
	paths   map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nextSeq: make(map[string]int64),
		records: make(map[string][]*runlog.Record),
		paths:   make(map[string]string),
	}
}

// Append implements runlog.Store.
func (s *Store) Append(_ context.Context, r *runlog.Record) error {
	if r == nil {
		return fmt.Errorf("record is required")
	}
	if r.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[r.InstanceID] + 1
	s.nextSeq[r.InstanceID] = seq
	r.ID = strconv.FormatInt(seq, 10)
	s.records[r.InstanceID] = append(s.records[r.InstanceID], r.Clone())
	s.paths[r.InstanceID] = r.Path.String()
	return nil
}

// List implements runlog.Store.
func (s *Store) List(_ context.Context, instanceID, cursor string, limit int) (runlog.Page, error) {
	if instanceID == "" {
		return runlog.Page{}, fmt.Errorf("instance_id is required")
	}
	if limit <= 0 {
		return runlog.Page{}, fmt.Errorf("limit must be > 0")
	}
	var after int
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return runlog.Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		after = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.records[instanceID]
	if after >= len(all) {
		return runlog.Page{}, nil
	}
	end := min(after+limit, len(all))
	out := make([]*runlog.Record, 0, end-after)
	for _, r := range all[after:end] {
		out = append(out, r.Clone())
	}
	var next string
	if end < len(all) {
		next = out[len(out)-1].ID
	}
	return runlog.Page{Records: out, NextCursor: next}, nil
}

// PathOf implements runlog.Store. It returns the path of the most recent
// record of instanceID.
func (s *Store) PathOf(_ context.Context, instanceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.paths[instanceID]
	if !ok {
		return "", runlog.ErrNotFound
	}
	return p, nil
}

// SetRawPath overrides the serialized path recorded for instanceID. It lets
// tests seed paths written by older producers, including malformed ones.
func (s *Store) SetRawPath(instanceID, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[instanceID] = raw
}
