// Package inmem provides an in-memory form.Repository.
package inmem

import (
	"context"
	"sync"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/form"
)

// Repository is an in-memory form.Repository. It is safe for concurrent use.
type Repository struct {
	mu    sync.RWMutex
	forms map[string]form.Form
}

// New returns a Repository seeded with forms.
func New(forms ...form.Form) *Repository {
	r := &Repository{forms: make(map[string]form.Form, len(forms))}
	for _, f := range forms {
		r.forms[form.Key(f.ID, f.Version)] = f.Clone()
	}
	return r
}

// Get implements form.Repository.
func (r *Repository) Get(_ context.Context, id, version string) (form.Form, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.forms[form.Key(id, version)]
	if !ok {
		return form.Form{}, form.ErrNotFound
	}
	return f.Clone(), nil
}

// Put implements form.Repository.
func (r *Repository) Put(_ context.Context, f form.Form) error {
	if err := f.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forms[form.Key(f.ID, f.Version)] = f.Clone()
	return nil
}

// Delete implements form.Repository.
func (r *Repository) Delete(_ context.Context, id, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.forms, form.Key(id, version))
	return nil
}
