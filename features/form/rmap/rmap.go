// Package rmap stores form definitions in a Pulse replicated map so every
// node of a deployment resolves the same forms without a database round trip.
package rmap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/form"
)

type (
	// Map is the replicated-map contract used by the repository. It is
	// satisfied by *rmap.Map from goa.design/pulse/rmap.
	Map interface {
		Delete(ctx context.Context, key string) (string, error)
		Get(key string) (string, bool)
		Keys() []string
		Set(ctx context.Context, key, value string) (string, error)
	}

	// Repository implements form.Repository on a replicated map.
	Repository struct {
		m Map
	}

	formValue struct {
		ID         string          `json:"id"`
		Version    string          `json:"version"`
		Name       string          `json:"name,omitempty"`
		Schema     json.RawMessage `json:"schema,omitempty"`
		Appearance json.RawMessage `json:"appearance,omitempty"`
	}
)

const formKeyPrefix = "aipp:form:"

var _ form.Repository = (*Repository)(nil)

// New returns a Repository backed by m.
func New(m Map) *Repository {
	return &Repository{m: m}
}

// Get returns the form with the given ID and version.
func (r *Repository) Get(ctx context.Context, id, version string) (form.Form, error) {
	if err := ctx.Err(); err != nil {
		return form.Form{}, err
	}
	val, ok := r.m.Get(formKey(id, version))
	if !ok {
		return form.Form{}, form.ErrNotFound
	}
	var v formValue
	if err := json.Unmarshal([]byte(val), &v); err != nil {
		return form.Form{}, fmt.Errorf("unmarshal form %q: %w", form.Key(id, version), err)
	}
	return form.Form{
		ID:         v.ID,
		Version:    v.Version,
		Name:       v.Name,
		Schema:     v.Schema,
		Appearance: v.Appearance,
	}, nil
}

// Put validates and stores f, replacing any form with the same ID and
// version.
func (r *Repository) Put(ctx context.Context, f form.Form) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(formValue{
		ID:         f.ID,
		Version:    f.Version,
		Name:       f.Name,
		Schema:     f.Schema,
		Appearance: f.Appearance,
	})
	if err != nil {
		return fmt.Errorf("marshal form %q: %w", form.Key(f.ID, f.Version), err)
	}
	if _, err := r.m.Set(ctx, formKey(f.ID, f.Version), string(b)); err != nil {
		return fmt.Errorf("store form %q: %w", form.Key(f.ID, f.Version), err)
	}
	return nil
}

// Delete removes a form.
func (r *Repository) Delete(ctx context.Context, id, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := formKey(id, version)
	if _, ok := r.m.Get(key); !ok {
		return form.ErrNotFound
	}
	if _, err := r.m.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete form %q: %w", form.Key(id, version), err)
	}
	return nil
}

// Versions lists the stored versions of form id.
func (r *Repository) Versions(id string) []string {
	prefix := formKeyPrefix + id + "@"
	var out []string
	for _, k := range r.m.Keys() {
		if v, ok := strings.CutPrefix(k, prefix); ok {
			out = append(out, v)
		}
	}
	return out
}

func formKey(id, version string) string {
	return formKeyPrefix + form.Key(id, version)
}
