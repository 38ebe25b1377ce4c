// Package form describes the forms a flow can pause on and validates the
// data users submit to resume it.
package form

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Form is a versioned form definition.
	Form struct {
		ID      string
		Version string
		Name    string
		// Schema is the JSON Schema submitted data must satisfy. An empty
		// schema accepts any object.
		Schema json.RawMessage
		// Appearance is the opaque rendering metadata sent to clients.
		Appearance json.RawMessage
	}

	// Repository looks up forms by ID and version.
	Repository interface {
		Get(ctx context.Context, id, version string) (Form, error)
		Put(ctx context.Context, f Form) error
		Delete(ctx context.Context, id, version string) error
	}
)

// ErrNotFound is returned when a form does not exist.
var ErrNotFound = errors.New("form not found")

// Key returns the repository key of a form ID and version.
func Key(id, version string) string {
	return id + "@" + version
}

// Validate checks the required identity fields and that Schema, when set,
// compiles.
func (f Form) Validate() error {
	if f.ID == "" {
		return errors.New("form id is required")
	}
	if f.Version == "" {
		return errors.New("form version is required")
	}
	if len(f.Schema) > 0 {
		if _, err := compile(f.Schema); err != nil {
			return fmt.Errorf("form schema: %w", err)
		}
	}
	return nil
}

// ValidateData validates submitted data against the form schema.
func (f Form) ValidateData(data map[string]any) error {
	if len(f.Schema) == 0 {
		return nil
	}
	schema, err := compile(f.Schema)
	if err != nil {
		return fmt.Errorf("form schema: %w", err)
	}
	// Round-trip through JSON so numbers use the representation the
	// validator expects.
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode form data: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode form data: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("form data does not match schema: %w", err)
	}
	return nil
}

func compile(schemaBytes json.RawMessage) (*jsonschema.Schema, error) {
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("form.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("form.json")
}

// Clone returns a copy of f that shares no byte slices.
func (f Form) Clone() Form {
	out := f
	out.Schema = append(json.RawMessage(nil), f.Schema...)
	out.Appearance = append(json.RawMessage(nil), f.Appearance...)
	return out
}
