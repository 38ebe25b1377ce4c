package temporal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/flow"
)

type (
	// Map is the replicated-map contract used to store definitions. It is
	// satisfied by *rmap.Map from goa.design/pulse/rmap.
	Map interface {
		Delete(ctx context.Context, key string) (string, error)
		Get(key string) (string, bool)
		Set(ctx context.Context, key, value string) (string, error)
	}

	definitionValue struct {
		ID        string          `json:"id"`
		Version   string          `json:"version,omitempty"`
		Graph     json.RawMessage `json:"graph"`
		Published bool            `json:"published,omitempty"`
		UpdatedAt time.Time       `json:"updated_at"`
	}
)

const definitionKeyPrefix = "aipp:flowdef:"

// CreateDefinition implements flow.Engine.
func (e *Engine) CreateDefinition(ctx context.Context, def flow.Definition) (flow.Definition, error) {
	if err := def.Validate(); err != nil {
		return flow.Definition{}, err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.Published = false
	def.UpdatedAt = e.now().UTC()
	if err := e.putDefinition(ctx, def); err != nil {
		return flow.Definition{}, err
	}
	return def, nil
}

// UpdateDefinition implements flow.Engine.
func (e *Engine) UpdateDefinition(ctx context.Context, def flow.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	cur, err := e.GetDefinition(ctx, def.ID)
	if err != nil {
		return err
	}
	if cur.Published {
		return flow.ErrPublished
	}
	cur.Graph = def.Graph
	if def.Version != "" {
		cur.Version = def.Version
	}
	cur.UpdatedAt = e.now().UTC()
	return e.putDefinition(ctx, cur)
}

// PublishDefinition implements flow.Engine.
func (e *Engine) PublishDefinition(ctx context.Context, id, version string) error {
	cur, err := e.GetDefinition(ctx, id)
	if err != nil {
		return err
	}
	cur.Published = true
	cur.Version = version
	cur.UpdatedAt = e.now().UTC()
	return e.putDefinition(ctx, cur)
}

// DeleteDefinition implements flow.Engine.
func (e *Engine) DeleteDefinition(ctx context.Context, id string) error {
	key := definitionKey(id)
	if _, ok := e.defs.Get(key); !ok {
		return flow.ErrNotFound
	}
	if _, err := e.defs.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete flow definition %q: %w", id, err)
	}
	return nil
}

// GetDefinition implements flow.Engine.
func (e *Engine) GetDefinition(ctx context.Context, id string) (flow.Definition, error) {
	if err := ctx.Err(); err != nil {
		return flow.Definition{}, err
	}
	val, ok := e.defs.Get(definitionKey(id))
	if !ok {
		return flow.Definition{}, flow.ErrNotFound
	}
	var v definitionValue
	if err := json.Unmarshal([]byte(val), &v); err != nil {
		return flow.Definition{}, fmt.Errorf("unmarshal flow definition %q: %w", id, err)
	}
	return flow.Definition{
		ID:        v.ID,
		Version:   v.Version,
		Graph:     v.Graph,
		Published: v.Published,
		UpdatedAt: v.UpdatedAt,
	}, nil
}

func (e *Engine) putDefinition(ctx context.Context, def flow.Definition) error {
	b, err := json.Marshal(definitionValue{
		ID:        def.ID,
		Version:   def.Version,
		Graph:     def.Graph,
		Published: def.Published,
		UpdatedAt: def.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal flow definition %q: %w", def.ID, err)
	}
	if _, err := e.defs.Set(ctx, definitionKey(def.ID), string(b)); err != nil {
		return fmt.Errorf("store flow definition %q: %w", def.ID, err)
	}
	return nil
}

func definitionKey(id string) string {
	return definitionKeyPrefix + id
}
