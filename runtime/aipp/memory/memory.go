// Package memory selects the conversation history passed to a flow as
// context when an instance starts.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/broker"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/chat"
)

type (
	// Type is the memory strategy configured on an app.
	Type string

	// Config is the memory configuration of an app.
	Config struct {
		Type Type `json:"type" yaml:"type"`
		// Turns is the number of recent turns used by ByConversationTurn and
		// offered by UserSelect.
		Turns int `json:"turns,omitempty" yaml:"turns,omitempty"`
		// GenericableID and FitableID address the Customizing strategy.
		GenericableID string         `json:"genericable_id,omitempty" yaml:"genericable_id,omitempty"`
		FitableID     string         `json:"fitable_id,omitempty" yaml:"fitable_id,omitempty"`
		Params        map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	}

	// Turn is one question/answer pair used as memory.
	Turn struct {
		InstanceID string `json:"instance_id,omitempty"`
		Question   string `json:"question"`
		Answer     string `json:"answer"`
	}

	// Outcome is the result of resolving memory for a new instance.
	Outcome struct {
		// Turns is the memory to pass to the flow. For UserSelect it holds the
		// candidates offered to the user.
		Turns []Turn
		// AwaitSelection is true when the user must pick turns before the
		// flow can start.
		AwaitSelection bool
	}

	// Resolver implements the memory strategies.
	Resolver struct {
		chats   chat.Store
		invoker broker.Invoker
	}
)

const (
	NotUseMemory       Type = "not_use_memory"
	ByConversationTurn Type = "by_conversation_turn"
	Customizing        Type = "customizing"
	UserSelect         Type = "user_select"
)

// DefaultTurns is used when a turn-based config does not set Turns.
const DefaultTurns = 3

// NewResolver returns a Resolver. invoker may be nil when no app uses the
// Customizing strategy.
func NewResolver(chats chat.Store, invoker broker.Invoker) *Resolver {
	return &Resolver{chats: chats, invoker: invoker}
}

// Validate checks that c names a known strategy with its parameters.
func (c Config) Validate() error {
	switch c.Type {
	case "", NotUseMemory, ByConversationTurn, UserSelect:
		if c.Turns < 0 {
			return errors.New("memory turns must not be negative")
		}
		return nil
	case Customizing:
		if c.GenericableID == "" || c.FitableID == "" {
			return errors.New("customizing memory requires genericable and fitable ids")
		}
		return nil
	default:
		return fmt.Errorf("unknown memory type %q", c.Type)
	}
}

func (c Config) turns() int {
	if c.Turns > 0 {
		return c.Turns
	}
	return DefaultTurns
}

// Resolve applies cfg to the history of chatID.
func (r *Resolver) Resolve(ctx context.Context, cfg Config, chatID string) (Outcome, error) {
	switch cfg.Type {
	case "", NotUseMemory:
		return Outcome{}, nil
	case ByConversationTurn:
		turns, err := r.recent(ctx, chatID, cfg.turns())
		return Outcome{Turns: turns}, err
	case UserSelect:
		turns, err := r.recent(ctx, chatID, cfg.turns())
		if err != nil {
			return Outcome{}, err
		}
		if len(turns) == 0 {
			return Outcome{}, nil
		}
		return Outcome{Turns: turns, AwaitSelection: true}, nil
	case Customizing:
		return r.custom(ctx, cfg, chatID)
	default:
		return Outcome{}, fmt.Errorf("unknown memory type %q", cfg.Type)
	}
}

// Select returns the candidate turns whose instance IDs are listed in ids,
// preserving history order. Unknown IDs are ignored.
func Select(candidates []Turn, ids []string) []Turn {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []Turn
	for _, t := range candidates {
		if _, ok := want[t.InstanceID]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *Resolver) recent(ctx context.Context, chatID string, n int) ([]Turn, error) {
	if chatID == "" {
		return nil, nil
	}
	recs, err := r.chats.Recent(ctx, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	turns := make([]Turn, 0, len(recs))
	for _, rec := range recs {
		turns = append(turns, Turn{InstanceID: rec.InstanceID, Question: rec.Question, Answer: rec.Answer})
	}
	return turns, nil
}

func (r *Resolver) custom(ctx context.Context, cfg Config, chatID string) (Outcome, error) {
	if r.invoker == nil {
		return Outcome{}, errors.New("customizing memory requires a broker invoker")
	}
	args := map[string]any{"chat_id": chatID}
	for k, v := range cfg.Params {
		args[k] = v
	}
	raw, err := r.invoker.Invoke(ctx, cfg.GenericableID, cfg.FitableID, args)
	if err != nil {
		return Outcome{}, fmt.Errorf("invoke memory fitable: %w", err)
	}
	var turns []Turn
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &turns); err != nil {
			return Outcome{}, fmt.Errorf("decode memory fitable result: %w", err)
		}
	}
	return Outcome{Turns: turns}, nil
}
