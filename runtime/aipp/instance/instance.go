// Package instance defines app instances, the unit of execution of a
// published or preview app flow, and the store contract used to persist them.
package instance

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

type (
	// Status is the lifecycle state of an instance.
	Status string

	// Instance is one execution of an app flow.
	Instance struct {
		// ID uniquely identifies the instance.
		ID string
		// AppID is the app whose flow is executed.
		AppID string
		// AppVersion is the app version at creation time.
		AppVersion string
		// ParentID is set for child instances started by another flow.
		ParentID string
		// ChatID groups instances of one conversation.
		ChatID string
		// FlowDefinitionID is the flow engine definition being executed.
		FlowDefinitionID string
		// TraceID identifies the flow engine execution. Resume and Terminate
		// address the engine through it.
		TraceID string
		// Status is the lifecycle state.
		Status Status
		// FormID and FormVersion identify the form the flow is waiting on.
		FormID      string
		FormVersion string
		// Question is the user input that started the instance.
		Question string
		// Business carries flow inputs and accumulated business data.
		Business map[string]any
		// StartTime is when the instance was created.
		StartTime time.Time
		// EndTime is set once the instance reaches a final status.
		EndTime *time.Time
		// UpdatedAt is the last modification time.
		UpdatedAt time.Time
	}

	// Patch lists the fields of an instance to update. Nil fields are left
	// unchanged.
	Patch struct {
		Status      *Status
		TraceID     *string
		FormID      *string
		FormVersion *string
		EndTime     *time.Time
		// Business entries are merged into the stored map.
		Business map[string]any
		// From, when set, restricts the update to instances whose stored
		// status is one of the listed ones. Update returns ErrStatusConflict
		// otherwise.
		From []Status
	}

	// Store persists instances.
	Store interface {
		// Create inserts a new instance. It returns ErrAlreadyExists when the
		// ID is taken.
		Create(ctx context.Context, inst Instance) error
		// Load returns the instance or ErrNotFound.
		Load(ctx context.Context, id string) (Instance, error)
		// Update applies p and returns the updated instance or ErrNotFound.
		Update(ctx context.Context, id string, p Patch) (Instance, error)
		// ListByApp returns the most recent instances of appID, newest first.
		ListByApp(ctx context.Context, appID string, limit int) ([]Instance, error)
	}
)

const (
	StatusCreated      Status = "created"
	StatusRunning      Status = "running"
	StatusAwaitingForm Status = "awaiting_form"
	StatusTerminated   Status = "terminated"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

var (
	// ErrNotFound is returned when an instance does not exist.
	ErrNotFound = errors.New("instance not found")
	// ErrAlreadyExists is returned by Create for duplicate IDs.
	ErrAlreadyExists = errors.New("instance already exists")
	// ErrStatusConflict is returned by Update when the stored status is
	// not one of Patch.From.
	ErrStatusConflict = errors.New("instance status changed")
)

// Final reports whether s is an end state.
func (s Status) Final() bool {
	switch s {
	case StatusTerminated, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Terminable reports whether an instance in status s may be terminated.
func (s Status) Terminable() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusAwaitingForm:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusCreated:
		return next == StatusRunning || next.Final()
	case StatusRunning:
		return next == StatusRunning || next == StatusAwaitingForm || next.Final()
	case StatusAwaitingForm:
		return next == StatusRunning || next.Final()
	default:
		return false
	}
}

// Validate checks the fields required to persist an instance.
func (i Instance) Validate() error {
	if i.ID == "" {
		return errors.New("instance id is required")
	}
	if i.AppID == "" {
		return errors.New("app id is required")
	}
	switch i.Status {
	case StatusCreated, StatusRunning, StatusAwaitingForm, StatusTerminated, StatusCompleted, StatusError:
	default:
		return fmt.Errorf("invalid status %q", i.Status)
	}
	return nil
}

// Allows reports whether p may be applied to an instance in status s.
func (p Patch) Allows(s Status) bool {
	return len(p.From) == 0 || slices.Contains(p.From, s)
}

// Apply returns a copy of i with p applied.
func (i Instance) Apply(p Patch, now time.Time) Instance {
	out := i.Clone()
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.TraceID != nil {
		out.TraceID = *p.TraceID
	}
	if p.FormID != nil {
		out.FormID = *p.FormID
	}
	if p.FormVersion != nil {
		out.FormVersion = *p.FormVersion
	}
	if p.EndTime != nil {
		at := p.EndTime.UTC()
		out.EndTime = &at
	}
	if len(p.Business) > 0 {
		if out.Business == nil {
			out.Business = make(map[string]any, len(p.Business))
		}
		for k, v := range p.Business {
			out.Business[k] = v
		}
	}
	out.UpdatedAt = now.UTC()
	return out
}

// Clone returns a copy of i that shares no mutable state.
func (i Instance) Clone() Instance {
	out := i
	if i.Business != nil {
		out.Business = make(map[string]any, len(i.Business))
		for k, v := range i.Business {
			out.Business[k] = v
		}
	}
	if i.EndTime != nil {
		at := *i.EndTime
		out.EndTime = &at
	}
	return out
}

// StatusPtr returns a pointer to s for use in Patch.
func StatusPtr(s Status) *Status { return &s }

// StringPtr returns a pointer to s for use in Patch.
func StringPtr(s string) *string { return &s }
