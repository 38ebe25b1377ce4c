// Package flow defines the contract with the external flow engine that stores
// flow-graph definitions and executes them.
//
// The AIPP service never interprets flow graphs. It creates and versions
// definitions on behalf of apps, starts executions for instances, resumes
// executions paused on forms and terminates them on request. Executions
// report progress back asynchronously through log records and status
// callbacks.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type (
	// Definition is a versioned flow graph.
	Definition struct {
		// ID is assigned by the engine on creation.
		ID string
		// Version is the semantic version of the graph.
		Version string
		// Graph is the opaque graph document.
		Graph json.RawMessage
		// Published reports whether the definition can start executions for
		// end users.
		Published bool
		// UpdatedAt is the last modification time.
		UpdatedAt time.Time
	}

	// StartRequest starts an execution of a definition for an instance.
	StartRequest struct {
		InstanceID       string
		DefinitionID     string
		ParentInstanceID string
		// Input holds the business data passed to the flow start node.
		Input map[string]any
	}

	// ResumeRequest resumes an execution paused on a form.
	ResumeRequest struct {
		InstanceID string
		// TraceID is the execution recorded on the instance when it paused.
		TraceID string
		// FormData is the validated user submission.
		FormData map[string]any
	}

	// Engine is the flow engine client.
	Engine interface {
		// CreateDefinition stores a new definition and returns it with its
		// assigned ID.
		CreateDefinition(ctx context.Context, def Definition) (Definition, error)
		// UpdateDefinition replaces the graph of an unpublished definition.
		UpdateDefinition(ctx context.Context, def Definition) error
		// PublishDefinition marks a definition as published under version.
		PublishDefinition(ctx context.Context, id, version string) error
		// DeleteDefinition removes a definition. Deleting an unknown
		// definition returns ErrNotFound.
		DeleteDefinition(ctx context.Context, id string) error
		// GetDefinition loads a definition.
		GetDefinition(ctx context.Context, id string) (Definition, error)

		// Start begins an execution and returns its trace ID. Start returns
		// once the engine accepted the request; progress is reported
		// asynchronously.
		Start(ctx context.Context, req StartRequest) (string, error)
		// Resume continues an execution paused on a form.
		Resume(ctx context.Context, req ResumeRequest) error
		// Terminate stops an execution.
		Terminate(ctx context.Context, instanceID, traceID string) error
	}
)

var (
	// ErrNotFound is returned for unknown definitions or executions.
	ErrNotFound = errors.New("flow not found")
	// ErrPublished is returned when updating a published definition.
	ErrPublished = errors.New("flow definition is published")
)

// Validate checks that the definition carries a graph.
func (d Definition) Validate() error {
	if len(d.Graph) == 0 {
		return errors.New("flow graph is required")
	}
	if !json.Valid(d.Graph) {
		return errors.New("flow graph must be valid JSON")
	}
	return nil
}
