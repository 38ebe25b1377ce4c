// Package inmem provides an in-memory flow.Engine for tests and local
// development. Executions never progress on their own: callers drive them
// through the orchestrator's status and log callbacks.
package inmem

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/flow"
)

type (
	// Engine is an in-memory flow.Engine. It is safe for concurrent use.
	Engine struct {
		mu          sync.Mutex
		definitions map[string]flow.Definition
		executions  map[string]*Execution
		failures    map[Op]error
		onStart     func(flow.StartRequest, string)
		onResume    func(flow.ResumeRequest)
		onTerminate func(instanceID string)
	}

	// Execution records what the engine was asked to do for an instance.
	Execution struct {
		InstanceID   string
		DefinitionID string
		TraceID      string
		Input        map[string]any
		Resumes      []flow.ResumeRequest
		Terminated   bool
	}

	// Op names an engine operation for failure injection.
	Op string

	// Option configures an Engine.
	Option func(*Engine)
)

const (
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpPublish   Op = "publish"
	OpDelete    Op = "delete"
	OpStart     Op = "start"
	OpResume    Op = "resume"
	OpTerminate Op = "terminate"
)

// WithStartHook registers fn to run after each accepted Start, outside the
// engine lock. Tests use it to emit log records as a real engine would.
func WithStartHook(fn func(req flow.StartRequest, traceID string)) Option {
	return func(e *Engine) { e.onStart = fn }
}

// WithResumeHook registers fn to run after each accepted Resume, outside
// the engine lock.
func WithResumeHook(fn func(req flow.ResumeRequest)) Option {
	return func(e *Engine) { e.onResume = fn }
}

// WithTerminateHook registers fn to run after each accepted Terminate,
// outside the engine lock.
func WithTerminateHook(fn func(instanceID string)) Option {
	return func(e *Engine) { e.onTerminate = fn }
}

// New returns an empty Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		definitions: make(map[string]flow.Definition),
		executions:  make(map[string]*Execution),
		failures:    make(map[Op]error),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// FailOn makes subsequent calls to op return err. A nil err clears it.
func (e *Engine) FailOn(op Op, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, op)
		return
	}
	e.failures[op] = err
}

// Execution returns a snapshot of the execution of instanceID.
func (e *Engine) Execution(instanceID string) (Execution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.executions[instanceID]
	if !ok {
		return Execution{}, false
	}
	out := *ex
	out.Resumes = append([]flow.ResumeRequest(nil), ex.Resumes...)
	return out, true
}

// DefinitionCount returns the number of stored definitions.
func (e *Engine) DefinitionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.definitions)
}

// CreateDefinition implements flow.Engine.
func (e *Engine) CreateDefinition(_ context.Context, def flow.Definition) (flow.Definition, error) {
	if err := def.Validate(); err != nil {
		return flow.Definition{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failures[OpCreate]; err != nil {
		return flow.Definition{}, err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.Graph = append(json.RawMessage(nil), def.Graph...)
	def.Published = false
	def.UpdatedAt = time.Now().UTC()
	e.definitions[def.ID] = def
	return def, nil
}

// UpdateDefinition implements flow.Engine.
func (e *Engine) UpdateDefinition(_ context.Context, def flow.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failures[OpUpdate]; err != nil {
		return err
	}
	cur, ok := e.definitions[def.ID]
	if !ok {
		return flow.ErrNotFound
	}
	if cur.Published {
		return flow.ErrPublished
	}
	cur.Graph = append(json.RawMessage(nil), def.Graph...)
	if def.Version != "" {
		cur.Version = def.Version
	}
	cur.UpdatedAt = time.Now().UTC()
	e.definitions[def.ID] = cur
	return nil
}

// PublishDefinition implements flow.Engine.
func (e *Engine) PublishDefinition(_ context.Context, id, version string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failures[OpPublish]; err != nil {
		return err
	}
	cur, ok := e.definitions[id]
	if !ok {
		return flow.ErrNotFound
	}
	cur.Published = true
	cur.Version = version
	cur.UpdatedAt = time.Now().UTC()
	e.definitions[id] = cur
	return nil
}

// DeleteDefinition implements flow.Engine.
func (e *Engine) DeleteDefinition(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failures[OpDelete]; err != nil {
		return err
	}
	if _, ok := e.definitions[id]; !ok {
		return flow.ErrNotFound
	}
	delete(e.definitions, id)
	return nil
}

// GetDefinition implements flow.Engine.
func (e *Engine) GetDefinition(_ context.Context, id string) (flow.Definition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.definitions[id]
	if !ok {
		return flow.Definition{}, flow.ErrNotFound
	}
	def.Graph = append(json.RawMessage(nil), def.Graph...)
	return def, nil
}

// Start implements flow.Engine.
func (e *Engine) Start(_ context.Context, req flow.StartRequest) (string, error) {
	if req.InstanceID == "" {
		return "", errors.New("instance id is required")
	}
	e.mu.Lock()
	if err := e.failures[OpStart]; err != nil {
		e.mu.Unlock()
		return "", err
	}
	if _, ok := e.definitions[req.DefinitionID]; !ok {
		e.mu.Unlock()
		return "", flow.ErrNotFound
	}
	traceID := uuid.NewString()
	input := make(map[string]any, len(req.Input))
	for k, v := range req.Input {
		input[k] = v
	}
	e.executions[req.InstanceID] = &Execution{
		InstanceID:   req.InstanceID,
		DefinitionID: req.DefinitionID,
		TraceID:      traceID,
		Input:        input,
	}
	hook := e.onStart
	e.mu.Unlock()
	if hook != nil {
		hook(req, traceID)
	}
	return traceID, nil
}

// Resume implements flow.Engine.
func (e *Engine) Resume(_ context.Context, req flow.ResumeRequest) error {
	e.mu.Lock()
	if err := e.failures[OpResume]; err != nil {
		e.mu.Unlock()
		return err
	}
	ex, ok := e.executions[req.InstanceID]
	if !ok || ex.TraceID != req.TraceID {
		e.mu.Unlock()
		return flow.ErrNotFound
	}
	ex.Resumes = append(ex.Resumes, req)
	hook := e.onResume
	e.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return nil
}

// Terminate implements flow.Engine.
func (e *Engine) Terminate(_ context.Context, instanceID, traceID string) error {
	e.mu.Lock()
	if err := e.failures[OpTerminate]; err != nil {
		e.mu.Unlock()
		return err
	}
	ex, ok := e.executions[instanceID]
	if !ok || ex.TraceID != traceID {
		e.mu.Unlock()
		return flow.ErrNotFound
	}
	ex.Terminated = true
	hook := e.onTerminate
	e.mu.Unlock()
	if hook != nil {
		hook(instanceID)
	}
	return nil
}
