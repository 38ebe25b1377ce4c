package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/flow"
)

type fakeMap struct {
	mu      sync.Mutex
	content map[string]string
}

func (m *fakeMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.content[key]
	return v, ok
}

func (m *fakeMap) Set(_ context.Context, key, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.content[key]
	m.content[key] = value
	return prev, nil
}

func (m *fakeMap) Delete(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.content[key]
	delete(m.content, key)
	return prev, nil
}

type fakeRun struct {
	client.WorkflowRun
	id, runID string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return r.runID }

type signal struct {
	workflowID, runID, name string
	arg                     any
}

type fakeClient struct {
	started    []client.StartWorkflowOptions
	inputs     []StartInput
	signals    []signal
	terminated []string
	err        error
}

func (c *fakeClient) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, _ any, args ...any) (client.WorkflowRun, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.started = append(c.started, opts)
	c.inputs = append(c.inputs, args[0].(StartInput))
	return fakeRun{id: opts.ID, runID: "run-" + opts.ID}, nil
}

func (c *fakeClient) SignalWorkflow(_ context.Context, workflowID, runID, name string, arg any) error {
	if c.err != nil {
		return c.err
	}
	c.signals = append(c.signals, signal{workflowID, runID, name, arg})
	return nil
}

func (c *fakeClient) TerminateWorkflow(_ context.Context, workflowID, runID, _ string, _ ...any) error {
	if c.err != nil {
		return c.err
	}
	c.terminated = append(c.terminated, workflowID+"/"+runID)
	return nil
}

func (c *fakeClient) Close() {}

func newEngine(t *testing.T) (*Engine, *fakeClient) {
	t.Helper()
	fc := &fakeClient{}
	e, err := New(Options{Client: fc, TaskQueue: "flows", Definitions: &fakeMap{content: map[string]string{}}})
	require.NoError(t, err)
	return e, fc
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Definitions: &fakeMap{}})
	require.Error(t, err)
	_, err = New(Options{TaskQueue: "q"})
	require.Error(t, err)
	_, err = New(Options{TaskQueue: "q", Definitions: &fakeMap{}})
	require.Error(t, err)
}

func TestDefinitionLifecycle(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	def, err := e.CreateDefinition(ctx, flow.Definition{Graph: json.RawMessage(`{"nodes":[]}`)})
	require.NoError(t, err)
	require.NotEmpty(t, def.ID)

	require.NoError(t, e.UpdateDefinition(ctx, flow.Definition{ID: def.ID, Graph: json.RawMessage(`{"nodes":[1]}`)}))
	require.NoError(t, e.PublishDefinition(ctx, def.ID, "1.1.0"))
	got, err := e.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.True(t, got.Published)
	assert.Equal(t, "1.1.0", got.Version)
	assert.JSONEq(t, `{"nodes":[1]}`, string(got.Graph))

	err = e.UpdateDefinition(ctx, flow.Definition{ID: def.ID, Graph: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, flow.ErrPublished)

	require.NoError(t, e.DeleteDefinition(ctx, def.ID))
	require.ErrorIs(t, e.DeleteDefinition(ctx, def.ID), flow.ErrNotFound)
	_, err = e.GetDefinition(ctx, def.ID)
	require.ErrorIs(t, err, flow.ErrNotFound)
}

func TestStartUsesInstanceAsWorkflowID(t *testing.T) {
	e, fc := newEngine(t)
	ctx := context.Background()
	def, err := e.CreateDefinition(ctx, flow.Definition{Graph: json.RawMessage(`{}`)})
	require.NoError(t, err)

	traceID, err := e.Start(ctx, flow.StartRequest{InstanceID: "i-1", DefinitionID: def.ID, Input: map[string]any{"q": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "run-i-1", traceID)
	require.Len(t, fc.started, 1)
	assert.Equal(t, "i-1", fc.started[0].ID)
	assert.Equal(t, "flows", fc.started[0].TaskQueue)
	assert.Equal(t, def.ID, fc.inputs[0].DefinitionID)
	assert.Equal(t, "hi", fc.inputs[0].Input["q"])

	_, err = e.Start(ctx, flow.StartRequest{InstanceID: "i-2", DefinitionID: "missing"})
	require.ErrorIs(t, err, flow.ErrNotFound)
}

func TestResumeAndTerminate(t *testing.T) {
	e, fc := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Resume(ctx, flow.ResumeRequest{InstanceID: "i-1", TraceID: "r", FormData: map[string]any{"ok": true}}))
	require.Len(t, fc.signals, 1)
	assert.Equal(t, ResumeSignal, fc.signals[0].name)

	require.NoError(t, e.Terminate(ctx, "i-1", "r"))
	assert.Equal(t, []string{"i-1/r"}, fc.terminated)

	fc.err = serviceerror.NewNotFound("workflow not found")
	require.ErrorIs(t, e.Terminate(ctx, "i-1", "r"), flow.ErrNotFound)
	require.ErrorIs(t, e.Resume(ctx, flow.ResumeRequest{InstanceID: "i-1"}), flow.ErrNotFound)

	fc.err = errors.New("unavailable")
	err := e.Terminate(ctx, "i-1", "r")
	require.Error(t, err)
	require.NotErrorIs(t, err, flow.ErrNotFound)
}
