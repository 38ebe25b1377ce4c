package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/flow"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/telemetry"
)

type (
	// WorkflowClient is the subset of client.Client used by the engine.
	WorkflowClient interface {
		ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
		SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg any) error
		TerminateWorkflow(ctx context.Context, workflowID string, runID string, reason string, details ...any) error
		Close()
	}

	// Options configures the Temporal flow engine. Either Client or
	// ClientOptions must be set.
	Options struct {
		// Client is a pre-configured Temporal client.
		Client WorkflowClient
		// ClientOptions builds a lazy client with OTEL instrumentation when
		// Client is nil.
		ClientOptions *client.Options
		// TaskQueue is the queue served by the flow workers. Required.
		TaskQueue string
		// Workflow is the registered workflow type that interprets flow
		// graphs. Defaults to DefaultWorkflow.
		Workflow string
		// Definitions stores flow-graph definitions. Required.
		Definitions Map
		// Instrumentation toggles OTEL tracing and metrics on the client.
		Instrumentation InstrumentationOptions
		Telemetry       telemetry.Bundle
	}

	// InstrumentationOptions configures the OTEL interceptors installed on a
	// client built from ClientOptions.
	InstrumentationOptions struct {
		DisableTracing bool
		DisableMetrics bool
		TracerOptions  temporalotel.TracerOptions
		MetricsOptions temporalotel.MetricsHandlerOptions
	}

	// Engine implements flow.Engine using Temporal workflows.
	Engine struct {
		client      WorkflowClient
		closeClient bool
		queue       string
		workflow    string
		defs        Map
		logger      telemetry.Logger
		metrics     telemetry.Metrics
		now         func() time.Time
	}

	// StartInput is the argument of the flow workflow.
	StartInput struct {
		InstanceID       string         `json:"instance_id"`
		ParentInstanceID string         `json:"parent_instance_id,omitempty"`
		DefinitionID     string         `json:"definition_id"`
		Version          string         `json:"version,omitempty"`
		Graph            []byte         `json:"graph"`
		Input            map[string]any `json:"input,omitempty"`
	}
)

const (
	// DefaultWorkflow is the workflow type started for instances.
	DefaultWorkflow = "aipp.flow"
	// ResumeSignal carries submitted form data to a paused execution.
	ResumeSignal = "aipp.flow.resume"

	terminateReason = "terminated by user"
)

var _ flow.Engine = (*Engine)(nil)

// New constructs a Temporal flow engine.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, errors.New("temporal flow engine: task queue is required")
	}
	if opts.Definitions == nil {
		return nil, errors.New("temporal flow engine: definitions map is required")
	}
	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, errors.New("temporal flow engine: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		if err := applyInstrumentation(&clientOpts, opts.Instrumentation); err != nil {
			return nil, err
		}
		c, err := client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal flow engine: create client: %w", err)
		}
		cli = c
		closeClient = true
	}
	wf := opts.Workflow
	if wf == "" {
		wf = DefaultWorkflow
	}
	tel := opts.Telemetry.WithDefaults()
	return &Engine{
		client:      cli,
		closeClient: closeClient,
		queue:       opts.TaskQueue,
		workflow:    wf,
		defs:        opts.Definitions,
		logger:      tel.Logger,
		metrics:     tel.Metrics,
		now:         time.Now,
	}, nil
}

// Start implements flow.Engine. The workflow ID is the instance ID so a
// second start for the same instance is rejected by Temporal.
func (e *Engine) Start(ctx context.Context, req flow.StartRequest) (string, error) {
	if req.InstanceID == "" {
		return "", errors.New("instance id is required")
	}
	def, err := e.GetDefinition(ctx, req.DefinitionID)
	if err != nil {
		return "", err
	}
	opts := client.StartWorkflowOptions{
		ID:                                       req.InstanceID,
		TaskQueue:                                e.queue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	in := StartInput{
		InstanceID:       req.InstanceID,
		ParentInstanceID: req.ParentInstanceID,
		DefinitionID:     def.ID,
		Version:          def.Version,
		Graph:            def.Graph,
		Input:            req.Input,
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, e.workflow, in)
	if err != nil {
		e.metrics.IncCounter("aipp.flow.start_failed", 1)
		return "", fmt.Errorf("start flow workflow: %w", err)
	}
	e.metrics.IncCounter("aipp.flow.started", 1)
	e.logger.Debug(ctx, "flow workflow started", "instance_id", req.InstanceID, "run_id", run.GetRunID())
	return run.GetRunID(), nil
}

// Resume implements flow.Engine.
func (e *Engine) Resume(ctx context.Context, req flow.ResumeRequest) error {
	err := e.client.SignalWorkflow(ctx, req.InstanceID, req.TraceID, ResumeSignal, req.FormData)
	return mapNotFound(err)
}

// Terminate implements flow.Engine.
func (e *Engine) Terminate(ctx context.Context, instanceID, traceID string) error {
	err := e.client.TerminateWorkflow(ctx, instanceID, traceID, terminateReason)
	return mapNotFound(err)
}

// Close releases the client when the engine created it.
func (e *Engine) Close() {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
}

func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	var nf *serviceerror.NotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %s", flow.ErrNotFound, nf.Message)
	}
	return err
}

func applyInstrumentation(opts *client.Options, inst InstrumentationOptions) error {
	if !inst.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(inst.TracerOptions)
		if err != nil {
			return fmt.Errorf("temporal flow engine: configure tracing interceptor: %w", err)
		}
		opts.Interceptors = append([]interceptor.ClientInterceptor{tracer}, opts.Interceptors...)
	}
	if !inst.DisableMetrics && opts.MetricsHandler == nil {
		opts.MetricsHandler = temporalotel.NewMetricsHandler(inst.MetricsOptions)
	}
	return nil
}
