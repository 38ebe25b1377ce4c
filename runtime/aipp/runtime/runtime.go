// Package runtime orchestrates the lifecycle of app instances: it creates
// instances, resolves their conversation memory, starts and resumes flow
// executions, records the log events flows report back and lets synchronous
// callers wait for an instance to finish.
//
// The Runtime owns no transport. Callers register a session.Channel for the
// instance they want to observe and every displayable log record produced by
// that instance, or by any child instance it spawns, is pushed to that
// channel by the dispatcher.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/ancestor"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/chat"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/dispatch"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/flow"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/form"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/memory"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/telemetry"
)

type (
	// Runtime is the instance lifecycle orchestrator.
	Runtime struct {
		apps       AppSource
		instances  instance.Store
		logs       runlog.Store
		forms      form.Repository
		flows      flow.Engine
		chats      chat.Store
		memory     *memory.Resolver
		registry   *session.Registry
		dispatcher *dispatch.Dispatcher
		resolver   *ancestor.Resolver
		cache      LogCache

		waitTimeout time.Duration
		logger      telemetry.Logger
		metrics     telemetry.Metrics
		tracer      telemetry.Tracer
		now         func() time.Time
	}

	// Options configures a Runtime. Every field except Cache, Memory,
	// WaitTimeout and Telemetry is required.
	Options struct {
		Apps      AppSource
		Instances instance.Store
		Logs      runlog.Store
		Forms     form.Repository
		Flows     flow.Engine
		Chats     chat.Store
		// Memory resolves conversation memory. Defaults to a resolver over
		// Chats without a broker, which rejects the customizing strategy.
		Memory     *memory.Resolver
		Registry   *session.Registry
		Dispatcher *dispatch.Dispatcher
		Resolver   *ancestor.Resolver
		// Cache receives every appended record. Optional.
		Cache LogCache
		// WaitTimeout bounds StartAndWait when the caller passes no timeout.
		// Defaults to DefaultWaitTimeout.
		WaitTimeout time.Duration
		Telemetry   telemetry.Bundle
	}

	// AppSource loads app definitions. Both app.Store and *app.Service
	// satisfy it.
	AppSource interface {
		Get(ctx context.Context, id string) (app.App, error)
	}

	// LogCache keeps recently appended records so reconnecting clients can
	// catch up without querying the log store.
	LogCache interface {
		Push(ctx context.Context, rec *runlog.Record) error
	}
)

// DefaultWaitTimeout bounds StartAndWait when no timeout is configured.
const DefaultWaitTimeout = 10 * time.Minute

// New returns a Runtime.
func New(opts Options) (*Runtime, error) {
	switch {
	case opts.Apps == nil:
		return nil, errors.New("app source is required")
	case opts.Instances == nil:
		return nil, errors.New("instance store is required")
	case opts.Logs == nil:
		return nil, errors.New("log store is required")
	case opts.Forms == nil:
		return nil, errors.New("form repository is required")
	case opts.Flows == nil:
		return nil, errors.New("flow engine is required")
	case opts.Chats == nil:
		return nil, errors.New("chat store is required")
	case opts.Registry == nil:
		return nil, errors.New("session registry is required")
	case opts.Dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	case opts.Resolver == nil:
		return nil, errors.New("ancestor resolver is required")
	}
	mem := opts.Memory
	if mem == nil {
		mem = memory.NewResolver(opts.Chats, nil)
	}
	timeout := opts.WaitTimeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	tel := opts.Telemetry.WithDefaults()
	return &Runtime{
		apps:        opts.Apps,
		instances:   opts.Instances,
		logs:        opts.Logs,
		forms:       opts.Forms,
		flows:       opts.Flows,
		chats:       opts.Chats,
		memory:      mem,
		registry:    opts.Registry,
		dispatcher:  opts.Dispatcher,
		resolver:    opts.Resolver,
		cache:       opts.Cache,
		waitTimeout: timeout,
		logger:      tel.Logger,
		metrics:     tel.Metrics,
		tracer:      tel.Tracer,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Instance loads an instance.
func (r *Runtime) Instance(ctx context.Context, id string) (instance.Instance, error) {
	inst, err := r.instances.Load(ctx, id)
	if err != nil {
		return instance.Instance{}, instanceError(err, id)
	}
	return inst, nil
}

// Logs returns a page of the log of instance id.
func (r *Runtime) Logs(ctx context.Context, id, cursor string, limit int) (runlog.Page, error) {
	if limit <= 0 {
		return runlog.Page{}, invalid("limit must be greater than zero")
	}
	if _, err := r.Instance(ctx, id); err != nil {
		return runlog.Page{}, err
	}
	page, err := r.logs.List(ctx, id, cursor, limit)
	if err != nil {
		return runlog.Page{}, downstream(err, "list instance logs")
	}
	return page, nil
}

func marshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
