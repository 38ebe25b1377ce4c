// Package ancestor resolves the top-level instance of a nested flow run.
// Child flows started by a parent instance log under their own instance ID;
// clients only hold a session for the instance they started, so events are
// routed to the root of the recorded ancestor path.
package ancestor

import (
	"context"
	"errors"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/telemetry"
)

// PathSource returns the serialized ancestor path recorded for an instance.
// runlog.Store satisfies it.
type PathSource interface {
	PathOf(ctx context.Context, instanceID string) (string, error)
}

// Resolver maps instance IDs to their top-level ancestor.
type Resolver struct {
	paths  PathSource
	logger telemetry.Logger
}

// NewResolver returns a Resolver reading paths from src. A nil logger
// discards diagnostics.
func NewResolver(src PathSource, logger telemetry.Logger) *Resolver {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Resolver{paths: src, logger: logger}
}

// ResolveAncestorID returns the segment directly under the root marker of
// the path recorded for instanceID. It returns instanceID unchanged when no
// path is recorded, the path is empty or it is malformed. The only errors
// returned come from the path source itself.
func (r *Resolver) ResolveAncestorID(ctx context.Context, instanceID string) (string, error) {
	raw, err := r.paths.PathOf(ctx, instanceID)
	if errors.Is(err, runlog.ErrNotFound) {
		return instanceID, nil
	}
	if err != nil {
		return "", err
	}
	return rootOf(ctx, r.logger, instanceID, raw), nil
}

// Ancestors returns the full recorded path of instanceID, root first. It
// falls back to a single-element path holding instanceID under the same
// conditions as ResolveAncestorID.
func (r *Resolver) Ancestors(ctx context.Context, instanceID string) (runlog.Path, error) {
	raw, err := r.paths.PathOf(ctx, instanceID)
	if errors.Is(err, runlog.ErrNotFound) {
		return runlog.Path{instanceID}, nil
	}
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return runlog.Path{instanceID}, nil
	}
	p, perr := runlog.ParsePath(raw)
	if perr != nil {
		r.logger.Warn(ctx, "ignoring malformed ancestor path", "instance_id", instanceID, "path", raw)
		return runlog.Path{instanceID}, nil
	}
	return p, nil
}

func rootOf(ctx context.Context, logger telemetry.Logger, instanceID, raw string) string {
	if raw == "" {
		return instanceID
	}
	p, err := runlog.ParsePath(raw)
	if err != nil {
		logger.Warn(ctx, "ignoring malformed ancestor path", "instance_id", instanceID, "path", raw)
		return instanceID
	}
	root, _ := p.Root()
	return root
}
