package runtime

import (
	"context"
	"encoding/json"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
)

// LogEvent is a log entry reported for an instance, by the flow engine or by
// the runtime itself.
type LogEvent struct {
	InstanceID string
	Type       runlog.LogType
	Payload    json.RawMessage
	// Final marks the last record of a completed run.
	Final bool
}

// AppendLog persists ev with the ancestor path of its instance, caches it
// and dispatches it to the live session of the nearest listening ancestor.
// Cache and delivery failures are logged; only validation and persistence
// errors are returned.
func (r *Runtime) AppendLog(ctx context.Context, ev LogEvent) (*runlog.Record, error) {
	if ev.InstanceID == "" {
		return nil, invalid("instance id is required")
	}
	if !ev.Type.Valid() {
		return nil, invalid("unknown log type %q", ev.Type)
	}
	if len(ev.Payload) > 0 && !json.Valid(ev.Payload) {
		return nil, invalid("log payload must be valid JSON")
	}
	path, err := r.pathOf(ctx, ev.InstanceID)
	if err != nil {
		return nil, err
	}
	rec := &runlog.Record{
		InstanceID: ev.InstanceID,
		Type:       ev.Type,
		Path:       path,
		Payload:    ev.Payload,
		Final:      ev.Final,
		CreatedAt:  r.now(),
	}
	if err := r.logs.Append(ctx, rec); err != nil {
		return nil, downstream(err, "append log record")
	}
	if r.cache != nil {
		if err := r.cache.Push(ctx, rec); err != nil {
			r.logger.Warn(ctx, "cache log record failed", "instance_id", rec.InstanceID, "err", err)
		}
	}
	res, err := r.dispatcher.Dispatch(ctx, rec)
	if err != nil {
		r.logger.Warn(ctx, "dispatch log record failed", "instance_id", rec.InstanceID, "record_id", rec.ID, "err", err)
	} else if res.SendErr != nil {
		r.logger.Debug(ctx, "log record not delivered", "instance_id", rec.InstanceID, "target", res.Target)
	}
	return rec, nil
}

// pathOf returns the ancestor path of an instance: the recorded path of its
// parent followed by the instance itself.
func (r *Runtime) pathOf(ctx context.Context, instanceID string) (runlog.Path, error) {
	inst, err := r.instances.Load(ctx, instanceID)
	if err != nil {
		return nil, instanceError(err, instanceID)
	}
	if inst.ParentID == "" {
		return runlog.Path{inst.ID}, nil
	}
	parent, err := r.resolver.Ancestors(ctx, inst.ParentID)
	if err != nil {
		return nil, downstream(err, "resolve ancestors")
	}
	return runlog.NewPath(parent, inst.ID), nil
}
