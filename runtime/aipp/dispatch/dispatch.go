// Package dispatch routes instance log records to the client session that is
// listening for them.
//
// Delivery is best effort and at most once: each displayable record is sent
// to at most one channel, the first live session found while walking the
// record's ancestor path from the root down. Records with no live ancestor
// are dropped without error and without retry. Clients that reconnect
// recover missed entries by listing the instance log.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/ancestor"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/form"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/telemetry"
)

type (
	// Dispatcher renders log records and pushes them to live sessions.
	Dispatcher struct {
		registry  *session.Registry
		instances instance.Store
		forms     form.Repository
		resolver  *ancestor.Resolver
		logger    telemetry.Logger
		metrics   telemetry.Metrics
		now       func() time.Time
	}

	// Options configures a Dispatcher. Registry, Instances and Forms are
	// required.
	Options struct {
		Registry  *session.Registry
		Instances instance.Store
		Forms     form.Repository
		// Resolver supplies the ancestor path of records that carry none.
		// When nil such records are routed to their own instance only.
		Resolver  *ancestor.Resolver
		Telemetry telemetry.Bundle
	}

	// Result describes what Dispatch did with a record.
	Result struct {
		// Skipped is true for records that are never pushed to clients.
		Skipped bool
		// Delivered is true when the view reached a channel.
		Delivered bool
		// Target is the instance whose session was selected. Empty when the
		// record was skipped or no ancestor had a live session.
		Target string
		// SendErr is the channel error when a live session was found but the
		// send failed. The record is not retried.
		SendErr error
	}

	// View is the payload pushed to clients for one log record.
	View struct {
		InstanceID string          `json:"instance_id"`
		AppID      string          `json:"app_id,omitempty"`
		Status     instance.Status `json:"status,omitempty"`
		Form       *FormView       `json:"form,omitempty"`
		StartTime  *time.Time      `json:"start_time,omitempty"`
		EndTime    *time.Time      `json:"end_time,omitempty"`
		Log        LogEntry        `json:"log"`
	}

	// FormView carries the metadata of the form an instance is waiting on.
	FormView struct {
		ID         string          `json:"id"`
		Version    string          `json:"version"`
		Name       string          `json:"name,omitempty"`
		Appearance json.RawMessage `json:"appearance,omitempty"`
	}

	// LogEntry is the single new log record carried by a View.
	LogEntry struct {
		ID         string          `json:"id"`
		InstanceID string          `json:"instance_id"`
		Type       runlog.LogType  `json:"type"`
		Payload    json.RawMessage `json:"payload,omitempty"`
		CreatedAt  time.Time       `json:"created_at"`
	}
)

// New returns a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, errors.New("session registry is required")
	}
	if opts.Instances == nil {
		return nil, errors.New("instance store is required")
	}
	if opts.Forms == nil {
		return nil, errors.New("form repository is required")
	}
	tel := opts.Telemetry.WithDefaults()
	return &Dispatcher{
		registry:  opts.Registry,
		instances: opts.Instances,
		forms:     opts.Forms,
		resolver:  opts.Resolver,
		logger:    tel.Logger,
		metrics:   tel.Metrics,
		now:       time.Now,
	}, nil
}

// Dispatch pushes rec to the first live session along its ancestor path.
//
// Hidden record types are skipped without consulting the registry. A record
// with no live ancestor is dropped and reported with Delivered false and a
// nil error. Errors are only returned when rendering fails because a store
// is unavailable.
//
// A terminal record produced by the instance that owns the selected session
// releases that session's completion latch once the send was attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *runlog.Record) (Result, error) {
	if rec == nil || !rec.Type.Displayable() {
		d.metrics.IncCounter("aipp.dispatch.skipped", 1)
		return Result{Skipped: true}, nil
	}
	path, err := d.ancestors(ctx, rec)
	if err != nil {
		return Result{}, err
	}
	target, ch, ok := d.firstLive(path)
	if !ok {
		d.metrics.IncCounter("aipp.dispatch.dropped", 1)
		d.logger.Debug(ctx, "no live session for log record", "instance_id", rec.InstanceID, "path", path.String())
		return Result{}, nil
	}
	view, err := d.render(ctx, rec)
	if err != nil {
		return Result{Target: target}, err
	}
	msgType := session.MessageLog
	if rec.Type == runlog.TypeError {
		msgType = session.MessageError
	}
	msg := session.Message{
		Type:       msgType,
		InstanceID: target,
		Data:       view,
		Timestamp:  d.now().UTC(),
	}
	res := Result{Target: target}
	if err := ch.Send(ctx, msg); err != nil {
		d.metrics.IncCounter("aipp.dispatch.send_failed", 1)
		d.logger.Warn(ctx, "send log record failed", "instance_id", rec.InstanceID, "target", target, "err", err)
		res.SendErr = err
	} else {
		d.metrics.IncCounter("aipp.dispatch.delivered", 1)
		res.Delivered = true
	}
	if rec.Terminal() && rec.InstanceID == target {
		d.registry.Complete(target)
	}
	return res, nil
}

// Send pushes an arbitrary message to the session of instanceID, or of its
// first live ancestor. It reports whether a channel was found.
func (d *Dispatcher) Send(ctx context.Context, instanceID string, msgType session.MessageType, data any) (bool, error) {
	path := runlog.Path{instanceID}
	if d.resolver != nil {
		p, err := d.resolver.Ancestors(ctx, instanceID)
		if err != nil {
			return false, err
		}
		path = p
	}
	target, ch, ok := d.firstLive(path)
	if !ok {
		return false, nil
	}
	err := ch.Send(ctx, session.Message{Type: msgType, InstanceID: target, Data: data, Timestamp: d.now().UTC()})
	return err == nil, err
}

func (d *Dispatcher) ancestors(ctx context.Context, rec *runlog.Record) (runlog.Path, error) {
	if len(rec.Path) > 0 {
		return rec.Path, nil
	}
	if d.resolver == nil {
		return runlog.Path{rec.InstanceID}, nil
	}
	return d.resolver.Ancestors(ctx, rec.InstanceID)
}

// firstLive walks path root first and returns the first instance with a
// live session.
func (d *Dispatcher) firstLive(path runlog.Path) (string, session.Channel, bool) {
	for _, id := range path {
		if ch, ok := d.registry.Get(id); ok {
			return id, ch, true
		}
	}
	return "", nil, false
}

func (d *Dispatcher) render(ctx context.Context, rec *runlog.Record) (View, error) {
	view := View{
		InstanceID: rec.InstanceID,
		Log: LogEntry{
			ID:         rec.ID,
			InstanceID: rec.InstanceID,
			Type:       rec.Type,
			Payload:    rec.Payload,
			CreatedAt:  rec.CreatedAt,
		},
	}
	inst, err := d.instances.Load(ctx, rec.InstanceID)
	if errors.Is(err, instance.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return View{}, err
	}
	view.AppID = inst.AppID
	view.Status = inst.Status
	if !inst.StartTime.IsZero() {
		start := inst.StartTime
		view.StartTime = &start
	}
	view.EndTime = inst.EndTime
	if inst.FormID == "" {
		return view, nil
	}
	f, err := d.forms.Get(ctx, inst.FormID, inst.FormVersion)
	switch {
	case errors.Is(err, form.ErrNotFound):
		d.logger.Warn(ctx, "form of instance not found", "instance_id", inst.ID, "form_id", inst.FormID, "form_version", inst.FormVersion)
	case err != nil:
		return View{}, err
	default:
		view.Form = &FormView{ID: f.ID, Version: f.Version, Name: f.Name, Appearance: f.Appearance}
	}
	return view, nil
}
