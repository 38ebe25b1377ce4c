package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/chat"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/flow"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/form"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/memory"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
)

type (
	// CreateRequest starts a new instance of an app.
	CreateRequest struct {
		// InstanceID is the ID to assign. Generated when empty.
		InstanceID string
		AppID      string
		// ChatID groups the instance into a conversation. Memory and chat
		// history are only recorded for top-level instances with a chat ID.
		ChatID string
		// ParentID is set when a flow starts a child instance.
		ParentID string
		Question string
		// Files lists the URLs of files attached to the question.
		Files []string
		// Business is passed to the flow start node.
		Business map[string]any
	}

	// CreateResult describes a created instance.
	CreateResult struct {
		Instance instance.Instance
		// AwaitingMemory is true when the app uses the user_select memory
		// strategy and the flow waits for SelectMemory.
		AwaitingMemory bool
		// Candidates are the turns offered for selection.
		Candidates []memory.Turn
	}

	// ResumeRequest submits form data to an instance waiting on a form.
	ResumeRequest struct {
		InstanceID string
		FormData   map[string]any
	}

	// StatusReport is sent by the flow engine when an execution changes
	// state.
	StatusReport struct {
		InstanceID string
		Status     instance.Status
		// FormID and FormVersion name the form an awaiting_form execution
		// waits on.
		FormID      string
		FormVersion string
		// Output is the final answer of a completed execution.
		Output string
		// Error describes the failure of an errored execution.
		Error string
	}

	// MemorySelectPrompt is pushed to the session when the user must pick
	// memory turns.
	MemorySelectPrompt struct {
		InstanceID string        `json:"instance_id"`
		Candidates []memory.Turn `json:"candidates"`
	}
)

// Business keys set by the runtime.
const (
	BusinessQuestion      = "question"
	BusinessFiles         = "files"
	BusinessMemories      = "memories"
	BusinessMemoryPending = "memory_pending"
)

// Create allocates an instance, logs the question, resolves memory and starts
// the flow. When the app's memory strategy is user_select and history exists
// the flow is not started: a selection prompt is pushed to the session and
// the caller completes the instance with SelectMemory.
func (r *Runtime) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	ctx, span := r.tracer.Start(ctx, "aipp.instance.create")
	defer span.End()

	if req.AppID == "" {
		return CreateResult{}, invalid("app id is required")
	}
	if strings.TrimSpace(req.Question) == "" && len(req.Files) == 0 {
		return CreateResult{}, invalid("question or files are required")
	}
	a, err := r.apps.Get(ctx, req.AppID)
	if err != nil {
		return CreateResult{}, appError(err, req.AppID)
	}
	id := req.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	now := r.now()
	business := make(map[string]any, len(req.Business)+2)
	for k, v := range req.Business {
		business[k] = v
	}
	business[BusinessQuestion] = req.Question
	if len(req.Files) > 0 {
		business[BusinessFiles] = append([]string(nil), req.Files...)
	}
	inst := instance.Instance{
		ID:               id,
		AppID:            a.ID,
		AppVersion:       a.Version,
		ParentID:         req.ParentID,
		ChatID:           req.ChatID,
		FlowDefinitionID: a.FlowDefinitionID,
		Status:           instance.StatusCreated,
		Question:         req.Question,
		Business:         business,
		StartTime:        now,
		UpdatedAt:        now,
	}
	if err := inst.Validate(); err != nil {
		return CreateResult{}, invalid("%v", err)
	}
	if err := r.instances.Create(ctx, inst); err != nil {
		if errors.Is(err, instance.ErrAlreadyExists) {
			return CreateResult{}, apperr.Wrap(apperr.CodeInvalidParam, err, "instance %s", id)
		}
		return CreateResult{}, downstream(err, "create instance")
	}
	r.metrics.IncCounter("aipp.instance.created", 1, "app_id", a.ID)

	topLevel := req.ParentID == ""
	if _, err := r.AppendLog(ctx, questionEvent(id, req)); err != nil {
		return CreateResult{}, err
	}

	var outcome memory.Outcome
	if topLevel {
		outcome, err = r.memory.Resolve(ctx, a.Memory, req.ChatID)
		if err != nil {
			r.fail(ctx, id, fmt.Sprintf("resolve memory: %v", err))
			return CreateResult{}, downstream(err, "resolve memory")
		}
	}
	if outcome.AwaitSelection {
		inst, err = r.instances.Update(ctx, id, instance.Patch{Business: map[string]any{BusinessMemoryPending: true}})
		if err != nil {
			return CreateResult{}, instanceError(err, id)
		}
		prompt := MemorySelectPrompt{InstanceID: id, Candidates: outcome.Turns}
		if _, err := r.dispatcher.Send(ctx, id, session.MessageMemorySelect, prompt); err != nil {
			r.logger.Warn(ctx, "push memory selection failed", "instance_id", id, "err", err)
		}
		span.AddEvent("memory_select", "candidates", len(outcome.Turns))
		return CreateResult{Instance: inst, AwaitingMemory: true, Candidates: outcome.Turns}, nil
	}

	inst, err = r.start(ctx, inst, outcome.Turns)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start flow")
		return CreateResult{}, err
	}
	span.SetStatus(codes.Ok, "")
	return CreateResult{Instance: inst}, nil
}

// SelectMemory completes the user_select memory strategy: the turns of the
// conversation whose instance IDs are listed in turnIDs are passed to the
// flow, which is then started.
func (r *Runtime) SelectMemory(ctx context.Context, instanceID string, turnIDs []string) (instance.Instance, error) {
	inst, err := r.Instance(ctx, instanceID)
	if err != nil {
		return instance.Instance{}, err
	}
	if pending, _ := inst.Business[BusinessMemoryPending].(bool); !pending || inst.Status != instance.StatusCreated {
		return instance.Instance{}, forbidden(instanceID, "instance is not waiting for a memory selection")
	}
	a, err := r.apps.Get(ctx, inst.AppID)
	if err != nil {
		return instance.Instance{}, appError(err, inst.AppID)
	}
	outcome, err := r.memory.Resolve(ctx, a.Memory, inst.ChatID)
	if err != nil {
		return instance.Instance{}, downstream(err, "resolve memory")
	}
	turns := memory.Select(outcome.Turns, turnIDs)
	inst, err = r.instances.Update(ctx, instanceID, instance.Patch{Business: map[string]any{BusinessMemoryPending: false}})
	if err != nil {
		return instance.Instance{}, instanceError(err, instanceID)
	}
	return r.start(ctx, inst, turns)
}

// start moves inst to running and asks the flow engine to execute it. The
// question is recorded as a conversation turn before the flow starts so an
// answer reported by a fast flow finds it. A start failure removes the turn,
// moves the instance to error and logs an error record.
func (r *Runtime) start(ctx context.Context, inst instance.Instance, turns []memory.Turn) (instance.Instance, error) {
	input := make(map[string]any, len(inst.Business)+1)
	for k, v := range inst.Business {
		input[k] = v
	}
	delete(input, BusinessMemoryPending)
	if len(turns) > 0 {
		input[BusinessMemories] = turns
	}
	running := instance.Patch{
		Status: instance.StatusPtr(instance.StatusRunning),
		From:   []instance.Status{instance.StatusCreated},
	}
	if _, err := r.instances.Update(ctx, inst.ID, running); err != nil {
		return instance.Instance{}, instanceError(err, inst.ID)
	}
	recorded := r.recordTurn(ctx, inst)
	traceID, err := r.flows.Start(ctx, flow.StartRequest{
		InstanceID:       inst.ID,
		DefinitionID:     inst.FlowDefinitionID,
		ParentInstanceID: inst.ParentID,
		Input:            input,
	})
	if err != nil {
		if recorded {
			if err := r.chats.DeleteTurn(ctx, inst.ID); err != nil {
				r.logger.Warn(ctx, "remove chat turn failed", "instance_id", inst.ID, "chat_id", inst.ChatID, "err", err)
			}
		}
		r.fail(ctx, inst.ID, fmt.Sprintf("start flow: %v", err))
		return instance.Instance{}, downstream(err, "start flow")
	}
	updated, err := r.instances.Update(ctx, inst.ID, instance.Patch{TraceID: instance.StringPtr(traceID)})
	if err != nil {
		return instance.Instance{}, instanceError(err, inst.ID)
	}
	r.logger.Info(ctx, "flow started", "instance_id", inst.ID, "trace_id", traceID)
	return updated, nil
}

// recordTurn appends the question of a top-level chat instance to the
// conversation history. It reports whether a turn was written.
func (r *Runtime) recordTurn(ctx context.Context, inst instance.Instance) bool {
	if inst.ParentID != "" || inst.ChatID == "" {
		return false
	}
	turn := chat.Record{ChatID: inst.ChatID, AppID: inst.AppID, InstanceID: inst.ID, Question: inst.Question, CreatedAt: inst.StartTime}
	if err := r.chats.Append(ctx, turn); err != nil {
		r.logger.Warn(ctx, "record chat turn failed", "instance_id", inst.ID, "chat_id", inst.ChatID, "err", err)
		return false
	}
	return true
}

// Resume validates data against the form the instance waits on and resumes
// the flow execution at the recorded trace. The instance leaves
// awaiting_form before the engine is called so status reports emitted while
// the flow resumes apply on top of it. It returns to the form if the engine
// rejects the resume.
func (r *Runtime) Resume(ctx context.Context, req ResumeRequest) (instance.Instance, error) {
	inst, err := r.Instance(ctx, req.InstanceID)
	if err != nil {
		return instance.Instance{}, err
	}
	if inst.Status != instance.StatusAwaitingForm {
		return instance.Instance{}, forbidden(inst.ID, "instance is %s, not waiting on a form", inst.Status)
	}
	f, err := r.forms.Get(ctx, inst.FormID, inst.FormVersion)
	if err != nil {
		return instance.Instance{}, formError(err, form.Key(inst.FormID, inst.FormVersion))
	}
	if err := f.ValidateData(req.FormData); err != nil {
		return instance.Instance{}, apperr.Wrap(apperr.CodeInvalidParam, err, "form data")
	}
	empty := ""
	resumed, err := r.instances.Update(ctx, inst.ID, instance.Patch{
		Status:      instance.StatusPtr(instance.StatusRunning),
		FormID:      &empty,
		FormVersion: &empty,
		From:        []instance.Status{instance.StatusAwaitingForm},
	})
	if err != nil {
		return instance.Instance{}, instanceError(err, inst.ID)
	}
	err = r.flows.Resume(ctx, flow.ResumeRequest{InstanceID: inst.ID, TraceID: inst.TraceID, FormData: req.FormData})
	if err != nil {
		_, rerr := r.instances.Update(ctx, inst.ID, instance.Patch{
			Status:      instance.StatusPtr(instance.StatusAwaitingForm),
			FormID:      instance.StringPtr(inst.FormID),
			FormVersion: instance.StringPtr(inst.FormVersion),
			From:        []instance.Status{instance.StatusRunning},
		})
		if rerr != nil {
			r.logger.Warn(ctx, "restore form wait failed", "instance_id", inst.ID, "err", rerr)
		}
		return instance.Instance{}, downstream(err, "resume flow")
	}
	payload := map[string]any{"form_id": f.ID, "form_version": f.Version, "data": req.FormData}
	if _, err := r.AppendLog(ctx, LogEvent{InstanceID: inst.ID, Type: runlog.TypeHiddenForm, Payload: marshal(payload)}); err != nil {
		return instance.Instance{}, err
	}
	return resumed, nil
}

// terminable lists the statuses Terminate accepts.
var terminable = []instance.Status{instance.StatusCreated, instance.StatusRunning, instance.StatusAwaitingForm}

// Terminate stops a running instance. Only created, running and
// awaiting_form instances can be terminated; an instance that finishes
// while its flow is being stopped keeps its final status.
func (r *Runtime) Terminate(ctx context.Context, instanceID string) (instance.Instance, error) {
	inst, err := r.Instance(ctx, instanceID)
	if err != nil {
		return instance.Instance{}, err
	}
	if !inst.Status.Terminable() {
		return instance.Instance{}, forbidden(instanceID, "instance is %s and cannot be terminated", inst.Status)
	}
	if inst.TraceID != "" {
		err := r.flows.Terminate(ctx, inst.ID, inst.TraceID)
		switch {
		case errors.Is(err, flow.ErrNotFound):
			r.logger.Warn(ctx, "flow execution already gone", "instance_id", inst.ID, "trace_id", inst.TraceID)
		case err != nil:
			return instance.Instance{}, downstream(err, "terminate flow")
		}
	}
	end := r.now()
	inst, err = r.instances.Update(ctx, inst.ID, instance.Patch{
		Status:  instance.StatusPtr(instance.StatusTerminated),
		EndTime: &end,
		From:    terminable,
	})
	if errors.Is(err, instance.ErrStatusConflict) {
		cur, lerr := r.Instance(ctx, instanceID)
		if lerr != nil {
			return instance.Instance{}, lerr
		}
		return instance.Instance{}, forbidden(instanceID, "instance is %s and cannot be terminated", cur.Status)
	}
	if err != nil {
		return instance.Instance{}, instanceError(err, instanceID)
	}
	r.metrics.IncCounter("aipp.instance.terminated", 1, "app_id", inst.AppID)
	ev := LogEvent{InstanceID: inst.ID, Type: runlog.TypeMessage, Payload: marshal(map[string]string{"msg": "terminated"}), Final: true}
	if _, err := r.AppendLog(ctx, ev); err != nil {
		return instance.Instance{}, err
	}
	return inst, nil
}

// reportAttempts bounds the retries of a status report racing with other
// status changes.
const reportAttempts = 3

// ReportStatus applies a status change reported by the flow engine. Reports
// for instances already in a final status are ignored.
func (r *Runtime) ReportStatus(ctx context.Context, rep StatusReport) (instance.Instance, error) {
	p := instance.Patch{Status: instance.StatusPtr(rep.Status)}
	var ev LogEvent
	switch rep.Status {
	case instance.StatusAwaitingForm:
		if rep.FormID == "" {
			return instance.Instance{}, invalid("form id is required when awaiting a form")
		}
		p.FormID = instance.StringPtr(rep.FormID)
		p.FormVersion = instance.StringPtr(rep.FormVersion)
		ev = LogEvent{Type: runlog.TypeForm, Payload: marshal(map[string]string{"form_id": rep.FormID, "form_version": rep.FormVersion})}
	case instance.StatusCompleted:
		ev = LogEvent{Type: runlog.TypeMessage, Payload: marshal(map[string]string{"msg": rep.Output}), Final: true}
	case instance.StatusError, instance.StatusTerminated:
		ev = LogEvent{Type: runlog.TypeError, Payload: marshal(map[string]string{"error": rep.Error})}
	case instance.StatusRunning:
	default:
		return instance.Instance{}, invalid("unsupported status %q", rep.Status)
	}
	if rep.Status.Final() {
		end := r.now()
		p.EndTime = &end
	}
	inst, applied, err := r.applyReport(ctx, rep.InstanceID, p)
	if err != nil || !applied {
		return inst, err
	}
	if rep.Status == instance.StatusCompleted && inst.ChatID != "" && inst.ParentID == "" {
		if err := r.chats.SetAnswer(ctx, inst.ID, rep.Output); err != nil && !errors.Is(err, chat.ErrNotFound) {
			r.logger.Warn(ctx, "record chat answer failed", "instance_id", inst.ID, "err", err)
		}
	}
	if rep.Status.Final() {
		r.metrics.IncCounter("aipp.instance.finished", 1, "status", string(rep.Status))
	}
	if ev.Type == "" {
		return inst, nil
	}
	ev.InstanceID = inst.ID
	if _, err := r.AppendLog(ctx, ev); err != nil {
		return instance.Instance{}, err
	}
	return inst, nil
}

// applyReport applies p to instance id unless the instance already
// finished, in which case it returns the instance and false. The update is
// guarded on the status the transition was checked against and retried when
// another change lands first.
func (r *Runtime) applyReport(ctx context.Context, id string, p instance.Patch) (instance.Instance, bool, error) {
	next := *p.Status
	for attempt := 1; ; attempt++ {
		inst, err := r.Instance(ctx, id)
		if err != nil {
			return instance.Instance{}, false, err
		}
		if inst.Status.Final() {
			r.logger.Debug(ctx, "status report for finished instance ignored", "instance_id", inst.ID, "status", next)
			return inst, false, nil
		}
		if !inst.Status.CanTransition(next) {
			return instance.Instance{}, false, forbidden(inst.ID, "cannot move instance from %s to %s", inst.Status, next)
		}
		p.From = []instance.Status{inst.Status}
		updated, err := r.instances.Update(ctx, id, p)
		switch {
		case err == nil:
			return updated, true, nil
		case errors.Is(err, instance.ErrStatusConflict) && attempt < reportAttempts:
			continue
		default:
			return instance.Instance{}, false, instanceError(err, id)
		}
	}
}

// fail moves an unfinished instance to error and logs an error record.
// Failures are logged since the caller is already reporting an error.
func (r *Runtime) fail(ctx context.Context, id, msg string) {
	end := r.now()
	_, err := r.instances.Update(ctx, id, instance.Patch{
		Status:  instance.StatusPtr(instance.StatusError),
		EndTime: &end,
		From:    terminable,
	})
	if errors.Is(err, instance.ErrStatusConflict) {
		r.logger.Debug(ctx, "instance finished before failure was recorded", "instance_id", id)
		return
	}
	if err != nil {
		r.logger.Error(ctx, "mark instance failed", "instance_id", id, "err", err)
		return
	}
	if _, err := r.AppendLog(ctx, LogEvent{InstanceID: id, Type: runlog.TypeError, Payload: marshal(map[string]string{"error": msg})}); err != nil {
		r.logger.Error(ctx, "log instance failure", "instance_id", id, "err", err)
	}
}

// questionEvent builds the first record of an instance. Questions of child
// instances are generated by the parent flow and stay hidden.
func questionEvent(id string, req CreateRequest) LogEvent {
	if req.ParentID != "" {
		return LogEvent{InstanceID: id, Type: runlog.TypeHiddenQuestion, Payload: marshal(map[string]string{"question": req.Question})}
	}
	if len(req.Files) == 0 {
		return LogEvent{InstanceID: id, Type: runlog.TypeQuestion, Payload: marshal(map[string]string{"question": req.Question})}
	}
	payload := map[string]any{"question": req.Question, "files": req.Files}
	return LogEvent{InstanceID: id, Type: runlog.TypeQuestionWithFile, Payload: marshal(payload)}
}
