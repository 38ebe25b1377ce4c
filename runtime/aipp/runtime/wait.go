package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
)

// StartAndWait registers ch as the session of a new instance, creates the
// instance and blocks until the flow reports a terminal record, the session
// is removed or replaced, ctx is done or timeout elapses. A non-positive
// timeout uses the runtime's configured wait timeout. The session is
// deregistered before returning unless another channel replaced it.
//
// For apps using the user_select memory strategy the wait also covers the
// memory selection made through SelectMemory.
//
// On timeout the instance keeps running and the returned error carries the
// timeout code.
func (r *Runtime) StartAndWait(ctx context.Context, req CreateRequest, ch session.Channel, timeout time.Duration) (instance.Instance, error) {
	if ch == nil {
		return instance.Instance{}, invalid("session channel is required")
	}
	if timeout <= 0 {
		timeout = r.waitTimeout
	}
	if req.InstanceID == "" {
		req.InstanceID = uuid.NewString()
	}
	id := req.InstanceID
	latch, err := r.registry.Add(id, ch)
	if err != nil {
		return instance.Instance{}, invalid("%v", err)
	}
	reason := session.Pending
	defer func() {
		if reason != session.Replaced {
			r.registry.Remove(id)
		}
	}()

	start := time.Now()
	if _, err := r.Create(ctx, req); err != nil {
		return instance.Instance{}, err
	}
	reason, err = latch.Wait(ctx, timeout)
	r.metrics.RecordTimer("aipp.instance.wait", time.Since(start), "release", reason.String())
	switch {
	case errors.Is(err, session.ErrWaitTimeout):
		r.logger.Warn(ctx, "instance wait timed out", "instance_id", id, "timeout", timeout.String())
		return instance.Instance{}, apperr.Wrap(apperr.CodeTimeout, err, "instance %s", id)
	case err != nil:
		return instance.Instance{}, err
	}
	return r.Instance(context.WithoutCancel(ctx), id)
}
