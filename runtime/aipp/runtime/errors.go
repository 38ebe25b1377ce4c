package runtime

import (
	"errors"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/form"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
)

func invalid(format string, args ...any) error {
	return apperr.New(apperr.CodeInvalidParam, format, args...)
}

func forbidden(id string, format string, args ...any) error {
	return apperr.New(apperr.CodeForbiddenState, format, args...).With("instance_id", id)
}

func downstream(err error, msg string) error {
	return apperr.Wrap(apperr.CodeDownstream, err, "%s", msg)
}

func instanceError(err error, id string) error {
	if errors.Is(err, instance.ErrNotFound) {
		return apperr.Wrap(apperr.CodeNotFound, err, "instance %s", id)
	}
	if errors.Is(err, instance.ErrStatusConflict) {
		return apperr.Wrap(apperr.CodeForbiddenState, err, "instance %s", id)
	}
	return downstream(err, "instance store")
}

func appError(err error, id string) error {
	if errors.Is(err, app.ErrNotFound) {
		return apperr.Wrap(apperr.CodeNotFound, err, "app %s", id)
	}
	return downstream(err, "load app")
}

func formError(err error, key string) error {
	if errors.Is(err, form.ErrNotFound) {
		return apperr.Wrap(apperr.CodeNotFound, err, "form %s", key)
	}
	return downstream(err, "form repository")
}
