// Package apperr defines the flat set of domain error codes surfaced by the
// AIPP service layer. Validation failures are raised with New; failures of
// downstream collaborators (flow engine, broker, HTTP services) are re-signaled
// with Wrap so callers observe a stable code while errors.Is/As still reach the
// original cause.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Code identifies a class of domain failure.
type Code string

const (
	// CodeInvalidParam reports a request that failed validation.
	CodeInvalidParam Code = "invalid_param"
	// CodeForbiddenState reports an operation not allowed in the target's
	// current state, such as updating a published app.
	CodeForbiddenState Code = "forbidden_state"
	// CodeNotFound reports a missing app, instance, form or log.
	CodeNotFound Code = "not_found"
	// CodeDuplicateName reports a name collision.
	CodeDuplicateName Code = "duplicate_name"
	// CodeVersionConflict reports a publish with a version that is malformed
	// or not newer than the current one.
	CodeVersionConflict Code = "version_conflict"
	// CodeFlowCreateFailed reports that the flow engine rejected a definition.
	CodeFlowCreateFailed Code = "flow_create_failed"
	// CodePublishFailed reports that the flow engine failed to publish.
	CodePublishFailed Code = "publish_failed"
	// CodeDownstream reports a failed call to an external collaborator.
	CodeDownstream Code = "downstream_failure"
	// CodeTimeout reports a blocking wait that exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeUnknown is the catch-all code.
	CodeUnknown Code = "unknown"
)

// Error is a domain error carrying a stable code, a human-readable message
// and optional context values rendered into the message.
type Error struct {
	Code    Code
	Message string
	// Context holds identifiers relevant to the failure (app ID, instance ID).
	Context map[string]string
	// Err is the wrapped cause, if any.
	Err error
}

// New returns an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap re-signals err under code. It returns nil when err is nil. When err
// already carries a domain code it is returned unchanged so the innermost
// classification wins.
func Wrap(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// With returns a copy of e with the key/value added to its context.
func (e *Error) With(key, value string) *Error {
	out := *e
	out.Context = make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		out.Context[k] = v
	}
	out.Context[key] = value
	return &out
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code. This lets
// callers test errors.Is(err, apperr.NotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Code == e.Code
}

// Sentinels usable with errors.Is.
var (
	InvalidParam   = &Error{Code: CodeInvalidParam}
	ForbiddenState = &Error{Code: CodeForbiddenState}
	NotFound       = &Error{Code: CodeNotFound}
	DuplicateName  = &Error{Code: CodeDuplicateName}
	Timeout        = &Error{Code: CodeTimeout}
)

// CodeOf returns the domain code carried by err, CodeUnknown when err has
// none, and the empty code for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// HTTPStatus maps a code to the HTTP status returned to clients.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidParam, CodeVersionConflict:
		return http.StatusBadRequest
	case CodeForbiddenState:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDuplicateName:
		return http.StatusConflict
	case CodeFlowCreateFailed, CodePublishFailed, CodeDownstream:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
