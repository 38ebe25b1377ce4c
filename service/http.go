package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

// maxBodyBytes bounds decoded request bodies.
const maxBodyBytes = 4 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := goahttp.RequestDecoder(r).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.New(apperr.CodeInvalidParam, "invalid request body: %v", err)
	}
	return nil
}

func encode(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := enc.Encode(v); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "encode response"})
	}
}

// writeError renders err as an ErrorBody with the status of its code.
// Errors without a domain code are logged and reported as unknown.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	body := ErrorBody{Code: apperr.CodeOf(err), Message: err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Message = ae.Message
		if body.Message == "" {
			body.Message = ae.Error()
		}
	}
	status := apperr.HTTPStatus(body.Code)
	if status >= http.StatusInternalServerError {
		log.Error(ctx, err, log.KV{K: "code", V: string(body.Code)})
	}
	if body.Code == apperr.CodeUnknown {
		body.Message = "internal error"
	}
	encode(ctx, w, status, body)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.CodeInvalidParam, "%s must be a non-negative integer", name)
	}
	return n, nil
}
