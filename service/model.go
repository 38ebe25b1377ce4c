package service

import (
	"errors"
	"net/http"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/model"
)

func (s *Service) askModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.model == nil {
		writeError(ctx, w, apperr.New(apperr.CodeNotFound, "model proxy is not configured"))
		return
	}
	var req model.Request
	if err := decode(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(ctx, w, apperr.New(apperr.CodeInvalidParam, "%v", err))
		return
	}
	resp, err := s.model.Complete(ctx, req)
	switch {
	case errors.Is(err, model.ErrRateLimited):
		writeError(ctx, w, apperr.Wrap(apperr.CodeDownstream, err, "model provider is rate limiting requests"))
		return
	case err != nil:
		writeError(ctx, w, apperr.Wrap(apperr.CodeDownstream, err, "model completion failed"))
		return
	}
	encode(ctx, w, http.StatusOK, resp)
}
