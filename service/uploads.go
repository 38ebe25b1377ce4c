package service

import (
	"errors"
	"net/http"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/upload"
)

func uploadError(err error, id string) error {
	if errors.Is(err, upload.ErrNotFound) {
		return apperr.New(apperr.CodeNotFound, "file %s not found", id)
	}
	return apperr.Wrap(apperr.CodeDownstream, err, "file store")
}

func (s *Service) createUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body FileBody
	if err := decode(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	f := upload.File{
		AppID:       body.AppID,
		Name:        body.Name,
		URL:         body.URL,
		ContentType: body.ContentType,
		Size:        body.Size,
	}
	if err := f.Validate(); err != nil {
		writeError(ctx, w, apperr.New(apperr.CodeInvalidParam, "%v", err))
		return
	}
	if _, err := s.apps.Get(ctx, f.AppID); err != nil {
		writeError(ctx, w, err)
		return
	}
	created, err := s.uploads.Create(ctx, f)
	if err != nil {
		writeError(ctx, w, uploadError(err, ""))
		return
	}
	encode(ctx, w, http.StatusCreated, fileBody(created))
}

func (s *Service) getUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := s.vars(r)["id"]
	f, err := s.uploads.Get(ctx, id)
	if err != nil {
		writeError(ctx, w, uploadError(err, id))
		return
	}
	encode(ctx, w, http.StatusOK, fileBody(f))
}

func (s *Service) deleteUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := s.vars(r)["id"]
	if err := s.uploads.Delete(ctx, id); err != nil {
		writeError(ctx, w, uploadError(err, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) listUploads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	files, err := s.uploads.ListByApp(ctx, s.vars(r)["id"])
	if err != nil {
		writeError(ctx, w, uploadError(err, ""))
		return
	}
	out := make([]FileBody, 0, len(files))
	for _, f := range files {
		out = append(out, fileBody(f))
	}
	encode(ctx, w, http.StatusOK, out)
}
