package service

import (
	"net/http"
	"strconv"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
)

func (s *Service) createApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body createAppBody
	if err := decode(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	a, err := s.apps.Create(ctx, app.CreateRequest{
		Name:        body.Name,
		Description: body.Description,
		Graph:       body.Graph,
		Memory:      body.Memory,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusCreated, appBody(a))
}

func (s *Service) listApps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	f := app.Filter{
		NameContains: q.Get("name"),
		Status:       app.Status(q.Get("status")),
		Limit:        limit,
		Offset:       offset,
	}
	if v := q.Get("include_preview"); v != "" {
		f.IncludePreview, err = strconv.ParseBool(v)
		if err != nil {
			writeError(ctx, w, apperr.New(apperr.CodeInvalidParam, "include_preview must be a boolean"))
			return
		}
	}
	apps, err := s.apps.List(ctx, f)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	out := make([]AppBody, 0, len(apps))
	for _, a := range apps {
		out = append(out, appBody(a))
	}
	encode(ctx, w, http.StatusOK, out)
}

func (s *Service) getApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.apps.Get(ctx, s.vars(r)["id"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, appBody(a))
}

func (s *Service) updateApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body updateAppBody
	if err := decode(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	a, err := s.apps.Update(ctx, app.UpdateRequest{
		ID:          s.vars(r)["id"],
		Name:        body.Name,
		Description: body.Description,
		Graph:       body.Graph,
		Memory:      body.Memory,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, appBody(a))
}

func (s *Service) deleteApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.apps.Delete(ctx, s.vars(r)["id"]); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) publishApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body publishBody
	if err := decode(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	a, err := s.apps.Publish(ctx, s.vars(r)["id"], body.Version)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, appBody(a))
}

func (s *Service) previewApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.apps.Preview(ctx, s.vars(r)["id"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusCreated, appBody(a))
}

func (s *Service) copyApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.apps.Copy(ctx, s.vars(r)["id"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusCreated, appBody(a))
}
