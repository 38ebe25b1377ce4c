package service

import (
	"net/http"
	"time"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	aippruntime "github.com/wuayee/app-platform-sub002/runtime/aipp/runtime"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
)

// waitResult is returned by synchronous runs.
type waitResult struct {
	Instance InstanceBody      `json:"instance"`
	Messages []session.Message `json:"messages"`
}

func (b createInstanceBody) request(appID string) aippruntime.CreateRequest {
	return aippruntime.CreateRequest{
		InstanceID: b.InstanceID,
		AppID:      appID,
		ChatID:     b.ChatID,
		ParentID:   b.ParentID,
		Question:   b.Question,
		Files:      b.Files,
		Business:   b.Business,
	}
}

func (s *Service) waitTimeout(ms int64) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return s.timeout
}

func (s *Service) createInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body createInstanceBody
	if err := decode(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	req := body.request(s.vars(r)["id"])
	if body.Wait {
		col := &collector{}
		inst, err := s.runtime.StartAndWait(ctx, req, col, s.waitTimeout(body.TimeoutMS))
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		encode(ctx, w, http.StatusOK, waitResult{Instance: instanceBody(inst), Messages: col.messages()})
		return
	}
	res, err := s.runtime.Create(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusCreated, createInstanceResult{
		Instance:       instanceBody(res.Instance),
		AwaitingMemory: res.AwaitingMemory,
		Candidates:     res.Candidates,
	})
}

func (s *Service) getInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, err := s.runtime.Instance(ctx, s.vars(r)["id"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, instanceBody(inst))
}

func (s *Service) resumeInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body resumeBody
	if err := decode(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	inst, err := s.runtime.Resume(ctx, aippruntime.ResumeRequest{InstanceID: s.vars(r)["id"], FormData: body.FormData})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, instanceBody(inst))
}

func (s *Service) terminateInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, err := s.runtime.Terminate(ctx, s.vars(r)["id"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, instanceBody(inst))
}

func (s *Service) selectMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body memoryBody
	if err := decode(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	inst, err := s.runtime.SelectMemory(ctx, s.vars(r)["id"], body.InstanceIDs)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, instanceBody(inst))
}

func (s *Service) reportStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body statusBody
	if err := decode(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	inst, err := s.runtime.ReportStatus(ctx, aippruntime.StatusReport{
		InstanceID:  s.vars(r)["id"],
		Status:      body.Status,
		FormID:      body.FormID,
		FormVersion: body.FormVersion,
		Output:      body.Output,
		Error:       body.Error,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, instanceBody(inst))
}

func (s *Service) appendLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body appendLogBody
	if err := decode(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	rec, err := s.runtime.AppendLog(ctx, aippruntime.LogEvent{
		InstanceID: s.vars(r)["id"],
		Type:       body.Type,
		Payload:    body.Payload,
		Final:      body.Final,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusCreated, logBody(rec))
}

func (s *Service) listLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	page, err := s.runtime.Logs(ctx, s.vars(r)["id"], r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, logPageBody{Records: logBodies(page.Records), NextCursor: page.NextCursor})
}

func (s *Service) recentLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.recent == nil {
		writeError(ctx, w, apperr.New(apperr.CodeNotFound, "log cache is not configured"))
		return
	}
	n, err := queryInt(r, "n", 20)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	recs, err := s.recent.Recent(ctx, s.vars(r)["id"], n)
	if err != nil {
		writeError(ctx, w, apperr.Wrap(apperr.CodeDownstream, err, "read log cache"))
		return
	}
	encode(ctx, w, http.StatusOK, logBodies(recs))
}
