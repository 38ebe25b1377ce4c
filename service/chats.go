package service

import (
	"errors"
	"net/http"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/share"
)

const (
	defaultChatTurns = 20
	maxChatTurns     = 200
)

func (s *Service) listChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := queryInt(r, "limit", defaultChatTurns)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	n = min(n, maxChatTurns)
	recs, err := s.chats.Recent(ctx, s.vars(r)["chat_id"], n)
	if err != nil {
		writeError(ctx, w, apperr.Wrap(apperr.CodeDownstream, err, "list chat history"))
		return
	}
	out := make([]ChatTurnBody, 0, len(recs))
	for _, rec := range recs {
		out = append(out, chatTurnBody(rec))
	}
	encode(ctx, w, http.StatusOK, out)
}

func (s *Service) deleteChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.chats.DeleteChat(ctx, s.vars(r)["chat_id"]); err != nil {
		writeError(ctx, w, apperr.Wrap(apperr.CodeDownstream, err, "delete chat history"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) shareChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.shares == nil {
		writeError(ctx, w, apperr.New(apperr.CodeNotFound, "sharing is not configured"))
		return
	}
	var body shareBody
	if err := decode(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	n := body.Turns
	if n <= 0 || n > maxChatTurns {
		n = maxChatTurns
	}
	chatID := s.vars(r)["chat_id"]
	recs, err := s.chats.Recent(ctx, chatID, n)
	if err != nil {
		writeError(ctx, w, apperr.Wrap(apperr.CodeDownstream, err, "load chat history"))
		return
	}
	req := share.Request{AppID: body.AppID, ChatID: chatID}
	for _, rec := range recs {
		if req.AppID == "" {
			req.AppID = rec.AppID
		}
		req.Entries = append(req.Entries, share.Entry{Question: rec.Question, Answer: rec.Answer})
	}
	if err := req.Validate(); err != nil {
		writeError(ctx, w, apperr.New(apperr.CodeInvalidParam, "%v", err))
		return
	}
	id, err := s.shares.Share(ctx, req)
	if err != nil {
		writeError(ctx, w, apperr.Wrap(apperr.CodeDownstream, err, "share chat %s", chatID))
		return
	}
	encode(ctx, w, http.StatusCreated, map[string]string{"share_id": id})
}

func (s *Service) getShare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.shares == nil {
		writeError(ctx, w, apperr.New(apperr.CodeNotFound, "sharing is not configured"))
		return
	}
	id := s.vars(r)["share_id"]
	shared, err := s.shares.Get(ctx, id)
	switch {
	case errors.Is(err, share.ErrNotFound):
		writeError(ctx, w, apperr.New(apperr.CodeNotFound, "shared conversation %s not found", id))
		return
	case err != nil:
		writeError(ctx, w, apperr.Wrap(apperr.CodeDownstream, err, "get shared conversation %s", id))
		return
	}
	encode(ctx, w, http.StatusOK, shared)
}
