package service

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/wuayee/app-platform-sub002/features/stream/sse"
	streamws "github.com/wuayee/app-platform-sub002/features/stream/websocket"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	aippruntime "github.com/wuayee/app-platform-sub002/runtime/aipp/runtime"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
)

type (
	// wsCommand is a client frame on the WebSocket session.
	wsCommand struct {
		Method      string         `json:"method"`
		AppID       string         `json:"app_id"`
		InstanceID  string         `json:"instance_id"`
		ChatID      string         `json:"chat_id"`
		ParentID    string         `json:"parent_id"`
		Question    string         `json:"question"`
		Files       []string       `json:"files"`
		Business    map[string]any `json:"business"`
		FormData    map[string]any `json:"form_data"`
		InstanceIDs []string       `json:"instance_ids"`
		TimeoutMS   int64          `json:"timeout_ms"`
	}
)

// WebSocket command methods.
const (
	methodStart        = "start"
	methodResume       = "resume"
	methodTerminate    = "terminate"
	methodSelectMemory = "select_memory"
)

// sessionChannel returns the channel to register for dst. With a relay the
// messages go through a Pulse stream first; stop closes the stream and
// waits for the relay to drain.
func (s *Service) sessionChannel(ctx context.Context, dst session.Channel) (session.Channel, func()) {
	if s.relay == nil {
		return dst, func() {}
	}
	ch, err := s.relay.Open()
	if err != nil {
		s.logger.Warn(ctx, "open session stream failed, delivering directly", "err", err)
		return dst, func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.relay.Relay(context.WithoutCancel(ctx), ch, dst); err != nil {
			s.logger.Warn(ctx, "session relay stopped", "stream", ch.StreamID(), "err", err)
		}
	}()
	return ch, func() {
		if err := ch.Close(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn(ctx, "close session stream failed", "stream", ch.StreamID(), "err", err)
		}
		<-done
	}
}

func (s *Service) errorMessage(instanceID string, err error) session.Message {
	body := ErrorBody{Code: apperr.CodeOf(err), Message: err.Error()}
	if body.Code == apperr.CodeUnknown {
		body.Message = "internal error"
	}
	return session.Message{Type: session.MessageError, InstanceID: instanceID, Data: body, Timestamp: s.now()}
}

func (s *Service) resultMessage(inst InstanceBody) session.Message {
	return session.Message{Type: session.MessageResult, InstanceID: inst.ID, Data: inst, Timestamp: s.now()}
}

// chatStream runs an instance synchronously and streams its messages as
// Server-Sent Events. The final event is a result or an error.
func (s *Service) chatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body createInstanceBody
	if err := decode(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	out, err := sse.New(w)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	defer func() { _ = out.Close(ctx) }()

	req := body.request(s.vars(r)["id"])
	if req.InstanceID == "" {
		req.InstanceID = uuid.NewString()
	}
	ch, stop := s.sessionChannel(ctx, out)
	inst, err := s.runtime.StartAndWait(ctx, req, ch, s.waitTimeout(body.TimeoutMS))
	s.registry.RemoveChannel(ch)
	stop()
	if err != nil {
		_ = out.Send(ctx, s.errorMessage(req.InstanceID, err))
		return
	}
	_ = out.Send(ctx, s.resultMessage(instanceBody(inst)))
}

// websocket serves a multiplexed session: every instance started on the
// connection streams its messages back on it until the connection closes.
func (s *Service) websocket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn, err := streamws.Upgrade(w, r, s.upgrader, streamws.Options{})
	if err != nil {
		s.logger.Debug(ctx, "websocket upgrade failed", "err", err)
		return
	}
	ch, stop := s.sessionChannel(ctx, conn)

	var wg sync.WaitGroup
	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			s.logger.Debug(ctx, "websocket closed", "err", err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleCommand(ctx, ch, cmd)
		}()
	}
	cancel()
	s.registry.RemoveChannel(ch)
	wg.Wait()
	stop()
	_ = conn.Close(context.Background())
}

// handleCommand runs cmd and replies on ch so the reply follows the
// messages the command produced.
func (s *Service) handleCommand(ctx context.Context, ch session.Channel, cmd wsCommand) {
	var (
		inst InstanceBody
		err  error
	)
	switch cmd.Method {
	case methodStart:
		req := aippruntime.CreateRequest{
			InstanceID: cmd.InstanceID,
			AppID:      cmd.AppID,
			ChatID:     cmd.ChatID,
			ParentID:   cmd.ParentID,
			Question:   cmd.Question,
			Files:      cmd.Files,
			Business:   cmd.Business,
		}
		res, werr := s.runtime.StartAndWait(ctx, req, ch, s.waitTimeout(cmd.TimeoutMS))
		inst, err = instanceBody(res), werr
	case methodResume:
		res, rerr := s.runtime.Resume(ctx, aippruntime.ResumeRequest{InstanceID: cmd.InstanceID, FormData: cmd.FormData})
		inst, err = instanceBody(res), rerr
	case methodTerminate:
		res, terr := s.runtime.Terminate(ctx, cmd.InstanceID)
		inst, err = instanceBody(res), terr
	case methodSelectMemory:
		res, serr := s.runtime.SelectMemory(ctx, cmd.InstanceID, cmd.InstanceIDs)
		inst, err = instanceBody(res), serr
	default:
		err = apperr.New(apperr.CodeInvalidParam, "unknown method %q", cmd.Method)
	}
	msg := s.resultMessage(inst)
	if err != nil {
		msg = s.errorMessage(cmd.InstanceID, err)
	}
	if serr := ch.Send(ctx, msg); serr != nil && ctx.Err() == nil {
		s.logger.Debug(ctx, "websocket reply failed", "method", cmd.Method, "err", serr)
	}
}
