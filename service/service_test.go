package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"goa.design/clue/log"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/ancestor"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
	appinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/app/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	chatinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/chat/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/dispatch"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/flow"
	flowinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/flow/inmem"
	forminmem "github.com/wuayee/app-platform-sub002/runtime/aipp/form/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
	instinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/instance/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/model"
	aippruntime "github.com/wuayee/app-platform-sub002/runtime/aipp/runtime"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
	loginmem "github.com/wuayee/app-platform-sub002/runtime/aipp/runlog/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/share"
	uploadinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/upload/inmem"
)

var graph = json.RawMessage(`{"nodes":[{"id":"start"}]}`)

type (
	testServer struct {
		srv      *httptest.Server
		rt       *aippruntime.Runtime
		registry *session.Registry
		chats    *chatinmem.Store
	}

	fakeModel struct {
		resp model.Response
		err  error
	}

	fakeShares struct {
		shared share.Request
	}

	waitBody struct {
		Instance InstanceBody `json:"instance"`
		Messages []struct {
			Type session.MessageType `json:"type"`
		} `json:"messages"`
	}
)

func (m *fakeModel) Complete(context.Context, model.Request) (model.Response, error) {
	return m.resp, m.err
}

func (f *fakeShares) Share(_ context.Context, req share.Request) (string, error) {
	f.shared = req
	return "sh-1", nil
}

func (f *fakeShares) Get(_ context.Context, id string) (share.Shared, error) {
	if id != "sh-1" {
		return share.Shared{}, share.ErrNotFound
	}
	return share.Shared{ID: id, ChatID: f.shared.ChatID, Entries: f.shared.Entries}, nil
}

// newTestServer wires the service over in-memory stores. Flows complete
// with answer "done" as soon as they start when autoComplete is set.
func newTestServer(t *testing.T, autoComplete bool, opts ...func(*Options)) *testServer {
	t.Helper()
	ts := &testServer{registry: session.NewRegistry(), chats: chatinmem.New()}
	var flowOpts []flowinmem.Option
	if autoComplete {
		flowOpts = append(flowOpts, flowinmem.WithStartHook(func(req flow.StartRequest, _ string) {
			go func() {
				ctx := context.Background()
				// The chat turn is recorded before the trace ID is stored.
				for i := 0; i < 100; i++ {
					if inst, err := ts.rt.Instance(ctx, req.InstanceID); err == nil && inst.TraceID != "" {
						break
					}
					time.Sleep(5 * time.Millisecond)
				}
				_, _ = ts.rt.AppendLog(ctx, aippruntime.LogEvent{InstanceID: req.InstanceID, Type: runlog.TypeMessage, Payload: json.RawMessage(`{"msg":"thinking"}`)})
				_, _ = ts.rt.ReportStatus(ctx, aippruntime.StatusReport{InstanceID: req.InstanceID, Status: instance.StatusCompleted, Output: "done"})
			}()
		}))
	}
	flows := flowinmem.New(flowOpts...)
	apps, err := app.NewService(app.Options{Store: appinmem.New(), Flows: flows})
	require.NoError(t, err)

	logs := loginmem.New()
	instances := instinmem.New()
	forms := forminmem.New()
	resolver := ancestor.NewResolver(logs, nil)
	d, err := dispatch.New(dispatch.Options{Registry: ts.registry, Instances: instances, Forms: forms, Resolver: resolver})
	require.NoError(t, err)
	ts.rt, err = aippruntime.New(aippruntime.Options{
		Apps:        apps,
		Instances:   instances,
		Logs:        logs,
		Forms:       forms,
		Flows:       flows,
		Chats:       ts.chats,
		Registry:    ts.registry,
		Dispatcher:  d,
		Resolver:    resolver,
		WaitTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	o := Options{
		Apps:     apps,
		Runtime:  ts.rt,
		Registry: ts.registry,
		Chats:    ts.chats,
		Uploads:  uploadinmem.New(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	svc, err := New(o)
	require.NoError(t, err)
	ctx := log.Context(context.Background(), log.WithOutput(io.Discard))
	ts.srv = httptest.NewServer(Handler(ctx, svc, nil, false))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) createApp(t *testing.T, name string) AppBody {
	t.Helper()
	var a AppBody
	status := ts.do(t, http.MethodPost, "/v1/apps", map[string]any{"name": name, "graph": graph}, &a)
	require.Equal(t, http.StatusCreated, status)
	return a
}

func TestAppLifecycle(t *testing.T) {
	ts := newTestServer(t, false)
	a := ts.createApp(t, "travel")
	require.Equal(t, app.InitialVersion, a.Version)
	require.Equal(t, app.StatusDraft, a.Status)

	var got AppBody
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/apps/"+a.ID, nil, &got))
	require.Equal(t, "travel", got.Name)

	var updated AppBody
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/v1/apps/"+a.ID, map[string]any{"description": "trips"}, &updated))
	require.Equal(t, "trips", updated.Description)

	var list []AppBody
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/apps?name=trav", nil, &list))
	require.Len(t, list, 1)

	var published AppBody
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/apps/"+a.ID+"/publish", map[string]string{"version": "1.0.1"}, &published))
	require.Equal(t, app.StatusPublished, published.Status)

	var copied AppBody
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/apps/"+a.ID+"/copy", nil, &copied))
	require.NotEqual(t, a.ID, copied.ID)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/apps/"+copied.ID, nil, nil))
}

func TestErrorBodies(t *testing.T) {
	ts := newTestServer(t, false)
	ts.createApp(t, "travel")

	var body ErrorBody
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/apps/missing", nil, &body))
	require.Equal(t, apperr.CodeNotFound, body.Code)
	require.NotEmpty(t, body.Message)

	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/v1/apps", map[string]any{"name": "travel", "graph": graph}, &body))
	require.Equal(t, apperr.CodeDuplicateName, body.Code)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/apps", map[string]any{"name": "", "graph": graph}, &body))
	require.Equal(t, apperr.CodeInvalidParam, body.Code)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/apps?limit=-1", nil, &body))
	require.Equal(t, apperr.CodeInvalidParam, body.Code)
}

func TestCreateInstanceAndWait(t *testing.T) {
	ts := newTestServer(t, true)
	a := ts.createApp(t, "travel")

	var res waitBody
	status := ts.do(t, http.MethodPost, "/v1/apps/"+a.ID+"/instances", map[string]any{"question": "where?", "chat_id": "c1", "wait": true}, &res)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, instance.StatusCompleted, res.Instance.Status)
	require.NotEmpty(t, res.Messages)
	require.Zero(t, ts.registry.Len())

	var page logPageBody
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/instances/"+res.Instance.ID+"/logs?limit=10", nil, &page))
	require.Len(t, page.Records, 3)
	require.Equal(t, runlog.TypeQuestion, page.Records[0].Type)
	require.True(t, page.Records[2].Final)

	var turns []ChatTurnBody
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/chats/c1", nil, &turns))
	require.Len(t, turns, 1)
	require.Equal(t, "done", turns[0].Answer)
}

func TestInstanceCallbacks(t *testing.T) {
	ts := newTestServer(t, false)
	a := ts.createApp(t, "travel")

	var created createInstanceResult
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/apps/"+a.ID+"/instances", map[string]any{"question": "q"}, &created))
	id := created.Instance.ID
	require.Equal(t, instance.StatusRunning, created.Instance.Status)

	var rec LogBody
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/instances/"+id+"/logs", map[string]any{"type": "msg", "payload": map[string]string{"msg": "hi"}}, &rec))
	require.Equal(t, "/"+id, rec.Path)

	var inst InstanceBody
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/instances/"+id+"/terminate", nil, &inst))
	require.Equal(t, instance.StatusTerminated, inst.Status)

	var body ErrorBody
	require.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/v1/instances/"+id+"/memory", map[string]any{"instance_ids": []string{}}, &body))
	require.Equal(t, apperr.CodeForbiddenState, body.Code)
}

func TestChatStreamSSE(t *testing.T) {
	ts := newTestServer(t, true)
	a := ts.createApp(t, "travel")

	resp, err := http.Post(ts.srv.URL+"/v1/apps/"+a.ID+"/chat/stream", "application/json", strings.NewReader(`{"question":"q"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(raw)
	require.Contains(t, out, "event: log\n")
	require.True(t, strings.Contains(out, "event: result\n"), out)
}

func TestWebSocketSession(t *testing.T) {
	ts := newTestServer(t, true)
	a := ts.createApp(t, "travel")

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(map[string]any{"method": "start", "app_id": a.ID, "question": "q"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var types []session.MessageType
	for {
		var msg struct {
			Type session.MessageType `json:"type"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
		if msg.Type == session.MessageResult || msg.Type == session.MessageError {
			break
		}
	}
	require.Equal(t, session.MessageResult, types[len(types)-1])
	require.Contains(t, types, session.MessageLog)

	require.NoError(t, conn.WriteJSON(map[string]any{"method": "bogus"}))
	var msg struct {
		Type session.MessageType `json:"type"`
		Data ErrorBody           `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, session.MessageError, msg.Type)
	require.Equal(t, apperr.CodeInvalidParam, msg.Data.Code)
}

func TestUploads(t *testing.T) {
	ts := newTestServer(t, false)
	a := ts.createApp(t, "travel")

	var f FileBody
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/uploads", map[string]any{"app_id": a.ID, "name": "a.pdf", "url": "s3://b/a.pdf", "size": 10}, &f))
	require.NotEmpty(t, f.ID)

	var files []FileBody
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/apps/"+a.ID+"/uploads", nil, &files))
	require.Len(t, files, 1)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/uploads/"+f.ID, nil, nil))
	var body ErrorBody
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/uploads/"+f.ID, nil, &body))

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/uploads", map[string]any{"app_id": a.ID, "name": "a/b", "url": "u", "size": 1}, &body))
	require.Equal(t, apperr.CodeInvalidParam, body.Code)
}

func TestShareChat(t *testing.T) {
	shares := &fakeShares{}
	ts := newTestServer(t, true, func(o *Options) { o.Shares = shares })
	a := ts.createApp(t, "travel")

	var res waitBody
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/apps/"+a.ID+"/instances", map[string]any{"question": "q", "chat_id": "c1", "wait": true}, &res))

	var out map[string]string
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/chats/c1/share", map[string]any{}, &out))
	require.Equal(t, "sh-1", out["share_id"])
	require.Equal(t, a.ID, shares.shared.AppID)
	require.Equal(t, []share.Entry{{Question: "q", Answer: "done"}}, shares.shared.Entries)

	var shared share.Shared
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/shares/sh-1", nil, &shared))
	require.Equal(t, "c1", shared.ChatID)

	var body ErrorBody
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/shares/other", nil, &body))

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/chats/c1", nil, nil))
	var turns []ChatTurnBody
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/chats/c1", nil, &turns))
	require.Empty(t, turns)
}

func TestAskModel(t *testing.T) {
	m := &fakeModel{resp: model.Response{Content: "hello"}}
	ts := newTestServer(t, false, func(o *Options) { o.Model = m })

	req := map[string]any{"messages": []map[string]string{{"role": "user", "content": "hi"}}}
	var resp model.Response
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/model/ask", req, &resp))
	require.Equal(t, "hello", resp.Content)

	m.err = fmt.Errorf("provider: %w", model.ErrRateLimited)
	var body ErrorBody
	require.Equal(t, http.StatusBadGateway, ts.do(t, http.MethodPost, "/v1/model/ask", req, &body))
	require.Equal(t, apperr.CodeDownstream, body.Code)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/model/ask", map[string]any{}, &body))
}

func TestOptionalRoutesWithoutDependencies(t *testing.T) {
	ts := newTestServer(t, false)
	var body ErrorBody
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/model/ask", map[string]any{}, &body))
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/shares/x", nil, &body))
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/instances/x/logs/recent", nil, &body))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	resp, err := http.Get(ts.srv.URL + "/livez")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "app service is required")
}
