// Package service exposes the AIPP runtime over HTTP: app management,
// instance lifecycle, conversation history, uploads, the model proxy and
// the WebSocket and Server-Sent Events session transports.
package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	goahttp "goa.design/goa/v3/http"

	streampulse "github.com/wuayee/app-platform-sub002/features/stream/pulse"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/chat"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/model"
	aippruntime "github.com/wuayee/app-platform-sub002/runtime/aipp/runtime"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/share"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/telemetry"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/upload"
)

type (
	// Service holds the HTTP handlers.
	Service struct {
		apps     *app.Service
		runtime  *aippruntime.Runtime
		registry *session.Registry
		chats    chat.Store
		uploads  upload.Store
		shares   share.Client
		model    model.Client
		recent   RecentLogs
		relay    *streampulse.Streams
		upgrader *websocket.Upgrader
		timeout  time.Duration
		logger   telemetry.Logger
		now      func() time.Time
		vars     func(*http.Request) map[string]string
	}

	// Options configures a Service. Apps, Runtime, Registry, Chats and
	// Uploads are required. Routes backed by a nil optional dependency
	// answer 404.
	Options struct {
		Apps     *app.Service
		Runtime  *aippruntime.Runtime
		Registry *session.Registry
		Chats    chat.Store
		Uploads  upload.Store
		Shares   share.Client
		Model    model.Client
		// RecentLogs serves the recent log endpoint from a cache.
		RecentLogs RecentLogs
		// Relay routes session messages through Pulse streams before they
		// reach the client transport.
		Relay *streampulse.Streams
		// Upgrader defaults to a websocket.Upgrader accepting any origin.
		Upgrader *websocket.Upgrader
		// WaitTimeout bounds synchronous instance runs. Zero uses the
		// runtime default.
		WaitTimeout time.Duration
		Telemetry   telemetry.Bundle
	}

	// RecentLogs returns the last n cached records of an instance.
	RecentLogs interface {
		Recent(ctx context.Context, instanceID string, n int) ([]*runlog.Record, error)
	}
)

// New returns a Service.
func New(opts Options) (*Service, error) {
	switch {
	case opts.Apps == nil:
		return nil, errors.New("app service is required")
	case opts.Runtime == nil:
		return nil, errors.New("runtime is required")
	case opts.Registry == nil:
		return nil, errors.New("session registry is required")
	case opts.Chats == nil:
		return nil, errors.New("chat store is required")
	case opts.Uploads == nil:
		return nil, errors.New("upload store is required")
	}
	up := opts.Upgrader
	if up == nil {
		up = &websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	}
	return &Service{
		apps:     opts.Apps,
		runtime:  opts.Runtime,
		registry: opts.Registry,
		chats:    opts.Chats,
		uploads:  opts.Uploads,
		shares:   opts.Shares,
		model:    opts.Model,
		recent:   opts.RecentLogs,
		relay:    opts.Relay,
		upgrader: up,
		timeout:  opts.WaitTimeout,
		logger:   opts.Telemetry.WithDefaults().Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Mount registers every route on mux.
func (s *Service) Mount(mux goahttp.Muxer) {
	s.vars = mux.Vars
	mux.Handle(http.MethodPost, "/v1/apps", s.createApp)
	mux.Handle(http.MethodGet, "/v1/apps", s.listApps)
	mux.Handle(http.MethodGet, "/v1/apps/{id}", s.getApp)
	mux.Handle(http.MethodPut, "/v1/apps/{id}", s.updateApp)
	mux.Handle(http.MethodDelete, "/v1/apps/{id}", s.deleteApp)
	mux.Handle(http.MethodPost, "/v1/apps/{id}/publish", s.publishApp)
	mux.Handle(http.MethodPost, "/v1/apps/{id}/preview", s.previewApp)
	mux.Handle(http.MethodPost, "/v1/apps/{id}/copy", s.copyApp)
	mux.Handle(http.MethodGet, "/v1/apps/{id}/uploads", s.listUploads)

	mux.Handle(http.MethodPost, "/v1/apps/{id}/instances", s.createInstance)
	mux.Handle(http.MethodPost, "/v1/apps/{id}/chat/stream", s.chatStream)
	mux.Handle(http.MethodGet, "/v1/ws", s.websocket)

	mux.Handle(http.MethodGet, "/v1/instances/{id}", s.getInstance)
	mux.Handle(http.MethodPost, "/v1/instances/{id}/resume", s.resumeInstance)
	mux.Handle(http.MethodPost, "/v1/instances/{id}/terminate", s.terminateInstance)
	mux.Handle(http.MethodPost, "/v1/instances/{id}/memory", s.selectMemory)
	mux.Handle(http.MethodPost, "/v1/instances/{id}/status", s.reportStatus)
	mux.Handle(http.MethodPost, "/v1/instances/{id}/logs", s.appendLog)
	mux.Handle(http.MethodGet, "/v1/instances/{id}/logs", s.listLogs)
	mux.Handle(http.MethodGet, "/v1/instances/{id}/logs/recent", s.recentLogs)

	mux.Handle(http.MethodGet, "/v1/chats/{chat_id}", s.listChat)
	mux.Handle(http.MethodDelete, "/v1/chats/{chat_id}", s.deleteChat)
	mux.Handle(http.MethodPost, "/v1/chats/{chat_id}/share", s.shareChat)
	mux.Handle(http.MethodGet, "/v1/shares/{share_id}", s.getShare)

	mux.Handle(http.MethodPost, "/v1/uploads", s.createUpload)
	mux.Handle(http.MethodGet, "/v1/uploads/{id}", s.getUpload)
	mux.Handle(http.MethodDelete, "/v1/uploads/{id}", s.deleteUpload)

	mux.Handle(http.MethodPost, "/v1/model/ask", s.askModel)
}
