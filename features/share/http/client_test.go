package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/retry"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/share"
)

func fastRetry() *retry.Config {
	return &retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
}

func TestShareRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/shares", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req share.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "chat-1", req.ChatID)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "sh-1"})
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL + "/", Retry: fastRetry()})
	require.NoError(t, err)
	id, err := c.Share(context.Background(), share.Request{
		AppID:   "app-1",
		ChatID:  "chat-1",
		Entries: []share.Entry{{Question: "q", Answer: "a"}},
	})
	require.NoError(t, err)
	require.Equal(t, "sh-1", id)
	require.EqualValues(t, 2, calls.Load())
}

func TestShareValidates(t *testing.T) {
	c, err := New(Options{BaseURL: "http://localhost"})
	require.NoError(t, err)
	_, err = c.Share(context.Background(), share.Request{ChatID: "c"})
	require.EqualError(t, err, "nothing to share")
}

func TestGet(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/shares/sh-1":
			_ = json.NewEncoder(w).Encode(share.Shared{ID: "sh-1", ChatID: "chat-1", CreatedAt: created})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	got, err := c.Get(context.Background(), "sh-1")
	require.NoError(t, err)
	require.Equal(t, "chat-1", got.ChatID)
	require.True(t, created.Equal(got.CreatedAt))

	_, err = c.Get(context.Background(), "missing")
	require.ErrorIs(t, err, share.ErrNotFound)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "share service url is required")
}
