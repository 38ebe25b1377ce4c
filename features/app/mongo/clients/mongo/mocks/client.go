// Package mocks provides clue/mock based doubles for the app Mongo client.
package mocks

import (
	"context"
	"testing"

	"goa.design/clue/mock"

	clientsmongo "github.com/wuayee/app-platform-sub002/features/app/mongo/clients/mongo"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
)

type (
	// Client is a mock clientsmongo.Client.
	Client struct {
		m *mock.Mock
		t *testing.T
	}

	ClientNameFunc       func() string
	ClientPingFunc       func(ctx context.Context) error
	ClientInsertAppFunc  func(ctx context.Context, a app.App) error
	ClientLoadAppFunc    func(ctx context.Context, id string) (app.App, error)
	ClientReplaceAppFunc func(ctx context.Context, a app.App) error
	ClientDeleteAppFunc  func(ctx context.Context, id string) error
	ClientFindAppsFunc   func(ctx context.Context, f app.Filter) ([]app.App, error)
)

func NewClient(t *testing.T) *Client {
	var (
		m                     = &Client{mock.New(), t}
		_ clientsmongo.Client = m
	)
	return m
}

func (m *Client) AddName(f ClientNameFunc) { m.m.Add("Name", f) }

func (m *Client) Name() string {
	if f := m.m.Next("Name"); f != nil {
		return f.(ClientNameFunc)()
	}
	return "app-mongo"
}

func (m *Client) AddPing(f ClientPingFunc) { m.m.Add("Ping", f) }

func (m *Client) Ping(ctx context.Context) error {
	if f := m.m.Next("Ping"); f != nil {
		return f.(ClientPingFunc)(ctx)
	}
	m.t.Helper()
	m.t.Error("unexpected Ping call")
	return nil
}

func (m *Client) AddInsertApp(f ClientInsertAppFunc) { m.m.Add("InsertApp", f) }

func (m *Client) InsertApp(ctx context.Context, a app.App) error {
	if f := m.m.Next("InsertApp"); f != nil {
		return f.(ClientInsertAppFunc)(ctx, a)
	}
	m.t.Helper()
	m.t.Error("unexpected InsertApp call")
	return nil
}

func (m *Client) AddLoadApp(f ClientLoadAppFunc) { m.m.Add("LoadApp", f) }

func (m *Client) LoadApp(ctx context.Context, id string) (app.App, error) {
	if f := m.m.Next("LoadApp"); f != nil {
		return f.(ClientLoadAppFunc)(ctx, id)
	}
	m.t.Helper()
	m.t.Error("unexpected LoadApp call")
	return app.App{}, nil
}

func (m *Client) AddReplaceApp(f ClientReplaceAppFunc) { m.m.Add("ReplaceApp", f) }

func (m *Client) ReplaceApp(ctx context.Context, a app.App) error {
	if f := m.m.Next("ReplaceApp"); f != nil {
		return f.(ClientReplaceAppFunc)(ctx, a)
	}
	m.t.Helper()
	m.t.Error("unexpected ReplaceApp call")
	return nil
}

func (m *Client) AddDeleteApp(f ClientDeleteAppFunc) { m.m.Add("DeleteApp", f) }

func (m *Client) DeleteApp(ctx context.Context, id string) error {
	if f := m.m.Next("DeleteApp"); f != nil {
		return f.(ClientDeleteAppFunc)(ctx, id)
	}
	m.t.Helper()
	m.t.Error("unexpected DeleteApp call")
	return nil
}

func (m *Client) AddFindApps(f ClientFindAppsFunc) { m.m.Add("FindApps", f) }

func (m *Client) FindApps(ctx context.Context, f app.Filter) ([]app.App, error) {
	if fn := m.m.Next("FindApps"); fn != nil {
		return fn.(ClientFindAppsFunc)(ctx, f)
	}
	m.t.Helper()
	m.t.Error("unexpected FindApps call")
	return nil, nil
}

func (m *Client) HasMore() bool {
	return m.m.HasMore()
}
