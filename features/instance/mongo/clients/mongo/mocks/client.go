// Package mocks provides clue/mock based doubles for the instance Mongo
// client.
package mocks

import (
	"context"
	"testing"

	"goa.design/clue/mock"

	clientsmongo "github.com/wuayee/app-platform-sub002/features/instance/mongo/clients/mongo"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
)

type (
	// Client is a mock clientsmongo.Client. Expected calls are queued with
	// the Add methods and consumed in order.
	Client struct {
		m *mock.Mock
		t *testing.T
	}

	ClientNameFunc               func() string
	ClientPingFunc               func(ctx context.Context) error
	ClientCreateInstanceFunc     func(ctx context.Context, inst instance.Instance) error
	ClientLoadInstanceFunc       func(ctx context.Context, id string) (instance.Instance, error)
	ClientUpdateInstanceFunc     func(ctx context.Context, id string, p instance.Patch) (instance.Instance, error)
	ClientListInstancesByAppFunc func(ctx context.Context, appID string, limit int) ([]instance.Instance, error)
)

// NewClient returns a mock client reporting unexpected calls to t.
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
	return "instance-mongo"
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

func (m *Client) AddCreateInstance(f ClientCreateInstanceFunc) { m.m.Add("CreateInstance", f) }

func (m *Client) CreateInstance(ctx context.Context, inst instance.Instance) error {
	if f := m.m.Next("CreateInstance"); f != nil {
		return f.(ClientCreateInstanceFunc)(ctx, inst)
	}
	m.t.Helper()
	m.t.Error("unexpected CreateInstance call")
	return nil
}

func (m *Client) AddLoadInstance(f ClientLoadInstanceFunc) { m.m.Add("LoadInstance", f) }

func (m *Client) LoadInstance(ctx context.Context, id string) (instance.Instance, error) {
	if f := m.m.Next("LoadInstance"); f != nil {
		return f.(ClientLoadInstanceFunc)(ctx, id)
	}
	m.t.Helper()
	m.t.Error("unexpected LoadInstance call")
	return instance.Instance{}, nil
}

func (m *Client) AddUpdateInstance(f ClientUpdateInstanceFunc) { m.m.Add("UpdateInstance", f) }

func (m *Client) UpdateInstance(ctx context.Context, id string, p instance.Patch) (instance.Instance, error) {
	if f := m.m.Next("UpdateInstance"); f != nil {
		return f.(ClientUpdateInstanceFunc)(ctx, id, p)
	}
	m.t.Helper()
	m.t.Error("unexpected UpdateInstance call")
	return instance.Instance{}, nil
}

func (m *Client) AddListInstancesByApp(f ClientListInstancesByAppFunc) {
	m.m.Add("ListInstancesByApp", f)
}

func (m *Client) ListInstancesByApp(ctx context.Context, appID string, limit int) ([]instance.Instance, error) {
	if f := m.m.Next("ListInstancesByApp"); f != nil {
		return f.(ClientListInstancesByAppFunc)(ctx, appID, limit)
	}
	m.t.Helper()
	m.t.Error("unexpected ListInstancesByApp call")
	return nil, nil
}

// HasMore reports whether queued calls remain.
func (m *Client) HasMore() bool {
	return m.m.HasMore()
}
