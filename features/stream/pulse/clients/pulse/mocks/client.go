// Package mocks provides clue/mock based doubles for the Pulse client.
package mocks

import (
	"context"
	"testing"

	"goa.design/clue/mock"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/wuayee/app-platform-sub002/features/stream/pulse/clients/pulse"
)

type (
	// Client is a mock clientspulse.Client.
	Client struct {
		m *mock.Mock
		t *testing.T
	}

	// Stream is a mock clientspulse.Stream.
	Stream struct {
		m *mock.Mock
		t *testing.T
	}

	// Sink is a mock clientspulse.Sink.
	Sink struct {
		m *mock.Mock
		t *testing.T
	}

	ClientNameFunc   func() string
	ClientPingFunc   func(ctx context.Context) error
	ClientStreamFunc func(name string, opts ...streamopts.Stream) (clientspulse.Stream, error)

	StreamAddFunc     func(ctx context.Context, event string, payload []byte) (string, error)
	StreamNewSinkFunc func(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error)
	StreamDestroyFunc func(ctx context.Context) error

	SinkSubscribeFunc func() <-chan *streaming.Event
	SinkAckFunc       func(ctx context.Context, evt *streaming.Event) error
	SinkCloseFunc     func(ctx context.Context)
)

func NewClient(t *testing.T) *Client {
	var (
		m                     = &Client{mock.New(), t}
		_ clientspulse.Client = m
	)
	return m
}

func (m *Client) AddName(f ClientNameFunc) { m.m.Add("Name", f) }

func (m *Client) Name() string {
	if f := m.m.Next("Name"); f != nil {
		return f.(ClientNameFunc)()
	}
	return "session-streams"
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

func (m *Client) AddStream(f ClientStreamFunc) { m.m.Add("Stream", f) }

func (m *Client) Stream(name string, opts ...streamopts.Stream) (clientspulse.Stream, error) {
	if f := m.m.Next("Stream"); f != nil {
		return f.(ClientStreamFunc)(name, opts...)
	}
	m.t.Helper()
	m.t.Error("unexpected Stream call")
	return nil, nil
}

func (m *Client) HasMore() bool { return m.m.HasMore() }

func NewStream(t *testing.T) *Stream {
	var (
		m                     = &Stream{mock.New(), t}
		_ clientspulse.Stream = m
	)
	return m
}

func (m *Stream) AddAdd(f StreamAddFunc) { m.m.Add("Add", f) }

func (m *Stream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if f := m.m.Next("Add"); f != nil {
		return f.(StreamAddFunc)(ctx, event, payload)
	}
	m.t.Helper()
	m.t.Error("unexpected Add call")
	return "", nil
}

func (m *Stream) AddNewSink(f StreamNewSinkFunc) { m.m.Add("NewSink", f) }

func (m *Stream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
	if f := m.m.Next("NewSink"); f != nil {
		return f.(StreamNewSinkFunc)(ctx, name, opts...)
	}
	m.t.Helper()
	m.t.Error("unexpected NewSink call")
	return nil, nil
}

func (m *Stream) AddDestroy(f StreamDestroyFunc) { m.m.Add("Destroy", f) }

func (m *Stream) Destroy(ctx context.Context) error {
	if f := m.m.Next("Destroy"); f != nil {
		return f.(StreamDestroyFunc)(ctx)
	}
	m.t.Helper()
	m.t.Error("unexpected Destroy call")
	return nil
}

func (m *Stream) HasMore() bool { return m.m.HasMore() }

func NewSink(t *testing.T) *Sink {
	var (
		m                   = &Sink{mock.New(), t}
		_ clientspulse.Sink = m
	)
	return m
}

func (m *Sink) AddSubscribe(f SinkSubscribeFunc) { m.m.Add("Subscribe", f) }

func (m *Sink) Subscribe() <-chan *streaming.Event {
	if f := m.m.Next("Subscribe"); f != nil {
		return f.(SinkSubscribeFunc)()
	}
	m.t.Helper()
	m.t.Error("unexpected Subscribe call")
	return nil
}

func (m *Sink) AddAck(f SinkAckFunc) { m.m.Add("Ack", f) }

func (m *Sink) Ack(ctx context.Context, evt *streaming.Event) error {
	if f := m.m.Next("Ack"); f != nil {
		return f.(SinkAckFunc)(ctx, evt)
	}
	m.t.Helper()
	m.t.Error("unexpected Ack call")
	return nil
}

func (m *Sink) AddClose(f SinkCloseFunc) { m.m.Add("Close", f) }

func (m *Sink) Close(ctx context.Context) {
	if f := m.m.Next("Close"); f != nil {
		f.(SinkCloseFunc)(ctx)
	}
}

func (m *Sink) HasMore() bool { return m.m.HasMore() }
