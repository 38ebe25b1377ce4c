package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/wuayee/app-platform-sub002/features/stream/pulse/clients/pulse"
	mockpulse "github.com/wuayee/app-platform-sub002/features/stream/pulse/clients/pulse/mocks"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
)

func subscriberMocks(t *testing.T, events chan *streaming.Event) (*mockpulse.Client, *mockpulse.Sink) {
	t.Helper()
	cli := mockpulse.NewClient(t)
	str := mockpulse.NewStream(t)
	sink := mockpulse.NewSink(t)
	cli.AddStream(func(string, ...streamopts.Stream) (clientspulse.Stream, error) { return str, nil })
	str.AddNewSink(func(_ context.Context, name string, _ ...streamopts.Sink) (clientspulse.Sink, error) {
		require.Equal(t, "aipp_session_relay", name)
		return sink, nil
	})
	sink.AddSubscribe(func() <-chan *streaming.Event { return events })
	return cli, sink
}

func TestSubscribeEmitsMessagesUntilClose(t *testing.T) {
	events := make(chan *streaming.Event, 2)
	cli, sink := subscriberMocks(t, events)
	sink.AddAck(func(_ context.Context, evt *streaming.Event) error {
		require.Equal(t, "1-0", evt.ID)
		return nil
	})
	sink.AddAck(func(_ context.Context, evt *streaming.Event) error {
		require.Equal(t, "2-0", evt.ID)
		return nil
	})

	sub, err := NewSubscriber(SubscriberOptions{Client: cli})
	require.NoError(t, err)
	msgs, errs, cancel, err := sub.Subscribe(context.Background(), "aipp/session/s1")
	require.NoError(t, err)
	defer cancel()

	payload, err := json.Marshal(session.Message{Type: session.MessageLog, InstanceID: "inst-1", Data: map[string]string{"k": "v"}})
	require.NoError(t, err)
	events <- &streaming.Event{ID: "1-0", Payload: payload}
	events <- &streaming.Event{ID: "2-0", Payload: closePayload}

	msg, ok := <-msgs
	require.True(t, ok)
	require.Equal(t, session.MessageLog, msg.Type)
	require.Equal(t, "inst-1", msg.InstanceID)
	require.JSONEq(t, `{"k":"v"}`, string(msg.Data.(json.RawMessage)))

	_, ok = <-msgs
	require.False(t, ok)
	_, ok = <-errs
	require.False(t, ok)
}

func TestSubscribeDecoderError(t *testing.T) {
	events := make(chan *streaming.Event, 1)
	cli, _ := subscriberMocks(t, events)

	sub, err := NewSubscriber(SubscriberOptions{
		Client: cli,
		Decoder: func([]byte) (session.Message, bool, error) {
			return session.Message{}, false, errors.New("decode error")
		},
	})
	require.NoError(t, err)
	msgs, errs, cancel, err := sub.Subscribe(context.Background(), "s")
	require.NoError(t, err)
	defer cancel()

	events <- &streaming.Event{Payload: []byte("{}")}
	require.EqualError(t, <-errs, "pulse decode payload: decode error")
	_, ok := <-msgs
	require.False(t, ok)
}

func TestNewSubscriberRequiresClient(t *testing.T) {
	_, err := NewSubscriber(SubscriberOptions{})
	require.EqualError(t, err, "pulse client is required")
}
