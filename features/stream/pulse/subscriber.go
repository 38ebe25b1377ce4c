package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/wuayee/app-platform-sub002/features/stream/pulse/clients/pulse"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
)

type (
	// Decoder converts a stream payload into a session message. It reports
	// closed for the marker written by Channel.Close.
	Decoder func([]byte) (msg session.Message, closed bool, err error)

	// SubscriberOptions configures a Subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the consumer group. Defaults to
		// "aipp_session_relay".
		SinkName string
		// Buffer is the message channel capacity. Defaults to 64.
		Buffer int
		// Decoder defaults to the JSON encoding written by Channel.
		Decoder Decoder
	}

	// Subscriber reads session messages from Pulse streams.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode Decoder
	}

	wireMessage struct {
		Type       session.MessageType `json:"type"`
		InstanceID string              `json:"instance_id"`
		Data       json.RawMessage     `json:"data,omitempty"`
		Timestamp  int64               `json:"timestamp"`
	}
)

// NewSubscriber returns a Subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "aipp_session_relay"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decode := opts.Decoder
	if decode == nil {
		decode = decodeMessage
	}
	return &Subscriber{client: opts.Client, buffer: buffer, name: name, decode: decode}, nil
}

// Subscribe opens a consumer group on streamID. Messages are emitted on the
// first channel until the close marker is read, the stream ends or cancel
// is called; both channels are then closed. Decode and ack failures are
// reported on the error channel and stop consumption.
func (s *Subscriber) Subscribe(ctx context.Context, streamID string, opts ...streamopts.Sink) (<-chan session.Message, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	msgs := make(chan session.Message, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, msgs, errs)
	return msgs, errs, func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- session.Message, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			msg, closed, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			if !closed {
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
			if err := sink.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("pulse ack: %w", err)
				return
			}
			if closed {
				return
			}
		}
	}
}

func decodeMessage(payload []byte) (session.Message, bool, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return session.Message{}, false, err
	}
	if w.Type == closeEvent {
		return session.Message{}, true, nil
	}
	msg := session.Message{
		Type:       w.Type,
		InstanceID: w.InstanceID,
		Timestamp:  time.UnixMilli(w.Timestamp).UTC(),
	}
	if len(w.Data) > 0 {
		msg.Data = w.Data
	}
	return msg, false, nil
}
