package pulse

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	clientspulse "github.com/wuayee/app-platform-sub002/features/stream/pulse/clients/pulse"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/telemetry"
)

type (
	// StreamsOptions configures Streams.
	StreamsOptions struct {
		// Client is shared by every channel and subscriber. Required.
		Client clientspulse.Client
		// Prefix is prepended to generated stream names. Defaults to
		// "aipp/session/".
		Prefix    string
		Telemetry telemetry.Bundle
	}

	// Streams opens Pulse-backed session channels and relays their messages
	// to the transport that holds the client connection.
	Streams struct {
		client clientspulse.Client
		prefix string
		logger telemetry.Logger
	}
)

// NewStreams returns a Streams helper.
func NewStreams(opts StreamsOptions) (*Streams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "aipp/session/"
	}
	return &Streams{client: opts.Client, prefix: prefix, logger: opts.Telemetry.WithDefaults().Logger}, nil
}

// Open creates a channel on a new uniquely named stream.
func (s *Streams) Open() (*Channel, error) {
	return NewChannel(ChannelOptions{Client: s.client, StreamID: s.prefix + uuid.NewString()})
}

// Relay forwards the messages of ch to dst until ch is closed or ctx is
// done, then destroys the stream. A failed send to dst stops the relay and
// is returned.
func (s *Streams) Relay(ctx context.Context, ch *Channel, dst session.Channel) error {
	sub, err := NewSubscriber(SubscriberOptions{Client: s.client})
	if err != nil {
		return err
	}
	msgs, errs, cancel, err := sub.Subscribe(ctx, ch.StreamID())
	if err != nil {
		return err
	}
	defer func() {
		cancel()
		if err := ch.stream.Destroy(context.Background()); err != nil {
			s.logger.Warn(ctx, "destroy session stream failed", "stream", ch.StreamID(), "err", err)
		}
	}()
	for msg := range msgs {
		if err := dst.Send(ctx, msg); err != nil {
			return fmt.Errorf("relay session message: %w", err)
		}
	}
	if err, ok := <-errs; ok && err != nil {
		return err
	}
	return ctx.Err()
}
