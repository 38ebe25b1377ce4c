// Package pulse carries session messages over goa.design/pulse streams. A
// Channel publishes the messages the dispatcher routes to a session into a
// Redis stream, and a Subscriber reads them back on the node that holds the
// client connection. Streams ties both together for the service.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	clientspulse "github.com/wuayee/app-platform-sub002/features/stream/pulse/clients/pulse"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
)

type (
	// ChannelOptions configures a Channel.
	ChannelOptions struct {
		// Client opens the stream. Required.
		Client clientspulse.Client
		// StreamID names the Pulse stream. Required.
		StreamID string
		// Marshal overrides the message encoding. Defaults to json.Marshal.
		Marshal func(session.Message) ([]byte, error)
	}

	// Channel is a session.Channel backed by one Pulse stream. It is safe
	// for concurrent use.
	Channel struct {
		stream   clientspulse.Stream
		streamID string
		marshal  func(session.Message) ([]byte, error)

		mu     sync.Mutex
		closed bool
	}
)

// closeEvent is the stream event appended by Close so readers can stop.
const closeEvent = "aipp.session.closed"

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("session stream closed")

// NewChannel opens the stream named by opts.StreamID.
func NewChannel(opts ChannelOptions) (*Channel, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.StreamID == "" {
		return nil, errors.New("stream id is required")
	}
	str, err := opts.Client.Stream(opts.StreamID)
	if err != nil {
		return nil, err
	}
	marshal := opts.Marshal
	if marshal == nil {
		marshal = func(m session.Message) ([]byte, error) { return json.Marshal(m) }
	}
	return &Channel{stream: str, streamID: opts.StreamID, marshal: marshal}, nil
}

// StreamID returns the name of the underlying stream.
func (c *Channel) StreamID() string {
	return c.streamID
}

// Send appends msg to the stream, using the message type as event name.
func (c *Channel) Send(ctx context.Context, msg session.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	payload, err := c.marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.stream.Add(ctx, string(msg.Type), payload)
	return err
}

// Close appends the close marker so relays stop reading. Only the first
// call publishes it.
func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	_, err := c.stream.Add(ctx, closeEvent, closePayload)
	return err
}

var closePayload = []byte(`{"type":"` + closeEvent + `"}`)
