// Package session tracks the live output channel of each running app
// instance. The Registry maps instance IDs to channels (at most one channel
// per instance, many instances per channel) and pairs every registration
// with a one-shot completion Latch that lets a synchronous caller block until
// the asynchronous flow reports a terminal event.
//
// The Registry is constructed once by the service and injected into the
// dispatcher and the instance orchestrator. It holds no persistent state:
// registrations disappear when the instance finishes, when the caller stops
// waiting, or when the underlying connection closes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type (
	// Channel delivers messages to one connected client. Implementations wrap
	// a transport such as a WebSocket connection, a Server-Sent Events
	// response or a Pulse stream.
	//
	// Channels are used as map keys by the Registry and must therefore be
	// comparable; pointer receivers satisfy this.
	//
	// Send may be called concurrently for different instances sharing the
	// channel. Close releases the transport and is idempotent.
	Channel interface {
		Send(ctx context.Context, msg Message) error
		Close(ctx context.Context) error
	}

	// Message is the envelope pushed to a client channel.
	Message struct {
		// Type identifies the payload kind (see the MessageType constants).
		Type MessageType `json:"type"`
		// InstanceID is the instance whose session received the message. For
		// events produced by a child instance this is the top-level ancestor.
		InstanceID string `json:"instance_id"`
		// Data is the rendered payload.
		Data any `json:"data,omitempty"`
		// Timestamp is when the message was produced.
		Timestamp time.Time `json:"timestamp"`
	}

	// MessageType enumerates the messages pushed to clients.
	MessageType string
)

const (
	// MessageLog carries one rendered log entry with instance status.
	MessageLog MessageType = "log"
	// MessageMemorySelect asks the user to pick conversation turns to use as
	// memory before the flow starts.
	MessageMemorySelect MessageType = "memory_select"
	// MessageError reports a failure that ended the instance.
	MessageError MessageType = "error"
	// MessageResult carries the outcome of a client command, such as the
	// final instance state of a synchronous run.
	MessageResult MessageType = "result"
)

// ErrWaitTimeout is returned by Latch.Wait when the timeout elapses before
// the latch is released.
var ErrWaitTimeout = errors.New("session: wait timed out")

// ErrNotRegistered is returned by Registry.Wait for instances without a
// live registration.
var ErrNotRegistered = errors.New("session: instance not registered")

// MarshalJSON renders the message with a millisecond timestamp so browser
// clients can consume it directly.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	return json.Marshal(struct {
		alias
		Timestamp int64 `json:"timestamp"`
	}{alias: alias(m), Timestamp: m.Timestamp.UnixMilli()})
}
