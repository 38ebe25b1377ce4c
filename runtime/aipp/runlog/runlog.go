// Package runlog holds the append-only execution log of app instances.
//
// Every question, model message, form request and error produced while an
// instance runs is appended as a Record. Records carry the ancestor Path of
// the producing instance so events emitted by nested child flows can be
// routed to the session of the top-level instance that the client is
// listening on.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type (
	// LogType classifies a record. Hidden variants are stored for replay and
	// auditing but never pushed to clients.
	LogType string

	// Record is one immutable log entry.
	//
	// Store implementations assign ID when persisting the record. IDs are
	// opaque and ordered within an instance.
	Record struct {
		// ID is the store-assigned identifier.
		ID string
		// InstanceID is the instance that produced the record.
		InstanceID string
		// Type classifies the record.
		Type LogType
		// Path is the ancestor chain of InstanceID, root first and ending with
		// InstanceID itself.
		Path Path
		// Payload is the JSON body rendered to clients.
		Payload json.RawMessage
		// Final marks the last record of a completed run.
		Final bool
		// CreatedAt is when the record was produced.
		CreatedAt time.Time
	}

	// Page is a forward page of records.
	Page struct {
		// Records are ordered oldest first.
		Records []*Record
		// NextCursor fetches the next page. Empty when there is none.
		NextCursor string
	}

	// Store persists log records.
	Store interface {
		// Append stores r and assigns its ID.
		Append(ctx context.Context, r *Record) error
		// List returns the next page of records of instanceID after cursor.
		// Limit must be greater than zero.
		List(ctx context.Context, instanceID, cursor string, limit int) (Page, error)
		// PathOf returns the serialized ancestor path recorded for
		// instanceID. It returns ErrNotFound when no record exists.
		PathOf(ctx context.Context, instanceID string) (string, error)
	}
)

const (
	TypeQuestion         LogType = "question"
	TypeQuestionWithFile LogType = "question_with_file"
	TypeFile             LogType = "file"
	TypeMessage          LogType = "msg"
	TypeMetaMessage      LogType = "meta_msg"
	TypeForm             LogType = "form"
	TypeError            LogType = "error"
	TypeHiddenMessage    LogType = "hidden_msg"
	TypeHiddenForm       LogType = "hidden_form"
	TypeHiddenQuestion   LogType = "hidden_question"
)

// ErrNotFound is returned when no record exists for an instance.
var ErrNotFound = errors.New("log record not found")

// Displayable reports whether records of this type are pushed to clients.
func (t LogType) Displayable() bool {
	switch t {
	case TypeHiddenMessage, TypeHiddenForm, TypeHiddenQuestion:
		return false
	case "":
		return false
	default:
		return true
	}
}

// Valid reports whether t is a known log type.
func (t LogType) Valid() bool {
	switch t {
	case TypeQuestion, TypeQuestionWithFile, TypeFile, TypeMessage, TypeMetaMessage,
		TypeForm, TypeError, TypeHiddenMessage, TypeHiddenForm, TypeHiddenQuestion:
		return true
	default:
		return false
	}
}

// Terminal reports whether r ends the run of its instance.
func (r *Record) Terminal() bool {
	return r.Final || r.Type == TypeError
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Path = append(Path(nil), r.Path...)
	out.Payload = append(json.RawMessage(nil), r.Payload...)
	return &out
}
