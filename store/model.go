package store

import (
	"errors"
	"fmt"
)

// OpType names the mutation an Operation replays against the remote authority.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Valid reports whether t is one of the known operation types.
func (t OpType) Valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when a note or operation does not exist locally.
	ErrNotFound = errors.New("not found")
	// ErrInvalidOperation is returned when an operation cannot be enqueued as given.
	ErrInvalidOperation = errors.New("invalid operation")
)

// Note is one user document as held on the device.
//
// ServerID is nil until the remote authority has confirmed the note's creation.
// Synced is derived on read: true iff no queued operation references ClientID.
type Note struct {
	ClientID string `json:"client_id"`
	ServerID *int64 `json:"server_id,omitempty"`
	Content  string `json:"content"`
	Created  int64  `json:"created"`
	Updated  int64  `json:"updated"`
	Synced   bool   `json:"synced"`
}

// HasServerID reports whether the remote authority knows this note.
func (n Note) HasServerID() bool {
	return n.ServerID != nil
}

// Operation is a queued mutation awaiting confirmation from the remote authority.
// ID defines processing order.
type Operation struct {
	ID        int64  `json:"id"`
	Type      OpType `json:"type"`
	ClientID  string `json:"client_id"`
	ServerID  *int64 `json:"server_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Created   int64  `json:"created,omitempty"`
	Updated   int64  `json:"updated,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (op Operation) validate() error {
	if !op.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Type)
	}
	if op.ClientID == "" {
		return fmt.Errorf("%w: missing client id", ErrInvalidOperation)
	}
	return nil
}

// UnsyncedDeletePolicy decides what deleting a note that never reached the
// remote authority does to the queue.
type UnsyncedDeletePolicy string

const (
	// DeleteCancelPending drops every queued operation for the note, so nothing
	// is ever sent for it.
	DeleteCancelPending UnsyncedDeletePolicy = "cancel"
	// DeleteKeepPending leaves queued operations alone and enqueues nothing.
	// The pending create still reaches the remote and the note reappears there.
	DeleteKeepPending UnsyncedDeletePolicy = "keep"
	// DeleteEnqueueAlways enqueues a delete with no server id; the sync engine
	// resolves it once the preceding create has been confirmed.
	DeleteEnqueueAlways UnsyncedDeletePolicy = "enqueue"
)

// ParseUnsyncedDeletePolicy validates a policy name. Empty selects the default.
func ParseUnsyncedDeletePolicy(s string) (UnsyncedDeletePolicy, error) {
	switch p := UnsyncedDeletePolicy(s); p {
	case "":
		return DeleteCancelPending, nil
	case DeleteCancelPending, DeleteKeepPending, DeleteEnqueueAlways:
		return p, nil
	}
	return "", fmt.Errorf("unknown unsynced delete policy %q (want cancel, keep or enqueue)", s)
}

func int64Ptr(v int64) *int64 {
	return &v
}
