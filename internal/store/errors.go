package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a conversation does not exist, is deleted, or
// belongs to a different tenant.
var ErrNotFound = errors.New("conversation not found")

// WriteError indicates a create call failed. No partial state is left behind.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// SnapshotError indicates the one-shot message fetch failed.
type SnapshotError struct {
	ConversationID string
	Err            error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot fetch for %s: %v", e.ConversationID, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// FeedError indicates the live subscription broke. Realtime delivery is
// degraded but already-delivered message sets remain valid.
type FeedError struct {
	ConversationID string
	Err            error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("live feed for %s: %v", e.ConversationID, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }
