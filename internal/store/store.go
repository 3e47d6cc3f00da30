// Package store provides the durable key/value storage shared by every agent
// process of one user. It replaces the browser storage partition: all
// processes observe each other's writes and converge on the most recent
// activity timestamp.
package store

import (
	"context"
	"errors"
)

// Logical keys of the persisted session record.
const (
	KeySessionID    = "session_id"
	KeyStartedAt    = "session_started_at"
	KeyLastActivity = "last_activity_at"
	KeyProfile      = "session_profile"
)

// SessionKeys lists every key cleared when a session is destroyed.
var SessionKeys = []string{KeySessionID, KeyStartedAt, KeyLastActivity, KeyProfile}

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// DurableStore is shared mutable storage. Reads and writes of a single key
// are atomic; read-modify-write sequences across processes are not, which is
// acceptable because the reconciled values are monotonic timestamps merged by
// taking the maximum.
type DurableStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}
