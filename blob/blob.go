// Package blob is the object store ingestion reads source documents from.
//
// A Store serves object bytes by key. A Watcher emits a Notification each
// time an object is created or rewritten.
package blob

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for keys that are empty or escape the store.
	ErrInvalidKey = errors.New("invalid object key")

	// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
	ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")
)

// Notification announces a new or updated object.
type Notification struct {
	Key  string
	Size int64
	At   time.Time
}

// Store serves object bytes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Watcher emits notifications until ctx is done, then closes the channel.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Notification, error)
}
