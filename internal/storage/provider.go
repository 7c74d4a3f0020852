// Package storage defines the blob backend the cache store persists through.
// This abstraction keeps the cache independent of where ledgers live
// (the local filesystem, Google Cloud Storage, or memory).
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the named object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Backend reads and writes whole named objects.
type Backend interface {
	// Get returns the object contents or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put replaces the object contents.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
	// Exists reports whether the object is present.
	Exists(ctx context.Context, name string) (bool, error)
}
