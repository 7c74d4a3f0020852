// Package runid issues identifiers that tie log lines, events and archive rows
// to one invocation.
package runid

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New returns a time-ordered UUIDv7 string.
func New() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// MustNew is New for callers that cannot recover from entropy failure.
func MustNew() string {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}

// WithContext stores id on ctx.
func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the id stored on ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
