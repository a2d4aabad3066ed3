package reqid

import (
	"context"

	"github.com/google/uuid"
)

// key is the context key for the phase ID.
type key struct{}

// NewContext returns a copy of parent carrying a fresh phase ID, and that ID.
// An ID already present in parent is replaced.
func NewContext(parent context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the phase ID from ctx.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
