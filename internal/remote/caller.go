package remote

import (
	"context"
	"encoding/json"
)

// Caller is the backend command-execution primitive. Implementations may
// fail with any error shape; Classify normalizes them.
type Caller interface {
	Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, command string, args map[string]any) (json.RawMessage, error)

func (f CallerFunc) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	return f(ctx, command, args)
}
