package storage

import (
	"context"
	"errors"
)

// QueueKey is the fixed key the command queue persists under.
const QueueKey = "posrelay.command_queue"

var ErrNotFound = errors.New("key not found")

// KV is the persistence primitive the queue writes through to. Values are
// opaque blobs; the queue stores its JSON-serialized operation list.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}
