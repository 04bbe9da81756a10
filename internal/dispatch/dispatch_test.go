package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posrelay/internal/connectivity"
	"posrelay/internal/domain"
	"posrelay/internal/invoke"
	"posrelay/internal/queue"
	"posrelay/internal/remote"
	"posrelay/internal/storage"
)

type stubCaller struct {
	mu  sync.Mutex
	err error
}

func (c *stubCaller) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return json.RawMessage(`{"receipt":"R-100"}`), nil
}

func newDispatcher(t *testing.T, caller remote.Caller, online bool) (*Dispatcher, *queue.Queue, *connectivity.Manual) {
	t.Helper()
	mon := connectivity.NewManual(online)
	q := queue.New(storage.NewMemory(), caller, mon, queue.Config{})
	inv := invoke.New(caller)
	d := New(inv, q, mon, invoke.Options{MaxRetries: 2, BaseDelay: time.Millisecond, Timeout: time.Second})
	return d, q, mon
}

func TestDo_ExecutedWhenOnline(t *testing.T) {
	d, q, _ := newDispatcher(t, &stubCaller{}, true)

	out := d.Do(context.Background(), "create_sale", map[string]any{"total": 9.99})
	assert.Equal(t, StatusExecuted, out.Status)
	assert.JSONEq(t, `{"receipt":"R-100"}`, string(out.Result))
	assert.Empty(t, q.Snapshot(), "nothing queued on direct success")
}

func TestDo_QueuedWhenOffline(t *testing.T) {
	d, q, _ := newDispatcher(t, &stubCaller{}, false)

	out := d.Do(context.Background(), "create_sale", nil)
	assert.Equal(t, StatusQueued, out.Status)
	assert.NotEmpty(t, out.OpID)
	assert.Nil(t, out.Err)
	require.Len(t, q.Snapshot(), 1)
	assert.Equal(t, out.OpID, q.Snapshot()[0].ID)
}

func TestDo_QueuedAfterTransientExhaustion(t *testing.T) {
	caller := &stubCaller{err: &remote.Error{Code: "DB_CONN", Message: "pool exhausted", Retryable: true}}
	d, q, mon := newDispatcher(t, caller, true)

	out := d.Do(context.Background(), "adjust_stock", nil)
	assert.Equal(t, StatusQueued, out.Status)
	assert.NotEmpty(t, out.OpID)

	// The enqueue-triggered background drain keeps failing; the operation
	// stays owned by the queue.
	mon.Set(false)
	require.Eventually(t, func() bool {
		ops := q.Snapshot()
		return len(ops) == 1 && ops[0].Status != domain.StatusSyncing
	}, time.Second, 5*time.Millisecond)
}

func TestDo_FailedOnPermanentError(t *testing.T) {
	caller := &stubCaller{err: &remote.Error{Code: "VALIDATION", Message: "negative total"}}
	d, q, _ := newDispatcher(t, caller, true)

	out := d.Do(context.Background(), "create_sale", map[string]any{"total": -1})
	assert.Equal(t, StatusFailed, out.Status)
	require.NotNil(t, out.Err)
	assert.Equal(t, "VALIDATION", out.Err.Code)
	assert.Empty(t, q.Snapshot(), "permanent failures are not parked")
}
