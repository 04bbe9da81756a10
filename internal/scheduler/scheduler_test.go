package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posrelay/internal/connectivity"
	"posrelay/internal/queue"
	"posrelay/internal/remote"
	"posrelay/internal/storage"
)

type countingCaller struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCaller) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return json.RawMessage(`{}`), nil
}

func (c *countingCaller) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestScheduler_IntervalDrainsWhenOnline(t *testing.T) {
	caller := &countingCaller{}
	mon := connectivity.NewManual(false)
	q := queue.New(storage.NewMemory(), caller, mon, queue.Config{})

	_, err := q.Enqueue(context.Background(), "create_sale", nil)
	require.NoError(t, err)

	s := New(q, mon, WithInterval(15*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	defer s.Stop()

	// Offline: ticks fire but nothing drains.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, caller.count())
	assert.Equal(t, 1, q.PendingCount())

	// The came-online event alone triggers a drain.
	mon.Set(true)
	require.Eventually(t, func() bool { return q.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, caller.count())
}

func TestScheduler_IntervalSkipsEmptyQueue(t *testing.T) {
	caller := &countingCaller{}
	mon := connectivity.NewManual(true)
	q := queue.New(storage.NewMemory(), caller, mon, queue.Config{})

	s := New(q, mon, WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	defer s.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, caller.count(), "no drain without pending operations")
}

func TestScheduler_IntervalPicksUpPending(t *testing.T) {
	caller := &countingCaller{}
	mon := connectivity.NewManual(false)
	q := queue.New(storage.NewMemory(), caller, mon, queue.Config{})

	// Queued while offline, then the monitor flips online without anyone
	// calling RequestSync: the periodic tick must pick it up.
	_, err := q.Enqueue(context.Background(), "adjust_stock", nil)
	require.NoError(t, err)

	s := New(q, mon)
	// Exercise only the tick path.
	mon.Set(true)
	s.tick(context.Background())
	require.Eventually(t, func() bool { return q.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_RequestSyncNonBlocking(t *testing.T) {
	blocked := make(chan struct{})
	caller := remote.CallerFunc(func(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
		<-blocked
		return json.RawMessage(`{}`), nil
	})
	mon := connectivity.NewManual(true)
	q := queue.New(storage.NewMemory(), caller, mon, queue.Config{})
	s := New(q, mon)

	_, err := q.Enqueue(context.Background(), "create_sale", nil)
	require.NoError(t, err)

	start := time.Now()
	s.RequestSync(context.Background())
	assert.Less(t, time.Since(start), 50*time.Millisecond, "RequestSync must not wait for the drain")
	close(blocked)
}

func TestValidateCronExpression(t *testing.T) {
	assert.NoError(t, ValidateCronExpression("*/5 * * * *"))
	assert.Error(t, ValidateCronExpression("every five minutes"))
}

func TestScheduler_StopHaltsTicks(t *testing.T) {
	caller := &countingCaller{}
	mon := connectivity.NewManual(true)
	q := queue.New(storage.NewMemory(), caller, mon, queue.Config{})

	s := New(q, mon, WithInterval(10*time.Millisecond))
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
