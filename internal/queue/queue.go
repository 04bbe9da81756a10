package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"posrelay/internal/connectivity"
	"posrelay/internal/domain"
	"posrelay/internal/invoke"
	"posrelay/internal/metrics"
	"posrelay/internal/remote"
	"posrelay/internal/storage"
)

var (
	ErrNotFound = errors.New("operation not found")
	ErrOffline  = errors.New("backend is offline")
)

const (
	DefaultMaxRetries  = 3
	DefaultCallTimeout = 30 * time.Second
)

// Listener receives the queue snapshot after every persisted mutation.
type Listener func(ops []domain.QueuedOperation)

// Config tunes a Queue instance.
type Config struct {
	// MaxRetries is the retry ceiling stamped on new operations.
	MaxRetries int
	// CallTimeout bounds each drain attempt's remote call.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// Queue is a durable FIFO of deferred remote commands. All state lives
// behind one mutex; the persisted representation is written through on
// every mutation and is authoritative only on load.
type Queue struct {
	kv      storage.KV
	invoker *invoke.Invoker
	checker connectivity.Checker
	cfg     Config

	mu        sync.Mutex
	ops       []domain.QueuedOperation
	syncing   bool
	nextSubID int
	listeners map[int]Listener
}

// New builds a queue and loads any persisted operations. A storage that
// cannot be read (missing, corrupt) yields an empty queue rather than an
// error: queue corruption must never block startup.
func New(kv storage.KV, caller remote.Caller, checker connectivity.Checker, cfg Config) *Queue {
	q := &Queue{
		kv:        kv,
		invoker:   invoke.New(caller),
		checker:   checker,
		cfg:       cfg.withDefaults(),
		listeners: make(map[int]Listener),
	}
	q.load()
	return q
}

func (q *Queue) load() {
	blob, err := q.kv.Get(context.Background(), storage.QueueKey)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("queue load failed, starting empty")
		return
	}
	var ops []domain.QueuedOperation
	if err := json.Unmarshal(blob, &ops); err != nil {
		log.Warn().Err(err).Msg("queue state corrupt, starting empty")
		return
	}
	// An attempt interrupted by a crash is still owed a delivery.
	for i := range ops {
		if ops[i].Status == domain.StatusSyncing {
			ops[i].Status = domain.StatusPending
		}
	}
	q.ops = ops
	q.updateDepth()
	log.Info().Int("count", len(ops)).Msg("queue loaded")
}

// Enqueue appends a pending operation, persists it and returns its id. If
// the backend is reachable a drain is kicked off in the background; the
// caller is never blocked on it.
func (q *Queue) Enqueue(ctx context.Context, command string, args map[string]any) (string, error) {
	if command == "" {
		return "", errors.New("command is required")
	}

	op := domain.QueuedOperation{
		ID:         newID(),
		Command:    command,
		Args:       args,
		Timestamp:  time.Now().UTC(),
		MaxRetries: q.cfg.MaxRetries,
		Status:     domain.StatusPending,
	}

	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.persistLocked(ctx)
	q.mu.Unlock()
	q.notify()

	metrics.OperationsEnqueued.Inc()
	log.Info().Str("op_id", op.ID).Str("command", command).Msg("operation queued")

	if q.checker.Online() {
		go q.Sync(context.WithoutCancel(ctx))
	}
	return op.ID, nil
}

func newID() string {
	return fmt.Sprintf("op_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Dequeue removes an operation unconditionally, regardless of status.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return ErrNotFound
	}
	q.ops = append(q.ops[:idx], q.ops[idx+1:]...)
	q.persistLocked(ctx)
	q.mu.Unlock()
	q.notify()
	return nil
}

// Snapshot returns a copy of the queue in insertion order.
func (q *Queue) Snapshot() []domain.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// PendingCount reports operations awaiting delivery. Failed operations are
// excluded; they require a manual retry.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := range q.ops {
		if q.ops[i].Status == domain.StatusPending {
			n++
		}
	}
	return n
}

// Sync drains every operation that is pending right now, in insertion
// order. Overlapping calls are safe: a single-flight guard makes all but
// the first a no-op, as is calling while offline. Sync never returns an
// error; per-operation failures are captured into operation state.
func (q *Queue) Sync(ctx context.Context) {
	q.mu.Lock()
	if q.syncing || !q.checker.Online() {
		q.mu.Unlock()
		return
	}
	q.syncing = true
	// Operations enqueued during this pass wait for the next one.
	ids := make([]string, 0, len(q.ops))
	for i := range q.ops {
		if q.ops[i].Status == domain.StatusPending {
			ids = append(ids, q.ops[i].ID)
		}
	}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.syncing = false
		q.mu.Unlock()
	}()

	if len(ids) == 0 {
		return
	}
	metrics.SyncPasses.Inc()
	log.Info().Int("pending", len(ids)).Msg("sync pass started")

	for _, id := range ids {
		q.attempt(ctx, id)
	}
}

// RetryOperation re-attempts a single operation of any status, following
// the same transition rules as a drain attempt. Unlike Sync it reports
// missing operations and offline state to its caller.
func (q *Queue) RetryOperation(ctx context.Context, id string) error {
	if !q.checker.Online() {
		return ErrOffline
	}
	q.mu.Lock()
	idx := q.indexLocked(id)
	q.mu.Unlock()
	if idx < 0 {
		return ErrNotFound
	}
	return q.attempt(ctx, id)
}

// Clear removes every operation regardless of status.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.ops = nil
	q.persistLocked(ctx)
	q.mu.Unlock()
	q.notify()
}

// ClearFailed removes only terminally failed operations.
func (q *Queue) ClearFailed(ctx context.Context) {
	q.mu.Lock()
	kept := q.ops[:0]
	for _, op := range q.ops {
		if op.Status != domain.StatusFailed {
			kept = append(kept, op)
		}
	}
	q.ops = kept
	q.persistLocked(ctx)
	q.mu.Unlock()
	q.notify()
}

// Subscribe registers a listener invoked with the queue snapshot after
// every persisted mutation. The returned function unsubscribes it.
func (q *Queue) Subscribe(fn Listener) (cancel func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextSubID
	q.nextSubID++
	q.listeners[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.listeners, id)
	}
}

// attempt executes one delivery of the operation and applies the
// success/retry/failed transition.
func (q *Queue) attempt(ctx context.Context, id string) error {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return ErrNotFound
	}
	command := q.ops[idx].Command
	args := q.ops[idx].Args
	q.ops[idx].Status = domain.StatusSyncing
	q.persistLocked(ctx)
	q.mu.Unlock()
	q.notify()

	// Single bounded attempt per pass; the operation's own retry counter
	// spans passes.
	_, err := q.invoker.InvokeWithPolicy(ctx, command, args, invoke.Options{
		Timeout:    q.cfg.CallTimeout,
		MaxRetries: 1,
	})

	q.mu.Lock()
	idx = q.indexLocked(id)
	if idx < 0 {
		// Removed out from under us (Clear or Dequeue) while the call was
		// in flight; nothing left to transition.
		q.mu.Unlock()
		return nil
	}

	if err == nil {
		q.ops = append(q.ops[:idx], q.ops[idx+1:]...)
		q.persistLocked(ctx)
		q.mu.Unlock()
		q.notify()
		metrics.OperationsSynced.Inc()
		log.Info().Str("op_id", id).Str("command", command).Msg("operation synced")
		return nil
	}

	cerr := remote.Classify(err)
	op := &q.ops[idx]
	op.Error = cerr.Error()
	if op.Retries < op.MaxRetries {
		op.Retries++
	}
	if op.Retries >= op.MaxRetries {
		op.Status = domain.StatusFailed
	} else {
		op.Status = domain.StatusPending
	}
	failed := op.Status == domain.StatusFailed
	retries := op.Retries
	q.persistLocked(ctx)
	q.mu.Unlock()
	q.notify()

	if failed {
		metrics.OperationsFailed.Inc()
		log.Error().Str("op_id", id).Str("command", command).Int("retries", retries).
			Str("error", cerr.Error()).Msg("operation failed terminally")
	} else {
		log.Warn().Str("op_id", id).Str("command", command).Int("retries", retries).
			Str("error", cerr.Error()).Msg("operation will be retried")
	}
	return nil
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.ops {
		if q.ops[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) snapshotLocked() []domain.QueuedOperation {
	out := make([]domain.QueuedOperation, len(q.ops))
	copy(out, q.ops)
	return out
}

// persistLocked writes the queue through to storage. Writes are
// best-effort: a failure is logged and counted but does not roll back the
// in-memory state, which stays the source of truth until the next load.
func (q *Queue) persistLocked(ctx context.Context) {
	blob, err := json.Marshal(q.ops)
	if err != nil {
		metrics.PersistErrors.Inc()
		log.Error().Err(err).Msg("queue encode failed")
		return
	}
	if err := q.kv.Set(ctx, storage.QueueKey, blob); err != nil {
		metrics.PersistErrors.Inc()
		log.Error().Err(err).Msg("queue persist failed")
	}
	q.updateDepth()
}

func (q *Queue) updateDepth() {
	counts := map[string]int{
		domain.StatusPending: 0,
		domain.StatusSyncing: 0,
		domain.StatusFailed:  0,
	}
	for i := range q.ops {
		counts[q.ops[i].Status]++
	}
	for status, n := range counts {
		metrics.QueueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func (q *Queue) notify() {
	q.mu.Lock()
	if len(q.listeners) == 0 {
		q.mu.Unlock()
		return
	}
	snap := q.snapshotLocked()
	fns := make([]Listener, 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
