package invoke

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"posrelay/internal/metrics"
	"posrelay/internal/remote"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// Options control a single invocation policy.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	// OnRetry is called with the 1-based attempt number and the classified
	// error before each backoff sleep.
	OnRetry func(attempt int, err *remote.Error)
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	return o
}

// Invoker wraps a backend Caller with timeout and bounded retry.
type Invoker struct {
	caller remote.Caller
}

func New(caller remote.Caller) *Invoker {
	return &Invoker{caller: caller}
}

// InvokeWithPolicy executes one command with at most opts.MaxRetries
// attempts, each bounded by opts.Timeout. Non-retryable errors and
// exhausted attempts surface the last classified error.
func (in *Invoker) InvokeWithPolicy(ctx context.Context, command string, args map[string]any, opts Options) (json.RawMessage, error) {
	opts = opts.withDefaults()

	var lastErr *remote.Error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		result, err := in.callOnce(ctx, command, args, opts.Timeout)
		if err == nil {
			return result, nil
		}

		lastErr = remote.Classify(err)
		if !lastErr.Retryable || attempt == opts.MaxRetries {
			return nil, lastErr
		}
		if ctx.Err() != nil {
			return nil, remote.Classify(ctx.Err())
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, lastErr)
		}
		metrics.RemoteRetries.WithLabelValues(command).Inc()
		log.Debug().
			Str("command", command).
			Int("attempt", attempt).
			Str("code", lastErr.Code).
			Msg("retrying remote call")

		delay := opts.BaseDelay << uint(attempt-1)
		select {
		case <-ctx.Done():
			return nil, remote.Classify(ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

type callResult struct {
	result json.RawMessage
	err    error
}

// callOnce races the call against a timer. A call that never settles is
// abandoned, not cancelled; it may still complete on the backend, so
// callers must treat commands as idempotent.
func (in *Invoker) callOnce(ctx context.Context, command string, args map[string]any, timeout time.Duration) (json.RawMessage, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		r, err := in.caller.Call(cctx, command, args)
		done <- callResult{result: r, err: err}
	}()

	select {
	case res := <-done:
		return res.result, res.err
	case <-cctx.Done():
		return nil, &remote.Error{
			Kind:      remote.KindStructured,
			Code:      "OP_TIMEOUT",
			Message:   "operation timed out after " + timeout.String(),
			Retryable: true,
		}
	}
}

// Request is one entry of a batch invocation.
type Request struct {
	Command string
	Args    map[string]any
}

// BatchResult carries the per-item outcome of InvokeBatch.
type BatchResult struct {
	Result json.RawMessage
	Err    *remote.Error
}

// InvokeBatch runs every request concurrently under the same policy.
// Individual failures become classified errors; the batch itself always
// resolves.
func (in *Invoker) InvokeBatch(ctx context.Context, reqs []Request, opts Options) []BatchResult {
	results := make([]BatchResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			result, err := in.InvokeWithPolicy(ctx, req.Command, req.Args, opts)
			if err != nil {
				results[i] = BatchResult{Err: remote.Classify(err)}
				return
			}
			results[i] = BatchResult{Result: result}
		}(i, req)
	}
	wg.Wait()
	return results
}
