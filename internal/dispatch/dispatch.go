package dispatch

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"posrelay/internal/connectivity"
	"posrelay/internal/invoke"
	"posrelay/internal/queue"
	"posrelay/internal/remote"
)

// OutcomeStatus tags what happened to a dispatched command.
type OutcomeStatus string

const (
	StatusExecuted OutcomeStatus = "executed"
	StatusQueued   OutcomeStatus = "queued"
	StatusFailed   OutcomeStatus = "failed"
)

// Outcome is the explicit result of Do. Callers branch on Status instead
// of parsing error messages to detect the queued case.
type Outcome struct {
	Status OutcomeStatus   `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	OpID   string          `json:"op_id,omitempty"`
	Err    *remote.Error   `json:"error,omitempty"`
}

// Dispatcher is the execute-or-queue front door: commands run immediately
// when the backend is reachable and fall back to the durable queue when it
// is not, or when a transient failure exhausts the retry policy.
type Dispatcher struct {
	invoker *invoke.Invoker
	q       *queue.Queue
	checker connectivity.Checker
	opts    invoke.Options
}

func New(invoker *invoke.Invoker, q *queue.Queue, checker connectivity.Checker, opts invoke.Options) *Dispatcher {
	return &Dispatcher{invoker: invoker, q: q, checker: checker, opts: opts}
}

// Do executes command now or defers it. Permanent errors are surfaced as
// Failed; they would fail identically on every replay, so queueing them
// would only park garbage.
func (d *Dispatcher) Do(ctx context.Context, command string, args map[string]any) Outcome {
	if !d.checker.Online() {
		return d.enqueue(ctx, command, args)
	}

	result, err := d.invoker.InvokeWithPolicy(ctx, command, args, d.opts)
	if err == nil {
		return Outcome{Status: StatusExecuted, Result: result}
	}

	cerr := remote.Classify(err)
	if cerr.Retryable {
		log.Warn().Str("command", command).Str("code", cerr.Code).
			Msg("transient failure, deferring command")
		return d.enqueue(ctx, command, args)
	}
	return Outcome{Status: StatusFailed, Err: cerr}
}

func (d *Dispatcher) enqueue(ctx context.Context, command string, args map[string]any) Outcome {
	id, err := d.q.Enqueue(ctx, command, args)
	if err != nil {
		return Outcome{Status: StatusFailed, Err: remote.Classify(err)}
	}
	return Outcome{Status: StatusQueued, OpID: id}
}
