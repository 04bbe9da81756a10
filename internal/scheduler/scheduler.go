package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"posrelay/internal/connectivity"
	"posrelay/internal/queue"
)

const DefaultInterval = 30 * time.Second

// Scheduler decides when the queue drains. Three triggers converge on
// RequestSync: a periodic tick (plain interval or cron spec), the monitor's
// came-online event, and explicit caller requests. It owns no queue state;
// the queue's single-flight guard makes overlapping triggers safe.
type Scheduler struct {
	q        *queue.Queue
	monitor  connectivity.Monitor
	interval time.Duration
	cronExpr string

	cron        *cron.Cron
	unsubscribe func()
	stop        chan struct{}
	stopOnce    sync.Once
}

type Option func(*Scheduler)

// WithInterval overrides the default 30s tick.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithCron replaces the plain interval tick with a cron schedule, for
// shops that want fixed sync windows.
func WithCron(expr string) Option {
	return func(s *Scheduler) { s.cronExpr = expr }
}

// ValidateCronExpression validates a cron expression.
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

func New(q *queue.Queue, monitor connectivity.Monitor, opts ...Option) *Scheduler {
	s := &Scheduler{
		q:        q,
		monitor:  monitor,
		interval: DefaultInterval,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = monitor.Subscribe(func(online bool) {
		if online {
			log.Info().Msg("back online, requesting sync")
			s.RequestSync(context.Background())
		}
	})
	return s
}

// RequestSync kicks a drain without blocking the caller.
func (s *Scheduler) RequestSync(ctx context.Context) {
	go s.q.Sync(context.WithoutCancel(ctx))
}

// Start runs the periodic trigger. The came-online trigger is wired from
// construction; Start blocks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cronExpr != "" && s.startCron(ctx) {
		log.Info().Str("cron", s.cronExpr).Msg("sync scheduler started")
		select {
		case <-ctx.Done():
		case <-s.stop:
		}
		<-s.cron.Stop().Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", s.interval).Msg("sync scheduler started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop halts future ticks and detaches the came-online trigger. Drains
// already in flight run to completion.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.unsubscribe()
	})
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.monitor.Online() || s.q.PendingCount() == 0 {
		return
	}
	s.RequestSync(ctx)
}

func (s *Scheduler) startCron(ctx context.Context) bool {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cronExpr, func() { s.tick(ctx) }); err != nil {
		log.Error().Err(err).Str("cron", s.cronExpr).Msg("invalid cron expression, falling back to interval")
		return false
	}
	s.cron.Start()
	return true
}
