package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Checker answers the "is the backend reachable right now" question.
type Checker interface {
	Online() bool
}

// Monitor adds change notification on top of Checker. Subscribers are
// called with the new state every time it flips.
type Monitor interface {
	Checker
	Subscribe(fn func(online bool)) (cancel func())
}

// Manual is a Monitor driven entirely by explicit Set calls, for tests and
// for hosts that surface their own connectivity events.
type Manual struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func(bool)
}

func NewManual(online bool) *Manual {
	return &Manual{online: online, listeners: make(map[int]func(bool))}
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set flips the state and notifies subscribers on change.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

func (m *Manual) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Probe polls a health URL and feeds the result into an embedded Manual
// monitor, so probe-driven and caller-driven state share one subscription
// mechanism.
type Probe struct {
	*Manual
	url      string
	interval time.Duration
	client   *http.Client
	stop     chan struct{}
	stopOnce sync.Once
}

func NewProbe(url string, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Probe{
		Manual:   NewManual(false),
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		stop:     make(chan struct{}),
	}
}

func (p *Probe) Start(ctx context.Context) {
	p.Set(p.check(ctx))
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-t.C:
			was := p.Online()
			now := p.check(ctx)
			if was != now {
				log.Info().Bool("online", now).Msg("connectivity changed")
			}
			p.Set(now)
		}
	}
}

func (p *Probe) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Probe) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
