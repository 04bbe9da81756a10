package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_SetAndSubscribe(t *testing.T) {
	m := NewManual(false)
	assert.False(t, m.Online())

	var events []bool
	cancel := m.Subscribe(func(online bool) { events = append(events, online) })

	m.Set(true)
	m.Set(true) // no change, no event
	m.Set(false)
	assert.True(t, len(events) == 2)
	assert.Equal(t, []bool{true, false}, events)

	cancel()
	m.Set(true)
	assert.Len(t, events, 2, "no events after unsubscribe")
}

func TestProbe_TracksBackendHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, 10*time.Millisecond)
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	require.Eventually(t, func() bool { return p.Online() }, time.Second, 5*time.Millisecond)

	healthy.Store(false)
	require.Eventually(t, func() bool { return !p.Online() }, time.Second, 5*time.Millisecond)
}

func TestProbe_UnreachableBackendIsOffline(t *testing.T) {
	p := NewProbe("http://127.0.0.1:1/health", 10*time.Millisecond)
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, p.Online())
}
