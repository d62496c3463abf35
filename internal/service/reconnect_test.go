package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"tinybtc/internal/domain"
	"tinybtc/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock releases timers only when Fire is called.
type fakeClock struct {
	mu    sync.Mutex
	waits []chan time.Time
	armed chan time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{armed: make(chan time.Duration, 8)}
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	f.waits = append(f.waits, ch)
	f.mu.Unlock()
	f.armed <- d
	return ch
}

func (f *fakeClock) Fire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.waits {
		ch <- time.Now()
	}
	f.waits = nil
}

func (f *fakeClock) awaitArmed(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-f.armed:
		return d
	case <-time.After(waitFor):
		t.Fatal("timer was never armed")
		return 0
	}
}

type recordingClient struct {
	mu         sync.Mutex
	calls      []string
	retrying   bool
	retryFlips []bool
	connectErr error
}

func (r *recordingClient) ConnectAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "connect")
	return r.connectErr
}

func (r *recordingClient) DisconnectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "disconnect")
}

func (r *recordingClient) SetRetrying(retrying bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrying = retrying
	r.retryFlips = append(r.retryFlips, retrying)
}

func (r *recordingClient) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingClient) Retrying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retrying
}

func TestReconnector_Cycle(t *testing.T) {
	client := &recordingClient{}
	clock := newFakeClock()
	metrics := infra.NewMetrics()
	r := NewReconnector(client, 2*time.Second, clock, metrics)

	errc := make(chan error, 1)
	go func() { errc <- r.Retry(context.Background()) }()

	assert.Equal(t, 2*time.Second, clock.awaitArmed(t))
	assert.Equal(t, []string{"disconnect"}, client.Calls(), "must not reconnect before the grace period")
	assert.True(t, client.Retrying())
	assert.True(t, r.Running())

	clock.Fire()
	require.NoError(t, <-errc)

	assert.Equal(t, []string{"disconnect", "connect"}, client.Calls())
	assert.False(t, client.Retrying())
	assert.False(t, r.Running())
	assert.Equal(t, []bool{true, false}, client.retryFlips)
	assert.Equal(t, uint64(1), metrics.Snapshot().RetryCycles)
}

func TestReconnector_SingleFlight(t *testing.T) {
	client := &recordingClient{}
	clock := newFakeClock()
	r := NewReconnector(client, time.Second, clock, nil)

	require.NoError(t, r.Start(context.Background()))
	clock.awaitArmed(t)

	assert.ErrorIs(t, r.Retry(context.Background()), domain.ErrRetryInProgress)
	assert.ErrorIs(t, r.Start(context.Background()), domain.ErrRetryInProgress)

	clock.Fire()
	require.Eventually(t, func() bool { return !r.Running() }, waitFor, tick)
	assert.Equal(t, []string{"disconnect", "connect"}, client.Calls())

	// A finished cycle frees the slot.
	require.NoError(t, r.Start(context.Background()))
	clock.awaitArmed(t)
	clock.Fire()
	require.Eventually(t, func() bool { return len(client.Calls()) == 4 }, waitFor, tick)
}

func TestReconnector_CancelDuringGrace(t *testing.T) {
	client := &recordingClient{}
	clock := newFakeClock()
	r := NewReconnector(client, time.Second, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Retry(ctx) }()

	clock.awaitArmed(t)
	cancel()

	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, []string{"disconnect"}, client.Calls())
	assert.False(t, client.Retrying())
	assert.False(t, r.Running())
}

func TestReconnector_DefaultGrace(t *testing.T) {
	r := NewReconnector(&recordingClient{}, 0, nil, nil)
	assert.Equal(t, DefaultRetryGrace, r.grace)
}

func TestReconnector_WithMarketClient(t *testing.T) {
	c, d := newTestClient(t)
	clock := newFakeClock()
	r := NewReconnector(c, DefaultRetryGrace, clock, c.Metrics())

	require.NoError(t, c.ConnectAll(context.Background()))
	waitStreaming(t, c)
	first := d.open(`"channel":"ticker"`)

	errc := make(chan error, 1)
	go func() { errc <- r.Retry(context.Background()) }()

	clock.awaitArmed(t)
	snap := c.Snapshot()
	assert.True(t, snap.Retrying)
	assert.False(t, snap.TickerConnected)
	assert.True(t, first.isClosed())

	clock.Fire()
	require.NoError(t, <-errc)
	waitStreaming(t, c)

	snap = c.Snapshot()
	assert.False(t, snap.Retrying)
	assert.True(t, snap.TickerConnected)
	assert.True(t, snap.CandleConnected)
	assert.Equal(t, 4, d.dials())
}
