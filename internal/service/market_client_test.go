package service

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"tinybtc/internal/domain"
	"tinybtc/internal/infra"
	"tinybtc/internal/infra/bitfinex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// pipeConn is an in-memory bitfinex.Conn driven by the test.
type pipeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes []string
}

func newPipeConn() *pipeConn {
	return &pipeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-p.frames:
		return f, nil
	case <-p.closed:
		return nil, domain.NewTransportError("read", net.ErrClosed)
	}
}

func (p *pipeConn) WriteMessage(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, string(data))
	return nil
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *pipeConn) subscribedTo(substr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.writes {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

// pipeDialer hands out a fresh pipeConn per dial.
type pipeDialer struct {
	mu    sync.Mutex
	conns []*pipeConn
}

func (d *pipeDialer) Dial(ctx context.Context, url string) (bitfinex.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := newPipeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *pipeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// open returns the most recent unclosed conn subscribed with substr.
func (d *pipeDialer) open(substr string) *pipeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.conns) - 1; i >= 0; i-- {
		c := d.conns[i]
		if !c.isClosed() && c.subscribedTo(substr) {
			return c
		}
	}
	return nil
}

func newTestClient(t *testing.T) (*MarketClient, *pipeDialer) {
	t.Helper()
	d := &pipeDialer{}
	c := NewMarketClient(MarketConfig{
		URL:       "ws://fake",
		Symbol:    "tBTCUSD",
		Timeframe: domain.Timeframe1m,
	}, WithDialer(d), WithMetrics(infra.NewMetrics()))
	t.Cleanup(c.DisconnectAll)
	return c, d
}

func waitStreaming(t *testing.T, c *MarketClient) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, st := range c.ChannelStates() {
			if st.State != domain.StateStreaming {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func TestMarketClient_InitialState(t *testing.T) {
	c, d := newTestClient(t)

	snap := c.Snapshot()
	assert.Equal(t, domain.Timeframe1m, snap.Timeframe)
	assert.False(t, snap.TickerConnected)
	assert.False(t, snap.CandleConnected)
	assert.Empty(t, snap.Candles)
	assert.Equal(t, "₿", snap.MenuLabel())

	for _, st := range c.ChannelStates() {
		assert.Equal(t, domain.StateIdle, st.State)
		assert.Empty(t, st.Session)
	}
	assert.Zero(t, d.dials())
}

func TestMarketClient_ConnectAllPublishesState(t *testing.T) {
	c, d := newTestClient(t)

	require.NoError(t, c.ConnectAll(context.Background()))
	waitStreaming(t, c)

	ticker := d.open(`"channel":"ticker"`)
	candle := d.open(`trade:1m:tBTCUSD`)
	require.NotNil(t, ticker)
	require.NotNil(t, candle)

	ticker.frames <- []byte(`[5,[26990,10.2,27001,8.7,-411,-0.015,27000.5,1234.5,27500,26500]]`)
	candle.frames <- []byte(`[1234,[[1000,100,105,106,99],[2000,105,103,107,102]]]`)
	candle.frames <- []byte(`[1234,[2000,105,110,112,101]]`)

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.LastPrice == 27000.5 && len(s.Candles) == 2 && s.Candles[1].Close == 110
	}, waitFor, tick)

	snap := c.Snapshot()
	assert.True(t, snap.TickerConnected)
	assert.True(t, snap.CandleConnected)
	assert.Equal(t, -0.015, snap.DailyChange)
	assert.Equal(t, domain.Candle{BucketTime: 1000, Open: 100, Close: 105, High: 106, Low: 99}, snap.Candles[0])
	assert.Equal(t, "$110 ⬇ -1.50%", snap.MenuLabel())

	select {
	case <-c.Updates():
	default:
		t.Error("Expected a pending update notification")
	}
}

func TestMarketClient_MalformedTickerKeepsPrice(t *testing.T) {
	c, d := newTestClient(t)

	require.NoError(t, c.ConnectAll(context.Background()))
	waitStreaming(t, c)
	ticker := d.open(`"channel":"ticker"`)
	require.NotNil(t, ticker)

	ticker.frames <- []byte(`[5,[0,0,0,0,0,0.01,100]]`)
	require.Eventually(t, func() bool { return c.Snapshot().LastPrice == 100 }, waitFor, tick)

	ticker.frames <- []byte(`[5,[1,2,3,4,5,6]]`)
	require.Eventually(t, func() bool { return c.Metrics().Snapshot().DecodeErrors == 1 }, waitFor, tick)

	snap := c.Snapshot()
	assert.Equal(t, 100.0, snap.LastPrice)
	assert.Equal(t, 0.01, snap.DailyChange)
	assert.True(t, snap.TickerConnected)
}

func TestMarketClient_SetTimeframe(t *testing.T) {
	c, d := newTestClient(t)

	require.NoError(t, c.ConnectAll(context.Background()))
	waitStreaming(t, c)
	ticker := d.open(`"channel":"ticker"`)
	oldCandle := d.open(`trade:1m:tBTCUSD`)
	require.NotNil(t, oldCandle)

	t.Run("rejects unknown timeframe", func(t *testing.T) {
		err := c.SetTimeframe(context.Background(), domain.Timeframe("5m"))
		assert.ErrorIs(t, err, domain.ErrUnknownTimeframe)
		assert.Equal(t, domain.Timeframe1m, c.Timeframe())
		assert.Equal(t, 2, d.dials())
	})

	t.Run("reconnects only the candle channel", func(t *testing.T) {
		require.NoError(t, c.SetTimeframe(context.Background(), domain.Timeframe1h))
		assert.Equal(t, domain.Timeframe1h, c.Timeframe())

		require.Eventually(t, func() bool { return d.open(`trade:1h:tBTCUSD`) != nil }, waitFor, tick)
		assert.True(t, oldCandle.isClosed())
		assert.False(t, ticker.isClosed())
		assert.Equal(t, 3, d.dials())
		assert.Equal(t, domain.Timeframe1h, c.Snapshot().Timeframe)
	})
}

func TestMarketClient_DisconnectAll(t *testing.T) {
	c, d := newTestClient(t)

	require.NoError(t, c.ConnectAll(context.Background()))
	waitStreaming(t, c)

	c.DisconnectAll()
	snap := c.Snapshot()
	assert.False(t, snap.TickerConnected)
	assert.False(t, snap.CandleConnected)
	for _, st := range c.ChannelStates() {
		assert.Equal(t, domain.StateIdle, st.State)
	}

	// Second call is a no-op.
	c.DisconnectAll()
	assert.Equal(t, 2, d.dials())
	assert.Equal(t, int32(0), c.Metrics().Snapshot().ActiveConnections)
}

func TestMarketClient_Toggle(t *testing.T) {
	c, d := newTestClient(t)

	require.NoError(t, c.Toggle(context.Background()))
	waitStreaming(t, c)
	assert.Equal(t, 2, d.dials())

	require.NoError(t, c.Toggle(context.Background()))
	snap := c.Snapshot()
	assert.False(t, snap.TickerConnected)
	assert.False(t, snap.CandleConnected)
}

func TestMarketClient_CandlesSurviveDisconnect(t *testing.T) {
	c, d := newTestClient(t)

	require.NoError(t, c.ConnectAll(context.Background()))
	waitStreaming(t, c)
	candle := d.open(`trade:1m:tBTCUSD`)
	candle.frames <- []byte(`[1,[[1000,1,2,3,0]]]`)
	require.Eventually(t, func() bool { return len(c.Snapshot().Candles) == 1 }, waitFor, tick)

	c.DisconnectAll()
	assert.Len(t, c.Snapshot().Candles, 1, "window keeps the last known bars while disconnected")
}

func TestMarketClient_SetRetrying(t *testing.T) {
	c, _ := newTestClient(t)

	c.SetRetrying(true)
	snap := c.Snapshot()
	assert.True(t, snap.Retrying)
	assert.Equal(t, "Trying to reconnect...", snap.StatusText())

	c.SetRetrying(false)
	assert.False(t, c.Snapshot().Retrying)
}

func TestMarketClient_ErrorsAreNotRetriable(t *testing.T) {
	c, _ := newTestClient(t)
	err := c.SetTimeframe(context.Background(), "")
	require.Error(t, err)
	assert.False(t, domain.IsRetriable(err))
	assert.True(t, errors.Is(err, domain.ErrUnknownTimeframe))
}
