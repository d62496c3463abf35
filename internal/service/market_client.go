package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tinybtc/internal/domain"
	"tinybtc/internal/infra"
	"tinybtc/internal/infra/bitfinex"
)

// MarketConfig configures a MarketClient.
type MarketConfig struct {
	URL            string
	Symbol         string
	Timeframe      domain.Timeframe
	WindowCapacity int
	Keep           domain.KeepPolicy
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	QueueSize      int
}

// Option configures a MarketClient.
type Option func(*clientOptions)

type clientOptions struct {
	dialer  bitfinex.Dialer
	metrics *infra.Metrics
	logger  *slog.Logger
}

// WithDialer replaces the transport dialer for both channels.
func WithDialer(d bitfinex.Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

// WithMetrics shares a metrics set with both channels.
func WithMetrics(m *infra.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// ChannelStatus describes one subscription channel.
type ChannelStatus struct {
	Channel   string           `json:"channel"`
	State     domain.ConnState `json:"state"`
	Connected bool             `json:"connected"`
	Session   string           `json:"session,omitempty"`
}

// MarketClient owns the ticker and candle channels and the published market state.
//
// Lock order is channel -> client: channel apply goroutines write into the client
// while holding their own lock, so the client never calls a channel with mu held.
type MarketClient struct {
	mu              sync.RWMutex
	lastPrice       float64
	dailyChange     float64
	timeframe       domain.Timeframe
	tickerConnected bool
	candleConnected bool
	retrying        bool

	window  *domain.CandleWindow
	ticker  *bitfinex.Channel
	candle  *bitfinex.Channel
	metrics *infra.Metrics
	logger  *slog.Logger

	// serializes SetTimeframe so the stored timeframe and the candle session agree
	tfMu    sync.Mutex
	updates chan struct{}
}

// NewMarketClient builds an idle client. Nothing connects until ConnectAll.
func NewMarketClient(cfg MarketConfig, opts ...Option) *MarketClient {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = infra.NewMetrics()
	}
	if o.logger == nil {
		o.logger = slog.Default().With(slog.String("module", "market"))
	}
	if !cfg.Timeframe.Valid() {
		cfg.Timeframe = domain.DefaultTimeframe
	}
	if cfg.Symbol == "" {
		cfg.Symbol = infra.DefaultSymbol
	}

	c := &MarketClient{
		timeframe: cfg.Timeframe,
		window:    domain.NewCandleWindow(cfg.WindowCapacity, cfg.Keep),
		metrics:   o.metrics,
		logger:    o.logger,
		updates:   make(chan struct{}, 1),
	}

	chOpts := func(kind bitfinex.Kind) []bitfinex.ChannelOption {
		out := []bitfinex.ChannelOption{
			bitfinex.WithMetrics(o.metrics),
			bitfinex.WithLogger(o.logger.With(slog.String("channel", kind.String()))),
		}
		if o.dialer != nil {
			out = append(out, bitfinex.WithDialer(o.dialer))
		}
		return out
	}
	base := bitfinex.ChannelConfig{
		URL:            cfg.URL,
		Symbol:         cfg.Symbol,
		ConnectTimeout: cfg.ConnectTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		QueueSize:      cfg.QueueSize,
	}

	tickerCfg := base
	tickerCfg.Kind = bitfinex.KindTicker
	c.ticker = bitfinex.NewChannel(tickerCfg, tickerTarget{c}, chOpts(bitfinex.KindTicker)...)

	candleCfg := base
	candleCfg.Kind = bitfinex.KindCandle
	candleCfg.Timeframe = c.Timeframe
	c.candle = bitfinex.NewChannel(candleCfg, candleTarget{c}, chOpts(bitfinex.KindCandle)...)

	return c
}

// ConnectAll (re)connects both channels.
func (c *MarketClient) ConnectAll(ctx context.Context) error {
	err := errors.Join(c.ticker.Connect(ctx), c.candle.Connect(ctx))
	c.logger.Info("Connecting all channels", slog.String("timeframe", string(c.Timeframe())))
	return err
}

// DisconnectAll tears down both channels. Safe to call when already idle.
func (c *MarketClient) DisconnectAll() {
	c.ticker.Disconnect()
	c.candle.Disconnect()
	c.logger.Info("Disconnected all channels")
}

// SetTimeframe stores tf and reconnects the candle channel with the new key.
// The ticker channel is untouched.
func (c *MarketClient) SetTimeframe(ctx context.Context, tf domain.Timeframe) error {
	if _, err := domain.ParseTimeframe(string(tf)); err != nil {
		return err
	}

	c.tfMu.Lock()
	defer c.tfMu.Unlock()

	c.mu.Lock()
	prev := c.timeframe
	c.timeframe = tf
	c.mu.Unlock()
	c.notify()

	c.logger.Info("Timeframe changed", slog.String("from", string(prev)), slog.String("to", string(tf)))
	return c.candle.Connect(ctx)
}

// Toggle connects each disconnected channel and disconnects each connected one.
func (c *MarketClient) Toggle(ctx context.Context) error {
	var errs []error
	for _, ch := range []*bitfinex.Channel{c.ticker, c.candle} {
		if ch.IsConnected() {
			ch.Disconnect()
			continue
		}
		errs = append(errs, ch.Connect(ctx))
	}
	return errors.Join(errs...)
}

// Timeframe returns the selected timeframe.
func (c *MarketClient) Timeframe() domain.Timeframe {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeframe
}

// Snapshot returns a consistent copy of the published state.
func (c *MarketClient) Snapshot() domain.MarketSnapshot {
	c.mu.RLock()
	snap := domain.MarketSnapshot{
		LastPrice:       c.lastPrice,
		DailyChange:     c.dailyChange,
		Timeframe:       c.timeframe,
		TickerConnected: c.tickerConnected,
		CandleConnected: c.candleConnected,
		Retrying:        c.retrying,
	}
	c.mu.RUnlock()

	snap.Candles = c.window.Snapshot()
	return snap
}

// ChannelStates reports both channels, ticker first.
func (c *MarketClient) ChannelStates() []ChannelStatus {
	out := make([]ChannelStatus, 0, 2)
	for _, ch := range []*bitfinex.Channel{c.ticker, c.candle} {
		st := ChannelStatus{
			Channel:   ch.Kind().String(),
			State:     ch.State(),
			Connected: ch.IsConnected(),
		}
		if id := ch.SessionID(); id.Time() != 0 {
			st.Session = id.String()
		}
		out = append(out, st)
	}
	return out
}

// Updates signals published-state changes. Signals coalesce: a receiver that falls
// behind sees one pending notification, not one per change. Intended for a single consumer.
func (c *MarketClient) Updates() <-chan struct{} {
	return c.updates
}

// Metrics returns the shared metrics set.
func (c *MarketClient) Metrics() *infra.Metrics {
	return c.metrics
}

// SetRetrying marks a caller-driven reconnect cycle as running.
func (c *MarketClient) SetRetrying(retrying bool) {
	c.mu.Lock()
	changed := c.retrying != retrying
	c.retrying = retrying
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *MarketClient) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// tickerTarget writes the ticker-owned fields.
type tickerTarget struct{ c *MarketClient }

func (t tickerTarget) SetConnected(connected bool) {
	t.c.mu.Lock()
	t.c.tickerConnected = connected
	t.c.mu.Unlock()
	t.c.notify()
}

func (t tickerTarget) ApplyTicker(u bitfinex.TickerUpdate) {
	t.c.mu.Lock()
	t.c.lastPrice = u.LastPrice
	t.c.dailyChange = u.DailyChange
	t.c.mu.Unlock()
	t.c.notify()
}

func (tickerTarget) ReplaceCandles([]domain.Candle) {}
func (tickerTarget) UpsertCandle(domain.Candle)     {}

// candleTarget writes the candle-owned fields.
type candleTarget struct{ c *MarketClient }

func (t candleTarget) SetConnected(connected bool) {
	t.c.mu.Lock()
	t.c.candleConnected = connected
	t.c.mu.Unlock()
	t.c.notify()
}

func (candleTarget) ApplyTicker(bitfinex.TickerUpdate) {}

func (t candleTarget) ReplaceCandles(candles []domain.Candle) {
	t.c.window.Replace(candles)
	t.c.notify()
}

func (t candleTarget) UpsertCandle(candle domain.Candle) {
	t.c.window.Upsert(candle)
	t.c.notify()
}

var _ domain.SnapshotReader = (*MarketClient)(nil)
