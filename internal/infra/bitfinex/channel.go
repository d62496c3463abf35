package bitfinex

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tinybtc/internal/domain"
	"tinybtc/internal/infra"

	"github.com/oklog/ulid/v2"
)

// Target receives the effects of applied messages.
// Methods are called from the channel's apply goroutine while the channel lock is held,
// so implementations must not call back into the channel.
type Target interface {
	SetConnected(connected bool)
	ApplyTicker(update TickerUpdate)
	ReplaceCandles(candles []domain.Candle)
	UpsertCandle(candle domain.Candle)
}

// ChannelConfig describes one subscription.
type ChannelConfig struct {
	Kind   Kind
	URL    string
	Symbol string
	// Timeframe is read at subscribe time; only candle channels use it.
	Timeframe      func() domain.Timeframe
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	QueueSize      int
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) ChannelOption {
	return func(c *Channel) { c.dialer = d }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *infra.Metrics) ChannelOption {
	return func(c *Channel) { c.metrics = m }
}

// WithLogger replaces the channel logger.
func WithLogger(l *slog.Logger) ChannelOption {
	return func(c *Channel) { c.logger = l }
}

// inbound is one queued message with its receive time.
type inbound struct {
	msg Message
	at  time.Time
}

// session is one connection attempt. A torn-down session never mutates channel state again.
type session struct {
	id     ulid.ULID
	ctx    context.Context
	cancel context.CancelFunc
	conn   Conn
	queue  chan inbound
	done   chan struct{}
}

// Channel owns the lifecycle of one streaming subscription.
type Channel struct {
	cfg     ChannelConfig
	target  Target
	dialer  Dialer
	metrics *infra.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	state     domain.ConnState
	connected bool
	sess      *session
}

// NewChannel creates an idle channel.
func NewChannel(cfg ChannelConfig, target Target, opts ...ChannelOption) *Channel {
	if cfg.URL == "" {
		cfg.URL = PublicWSURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Timeframe == nil {
		cfg.Timeframe = func() domain.Timeframe { return domain.DefaultTimeframe }
	}

	c := &Channel{
		cfg:    cfg,
		target: target,
		state:  domain.StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer(cfg.ConnectTimeout, cfg.WriteTimeout)
	}
	if c.metrics == nil {
		c.metrics = infra.NewMetrics()
	}
	if c.logger == nil {
		c.logger = slog.Default().With(slog.String("module", "bitfinex"), slog.String("channel", cfg.Kind.String()))
	}
	return c
}

// Connect tears down any existing session and starts a fresh one.
// It returns once the new session is running; the dial happens asynchronously and its
// outcome is observable through State and IsConnected. The session outlives ctx
// cancellation and ends only on Disconnect, a later Connect, or a transport failure.
func (c *Channel) Connect(ctx context.Context) error {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:     ulid.Make(),
		ctx:    sctx,
		cancel: cancel,
		queue:  make(chan inbound, c.cfg.QueueSize),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	prev := c.teardownLocked()
	c.sess = s
	c.state = domain.StateConnecting
	c.mu.Unlock()

	if prev != nil {
		<-prev.done
	}

	c.logger.Info("Connecting", slog.String("session", s.id.String()), slog.String("url", c.cfg.URL))

	go c.readLoop(s)
	go c.applyLoop(s)
	return nil
}

// Disconnect tears down the current session and resets the channel to Idle.
// Calling it on an idle channel does nothing.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	prev := c.teardownLocked()
	if prev != nil {
		c.state = domain.StateIdle
	}
	c.mu.Unlock()

	if prev == nil {
		return
	}
	<-prev.done
	c.logger.Info("Disconnected", slog.String("session", prev.id.String()))
}

// teardownLocked cancels the current session and detaches it. Returns nil when idle.
func (c *Channel) teardownLocked() *session {
	s := c.sess
	if s == nil {
		return nil
	}
	s.cancel()
	c.closeConnLocked(s)
	c.setConnectedLocked(false)
	c.sess = nil
	return s
}

func (c *Channel) closeConnLocked(s *session) {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		c.logger.Debug("Close failed", slog.Any("error", err))
	}
	s.conn = nil
	c.metrics.DecrementConnections()
}

func (c *Channel) setConnectedLocked(connected bool) {
	if c.connected == connected {
		return
	}
	c.connected = connected
	c.target.SetConnected(connected)
}

// readLoop dials and then reads frames until the transport fails or the session ends.
func (c *Channel) readLoop(s *session) {
	defer close(s.queue)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Read loop panic recovered", slog.Any("panic", r))
		}
	}()

	dialCtx, cancel := context.WithTimeout(s.ctx, c.cfg.ConnectTimeout)
	conn, err := c.dialer.Dial(dialCtx, c.cfg.URL)
	cancel()
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		c.metrics.RecordConnectFailure()
		c.logger.Warn("Connect failed", slog.String("session", s.id.String()), slog.Any("error", err))
		c.emit(s, Lifecycle{Event: LifecycleError, Cause: err})
		return
	}

	c.mu.Lock()
	if c.sess != s || s.ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	c.metrics.IncrementConnections()
	c.mu.Unlock()

	if !c.emit(s, Lifecycle{Event: LifecycleConnected}) {
		return
	}

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				c.emit(s, Lifecycle{Event: LifecycleCancelled})
				return
			}
			var te *domain.TransportError
			if errors.As(err, &te) && te.Code != 0 {
				c.emit(s, Lifecycle{Event: LifecycleDisconnected, Code: te.Code, Reason: te.Err.Error()})
			} else {
				c.emit(s, Lifecycle{Event: LifecycleError, Cause: err})
			}
			return
		}

		msg, err := DecodeFrame(c.cfg.Kind, frame)
		if err != nil {
			c.metrics.RecordDecodeError()
			c.logger.Debug("Dropping frame", slog.Any("error", err), slog.Int("bytes", len(frame)))
			continue
		}
		switch msg.(type) {
		case Ignored, Heartbeat:
			continue
		}
		if !c.emit(s, msg) {
			return
		}
	}
}

// emit queues msg for the apply goroutine. Returns false once the session has ended.
func (c *Channel) emit(s *session, msg Message) bool {
	select {
	case s.queue <- inbound{msg: msg, at: time.Now()}:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// applyLoop is the single consumer of the session queue.
func (c *Channel) applyLoop(s *session) {
	defer close(s.done)
	for in := range s.queue {
		c.apply(s, in)
	}
}

func (c *Channel) apply(s *session, in inbound) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Messages from a torn-down session are discarded.
	if c.sess != s || s.ctx.Err() != nil {
		return
	}

	switch m := in.msg.(type) {
	case Lifecycle:
		c.applyLifecycleLocked(s, m)
	case TickerUpdate:
		c.target.ApplyTicker(m)
	case CandleSnapshot:
		c.target.ReplaceCandles(m.Candles)
	case CandleUpdate:
		c.target.UpsertCandle(m.Candle)
	case Subscribed:
		c.logger.Info("Subscribed",
			slog.String("session", s.id.String()),
			slog.Int64("chan_id", m.ChannelID),
			slog.String("key", m.Key),
		)
	case Info:
		c.logger.Debug("Server info", slog.Int("version", m.Version))
	case ServerError:
		c.logger.Warn("Server error event", slog.Int("code", m.Code), slog.String("msg", m.Msg))
	}

	c.metrics.RecordFrame(time.Since(in.at).Nanoseconds())
}

func (c *Channel) applyLifecycleLocked(s *session, m Lifecycle) {
	switch m.Event {
	case LifecycleConnected:
		c.setConnectedLocked(true)
		c.state = domain.StateSubscribed
		c.subscribeLocked(s)
	case LifecycleDisconnected, LifecycleError, LifecycleCancelled:
		c.closeConnLocked(s)
		c.setConnectedLocked(false)
		if c.state == domain.StateConnecting {
			c.state = domain.StateFailed
		} else {
			c.state = domain.StateDisconnected
		}
		c.logger.Warn("Connection lost",
			slog.String("session", s.id.String()),
			slog.String("event", m.Event.String()),
			slog.Int("code", m.Code),
			slog.Any("error", m.Cause),
		)
	}
}

// subscribeLocked sends the subscribe request. Failures leave the transport open.
func (c *Channel) subscribeLocked(s *session) {
	payload, err := EncodeSubscribe(c.cfg.Kind, c.cfg.Symbol, c.cfg.Timeframe())
	if err != nil {
		c.metrics.RecordEncodeError()
		c.logger.Error("Encode subscribe failed", slog.Any("error", err))
		return
	}
	if s.conn == nil {
		c.metrics.RecordEncodeError()
		c.logger.Error("Subscribe without transport", slog.Any("error", domain.ErrNotConnected))
		return
	}
	if err := s.conn.WriteMessage(payload); err != nil {
		c.metrics.RecordEncodeError()
		c.logger.Error("Send subscribe failed", slog.Any("error", &domain.EncodeError{Kind: c.cfg.Kind.String(), Err: err}))
		return
	}
	c.metrics.RecordSubscribe()
	c.state = domain.StateStreaming
	c.logger.Debug("Subscribe sent", slog.String("session", s.id.String()), slog.String("payload", string(payload)))
}

// State returns the lifecycle state.
func (c *Channel) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the transport is open.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SessionID returns the current session id, or the zero ULID when idle.
func (c *Channel) SessionID() ulid.ULID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ulid.ULID{}
	}
	return c.sess.id
}

// Kind returns the subscription kind.
func (c *Channel) Kind() Kind {
	return c.cfg.Kind
}

var _ domain.StreamChannel = (*Channel)(nil)
