package bitfinex

import (
	"time"

	"tinybtc/internal/domain"
)

const (
	// PublicWSURL is the public market-data endpoint.
	PublicWSURL = "wss://api-pub.bitfinex.com/ws/2"

	defaultConnectTimeout = 5 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultQueueSize      = 256
)

// Kind selects which public channel a subscription targets.
type Kind int

const (
	KindTicker Kind = iota + 1
	KindCandle
)

// String returns the wire channel name.
func (k Kind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindCandle:
		return "candles"
	default:
		return "unknown"
	}
}

// subscribeRequest is the outbound subscribe event.
// Ticker requests carry Symbol, candle requests carry Key.
type subscribeRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol,omitempty"`
	Key     string `json:"key,omitempty"`
}

// eventResponse covers the JSON-object frames (info, subscribed, error, ...).
type eventResponse struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Key     string `json:"key"`
	Msg     string `json:"msg"`
	Code    int    `json:"code"`
	Version int    `json:"version"`
}

// Message is one decoded inbound event for a subscription channel.
type Message interface {
	message()
}

// LifecycleEvent enumerates transport-level events.
type LifecycleEvent int

const (
	LifecycleConnected LifecycleEvent = iota + 1
	LifecycleDisconnected
	LifecycleError
	LifecycleCancelled
)

// String returns the string representation of LifecycleEvent
func (e LifecycleEvent) String() string {
	switch e {
	case LifecycleConnected:
		return "connected"
	case LifecycleDisconnected:
		return "disconnected"
	case LifecycleError:
		return "error"
	case LifecycleCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Lifecycle is produced by the transport adapter, never by frame decoding.
type Lifecycle struct {
	Event  LifecycleEvent
	Reason string // close reason, Disconnected only
	Code   int    // close code, Disconnected only
	Cause  error  // Error only
}

// Heartbeat covers hb frames and pong/conf events. It never changes state.
type Heartbeat struct{}

// TickerUpdate carries the two ticker fields the client publishes.
type TickerUpdate struct {
	LastPrice   float64
	DailyChange float64 // fraction
}

// CandleSnapshot is the initial batch of bars sent after subscribing.
type CandleSnapshot struct {
	Candles []domain.Candle
}

// CandleUpdate is one incremental bar.
type CandleUpdate struct {
	Candle domain.Candle
}

// Subscribed acknowledges a subscribe request.
type Subscribed struct {
	ChannelID int64
	Channel   string
	Symbol    string
	Key       string
}

// Info is the greeting the server sends on open.
type Info struct {
	Version int
}

// ServerError is an error event, e.g. a rejected subscription.
type ServerError struct {
	Code int
	Msg  string
}

// Ignored marks a well-formed frame the client has no use for.
type Ignored struct{}

func (Lifecycle) message()      {}
func (Heartbeat) message()      {}
func (TickerUpdate) message()   {}
func (CandleSnapshot) message() {}
func (CandleUpdate) message()   {}
func (Subscribed) message()     {}
func (Info) message()           {}
func (ServerError) message()    {}
func (Ignored) message()        {}
