package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is a point-in-time copy of the published market state.
// It is owned by the caller; mutating it has no effect on the client.
type MarketSnapshot struct {
	LastPrice       float64   `json:"last_price"`
	DailyChange     float64   `json:"daily_change"` // fraction, -0.015 == -1.5%
	Candles         []Candle  `json:"candles"`
	Timeframe       Timeframe `json:"timeframe"`
	TickerConnected bool      `json:"ticker_connected"`
	CandleConnected bool      `json:"candle_connected"`
	Retrying        bool      `json:"retrying"`
}

// DisplayPrice prefers the close of the newest candle and falls back to the ticker price.
func (m *MarketSnapshot) DisplayPrice() float64 {
	if n := len(m.Candles); n > 0 {
		return m.Candles[n-1].Close
	}
	return m.LastPrice
}

// IsUp reports whether the newest close is above the oldest close in the window.
func (m *MarketSnapshot) IsUp() bool {
	n := len(m.Candles)
	if n == 0 {
		return false
	}
	return m.Candles[n-1].Close > m.Candles[0].Close
}

// DailyChangeUp reports a strictly positive daily change.
func (m *MarketSnapshot) DailyChangeUp() bool {
	return m.DailyChange > 0
}

// PriceRange returns the lowest and highest open/close in the window (0, 0 when empty).
func (m *MarketSnapshot) PriceRange() (lo, hi float64) {
	for i, c := range m.Candles {
		cmin, cmax := c.Open, c.Close
		if cmin > cmax {
			cmin, cmax = cmax, cmin
		}
		if i == 0 || cmin < lo {
			lo = cmin
		}
		if i == 0 || cmax > hi {
			hi = cmax
		}
	}
	return lo, hi
}

// TimeRange returns the first and last bucket start. With fewer than three
// candles both ends collapse to now, matching the chart's degenerate axis.
func (m *MarketSnapshot) TimeRange(now time.Time) (from, to time.Time) {
	if len(m.Candles) <= 2 {
		return now, now
	}
	return m.Candles[0].Time(), m.Candles[len(m.Candles)-1].Time()
}

// ChangeLabel renders the daily change as "⬆ 1.50%" / "⬇ 0.25%".
func (m *MarketSnapshot) ChangeLabel() string {
	arrow := "⬆"
	if m.DailyChange < 0 {
		arrow = "⬇"
	}
	pct := decimal.NewFromFloat(m.DailyChange).Mul(decimal.NewFromInt(100)).Abs()
	if m.DailyChange < 0 {
		return arrow + " -" + pct.StringFixed(2) + "%"
	}
	return arrow + " " + pct.StringFixed(2) + "%"
}

// PriceLabel renders DisplayPrice as whole US dollars with thousands separators.
func (m *MarketSnapshot) PriceLabel() string {
	return "$" + groupThousands(decimal.NewFromFloat(m.DisplayPrice()).Round(0).String())
}

// MenuLabel is the compact one-line summary, or "₿" before the first price arrives.
func (m *MarketSnapshot) MenuLabel() string {
	if m.LastPrice <= 0 {
		return "₿"
	}
	return m.PriceLabel() + " " + m.ChangeLabel()
}

// StatusText describes the ticker connection for a status line.
func (m *MarketSnapshot) StatusText() string {
	switch {
	case m.Retrying:
		return "Trying to reconnect..."
	case m.TickerConnected:
		return "Connected to Bitfinex"
	default:
		return "Not connected"
	}
}

func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
