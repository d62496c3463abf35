package domain

import (
	"fmt"
	"time"
)

// Timeframe is the candle bucket size. Its string value is the wire token.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe6h  Timeframe = "6h"
	Timeframe12h Timeframe = "12h"
)

// DefaultTimeframe is selected on construction.
const DefaultTimeframe = Timeframe1m

var timeframes = []Timeframe{
	Timeframe1m,
	Timeframe15m,
	Timeframe30m,
	Timeframe1h,
	Timeframe6h,
	Timeframe12h,
}

// Timeframes returns every supported timeframe, shortest first.
func Timeframes() []Timeframe {
	out := make([]Timeframe, len(timeframes))
	copy(out, timeframes)
	return out
}

// ParseTimeframe validates a wire token.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeframe, s)
	}
	return tf, nil
}

// Valid reports whether t is one of the supported timeframes.
func (t Timeframe) Valid() bool {
	for _, tf := range timeframes {
		if tf == t {
			return true
		}
	}
	return false
}

// Token returns the bucket-size token used in candle subscription keys.
func (t Timeframe) Token() string {
	return string(t)
}

// Duration returns the bucket length, or 0 for an unknown timeframe.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe1m:
		return time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe6h:
		return 6 * time.Hour
	case Timeframe12h:
		return 12 * time.Hour
	default:
		return 0
	}
}

// Label returns the short button label ("1m", "1hr", ...).
func (t Timeframe) Label() string {
	switch t {
	case Timeframe1h:
		return "1hr"
	case Timeframe6h:
		return "6hr"
	case Timeframe12h:
		return "12hr"
	default:
		return string(t)
	}
}
