package domain

import "time"

// Candle is one OHLC bar. BucketTime (epoch ms, bucket start) is its identity:
// two candles with the same key describe the same bucket even if prices differ.
type Candle struct {
	BucketTime int64   `json:"mts"`
	Open       float64 `json:"open"`
	Close      float64 `json:"close"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
}

// Time returns the bucket start.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.BucketTime)
}

// SameBucket reports whether c and o share a key.
func (c Candle) SameBucket(o Candle) bool {
	return c.BucketTime == o.BucketTime
}
