package domain

import (
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultWindowCapacity is the number of bars kept for display.
const DefaultWindowCapacity = 40

// KeepPolicy decides which end of an oversized snapshot survives truncation.
type KeepPolicy int

const (
	// KeepOldest keeps the first C entries of the ascending batch.
	KeepOldest KeepPolicy = iota
	// KeepNewest keeps the last C entries of the ascending batch.
	KeepNewest
)

// ParseKeepPolicy maps "oldest"/"newest" (empty means oldest).
func ParseKeepPolicy(s string) (KeepPolicy, bool) {
	switch s {
	case "", "oldest":
		return KeepOldest, true
	case "newest":
		return KeepNewest, true
	default:
		return KeepOldest, false
	}
}

// CandleWindow is a bounded, ascending, key-unique buffer of candles.
//
// Writers are serialized by mu and publish a fresh slice on every change
// (copy-on-write); readers load the current slice without locking and so
// never observe a partially applied Replace or Upsert.
type CandleWindow struct {
	capacity int
	keep     KeepPolicy

	mu  sync.Mutex
	cur atomic.Pointer[[]Candle]
}

// NewCandleWindow creates an empty window. A non-positive capacity falls back to the default.
func NewCandleWindow(capacity int, keep KeepPolicy) *CandleWindow {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	w := &CandleWindow{capacity: capacity, keep: keep}
	empty := make([]Candle, 0)
	w.cur.Store(&empty)
	return w
}

// Cap returns the window capacity.
func (w *CandleWindow) Cap() int {
	return w.capacity
}

// Len returns the current number of candles.
func (w *CandleWindow) Len() int {
	return len(*w.cur.Load())
}

// Snapshot returns an ascending copy safe for the caller to keep or modify.
func (w *CandleWindow) Snapshot() []Candle {
	return slices.Clone(*w.cur.Load())
}

// Last returns the newest candle.
func (w *CandleWindow) Last() (Candle, bool) {
	cur := *w.cur.Load()
	if len(cur) == 0 {
		return Candle{}, false
	}
	return cur[len(cur)-1], true
}

// Replace discards the window and installs candles sorted ascending,
// de-duplicated by key (later entries win) and truncated to capacity.
func (w *CandleWindow) Replace(candles []Candle) {
	next := make([]Candle, len(candles))
	copy(next, candles)
	slices.SortStableFunc(next, func(a, b Candle) int {
		switch {
		case a.BucketTime < b.BucketTime:
			return -1
		case a.BucketTime > b.BucketTime:
			return 1
		default:
			return 0
		}
	})

	// Stable sort keeps arrival order within a key, so the last of a run wins.
	deduped := next[:0]
	for i, c := range next {
		if i+1 < len(next) && next[i+1].BucketTime == c.BucketTime {
			continue
		}
		deduped = append(deduped, c)
	}

	if len(deduped) > w.capacity {
		if w.keep == KeepNewest {
			deduped = deduped[len(deduped)-w.capacity:]
		} else {
			deduped = deduped[:w.capacity]
		}
	}
	out := slices.Clone(deduped)

	w.mu.Lock()
	w.cur.Store(&out)
	w.mu.Unlock()
}

// Upsert applies one incremental bar.
//
// An existing key is replaced in place. A novel key is inserted at its
// ascending position and the lowest key is evicted, so the length is
// unchanged (one eviction per novel key). On an empty window the candle is
// simply appended. A novel key older than every entry evicts itself.
func (w *CandleWindow) Upsert(c Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cur := *w.cur.Load()
	idx, found := slices.BinarySearchFunc(cur, c.BucketTime, func(e Candle, key int64) int {
		switch {
		case e.BucketTime < key:
			return -1
		case e.BucketTime > key:
			return 1
		default:
			return 0
		}
	})

	var next []Candle
	switch {
	case found:
		next = slices.Clone(cur)
		next[idx] = c
	case len(cur) == 0:
		next = []Candle{c}
	default:
		next = make([]Candle, 0, len(cur)+1)
		next = append(next, cur[:idx]...)
		next = append(next, c)
		next = append(next, cur[idx:]...)
		next = next[1:]
		if len(next) > w.capacity {
			next = next[len(next)-w.capacity:]
		}
	}
	w.cur.Store(&next)
}
