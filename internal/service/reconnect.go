package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"tinybtc/internal/domain"
	"tinybtc/internal/infra"
)

// DefaultRetryGrace is the pause between tearing both channels down and reconnecting.
const DefaultRetryGrace = 2 * time.Second

// Clock abstracts timers so retry cycles can be tested without sleeping.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Reconnectable is what a reconnect cycle drives.
type Reconnectable interface {
	ConnectAll(ctx context.Context) error
	DisconnectAll()
	SetRetrying(retrying bool)
}

// Reconnector runs caller-driven reconnect cycles: disconnect both channels,
// wait a grace period, connect both. At most one cycle runs at a time.
type Reconnector struct {
	target  Reconnectable
	clock   Clock
	grace   time.Duration
	metrics *infra.Metrics
	logger  *slog.Logger
	running atomic.Bool
}

// NewReconnector creates a reconnector. A nil clock means the wall clock.
func NewReconnector(target Reconnectable, grace time.Duration, clock Clock, metrics *infra.Metrics) *Reconnector {
	if clock == nil {
		clock = RealClock()
	}
	if grace <= 0 {
		grace = DefaultRetryGrace
	}
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	return &Reconnector{
		target:  target,
		clock:   clock,
		grace:   grace,
		metrics: metrics,
		logger:  slog.Default().With(slog.String("module", "reconnect")),
	}
}

// Retry runs one cycle and blocks until it finishes.
// Returns domain.ErrRetryInProgress if another cycle is running, or ctx.Err() if
// ctx ends during the grace period (both channels then stay disconnected).
func (r *Reconnector) Retry(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return domain.ErrRetryInProgress
	}
	return r.cycle(ctx)
}

// Start begins a cycle in the background.
// The in-progress check is synchronous so callers can report a conflict.
func (r *Reconnector) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return domain.ErrRetryInProgress
	}
	go func() {
		if err := r.cycle(ctx); err != nil {
			r.logger.Warn("Reconnect cycle aborted", slog.Any("error", err))
		}
	}()
	return nil
}

// Running reports whether a cycle is in progress.
func (r *Reconnector) Running() bool {
	return r.running.Load()
}

func (r *Reconnector) cycle(ctx context.Context) error {
	defer r.running.Store(false)

	r.target.SetRetrying(true)
	defer r.target.SetRetrying(false)

	r.logger.Info("Reconnect cycle started", slog.Duration("grace", r.grace))
	r.target.DisconnectAll()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(r.grace):
	}

	r.metrics.RecordRetryCycle()
	return r.target.ConnectAll(ctx)
}
