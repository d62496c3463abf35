package domain

import "context"

// StreamChannel is one streaming subscription with an explicit lifecycle.
type StreamChannel interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	State() ConnState
}

// SnapshotReader gives observers read-only access to published market state.
type SnapshotReader interface {
	Snapshot() MarketSnapshot
}
