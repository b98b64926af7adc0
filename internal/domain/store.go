package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SignalStore journals generated trading signals.
type SignalStore interface {
	Save(ctx context.Context, sig TradingSignal, metrics MicrostructureMetrics) error
	SaveBatch(ctx context.Context, sigs []SignalRecord) error
	ListRecent(ctx context.Context, key *InstrumentKey, opts ListOpts) ([]SignalRecord, error)
}

// SignalRecord is a journaled signal together with the metrics it came from.
type SignalRecord struct {
	Signal  TradingSignal         `json:"signal"`
	Metrics MicrostructureMetrics `json:"metrics"`
}

// FeedEvent is a connection lifecycle event: a state transition, a breaker
// trip or a terminal reconnect failure.
type FeedEvent struct {
	ID        int64          `json:"id"`
	Feed      string         `json:"feed"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventStore journals feed lifecycle events.
type EventStore interface {
	Log(ctx context.Context, feed, event string, detail map[string]any) error
	List(ctx context.Context, feed string, opts ListOpts) ([]FeedEvent, error)
}
