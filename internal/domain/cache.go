package domain

import (
	"context"
	"time"
)

// SnapshotCache stores the latest assembled depth update per instrument.
type SnapshotCache interface {
	SetDepth(ctx context.Context, update DepthUpdate) error
	GetDepth(ctx context.Context, key InstrumentKey) (DepthUpdate, error)
}

// QuoteCache stores the latest ticker/quote message per instrument.
type QuoteCache interface {
	SetQuote(ctx context.Context, msg Message) error
	GetLastPrice(ctx context.Context, key InstrumentKey) (float64, time.Time, error)
}

// SignalBus provides pub/sub and stream semantics.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
