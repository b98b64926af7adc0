// Package feed runs the market-data feed connections: connection lifecycle,
// subscription registry and dispatch, and the ticker and depth managers built
// on top of them.
package feed

import (
	"context"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// Transport is one open duplex connection. ReadMessage is called from a
// single goroutine; WriteMessage, Ping and Close may be called concurrently.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping() error
	Close() error
}

// Dialer opens transports. The dial must honour the context deadline.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// Protocol describes the wire format spoken on a connection.
type Protocol interface {
	Name() string
	URL() string
	Decode(frame []byte, receivedAt time.Time) (domain.Message, error)
	Supports(seg domain.Segment) bool
	SupportsMode(m domain.Mode) bool
	SubscribeRequests(subs []domain.Subscription) ([][]byte, error)
	UnsubscribeRequests(subs []domain.Subscription) ([][]byte, error)
	DisconnectRequest() []byte
}

// SubscriptionSource lists the subscriptions to restore after a reconnect.
type SubscriptionSource interface {
	Subscriptions() []domain.Subscription
}
