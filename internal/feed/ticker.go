package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// DefaultMarketLimit bounds the number of instruments on the market feed.
const DefaultMarketLimit = 5000

// TickerFeed manages the ticker/quote/full connection: it keeps the
// subscription registry, caches the latest message per instrument and
// dispatches every decoded message to the instrument's callbacks.
type TickerFeed struct {
	conn     *Conn
	proto    Protocol
	registry *Registry[domain.Message]
	logger   *slog.Logger

	mu     sync.RWMutex
	latest map[domain.InstrumentKey]domain.Message
}

// NewTickerFeed builds a ticker feed manager. limit bounds the subscription
// set; zero selects DefaultMarketLimit.
func NewTickerFeed(proto Protocol, dialer Dialer, cfg Config, limit int, logger *slog.Logger) *TickerFeed {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultMarketLimit
	}
	f := &TickerFeed{
		proto:    proto,
		registry: NewRegistry[domain.Message](limit, logger),
		logger:   logger.With(slog.String("component", "ticker_feed")),
		latest:   make(map[domain.InstrumentKey]domain.Message),
	}
	f.conn = NewConn(proto, dialer, f.registry, f.handle, cfg, logger)
	return f
}

// Connect opens the feed connection.
func (f *TickerFeed) Connect(ctx context.Context) error {
	return f.conn.Connect(ctx)
}

// Disconnect closes the feed connection. Subscriptions are kept and restored
// by the next Connect.
func (f *TickerFeed) Disconnect() error {
	return f.conn.Disconnect()
}

// Subscribe registers cb for instruments in mode and sends the subscription
// requests. On error nothing is applied.
func (f *TickerFeed) Subscribe(ctx context.Context, instruments []domain.Instrument, mode domain.Mode, cb Callback[domain.Message]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subs, err := buildSubscriptions(f.proto, instruments, mode)
	if err != nil {
		return err
	}
	if err := f.conn.Subscribe(subs, func() (func(), error) {
		return f.registry.Add(subs, cb)
	}); err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "instruments subscribed",
		slog.Int("count", len(subs)),
		slog.String("mode", mode.String()),
	)
	return nil
}

// Unsubscribe removes instruments and their callbacks.
func (f *TickerFeed) Unsubscribe(ctx context.Context, instruments []domain.Instrument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keys := make([]domain.InstrumentKey, len(instruments))
	for i, in := range instruments {
		keys[i] = in.Key()
	}
	removed := f.registry.Remove(keys)

	f.mu.Lock()
	for _, k := range keys {
		delete(f.latest, k)
	}
	f.mu.Unlock()

	f.conn.Unsubscribe(removed)
	return nil
}

// Latest returns the most recent message received for key.
func (f *TickerFeed) Latest(key domain.InstrumentKey) (domain.Message, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.latest[key]
	return m, ok
}

// Subscriptions lists the recorded subscriptions.
func (f *TickerFeed) Subscriptions() []domain.Subscription { return f.registry.Subscriptions() }

// Count returns the number of subscribed instruments.
func (f *TickerFeed) Count() int { return f.registry.Len() }

// Status returns the connection status.
func (f *TickerFeed) Status() Status { return f.conn.Status() }

// Stats returns the connection counters.
func (f *TickerFeed) Stats() Stats { return f.conn.Stats() }

// OnStateChange registers a connection state observer.
func (f *TickerFeed) OnStateChange(fn StateObserver) { f.conn.OnStateChange(fn) }

// OnError registers a connection error observer.
func (f *TickerFeed) OnError(fn ErrorObserver) { f.conn.OnError(fn) }

func (f *TickerFeed) handle(msg domain.Message) error {
	key := msg.Key()
	if msg.Kind() != domain.KindDisconnect {
		f.mu.Lock()
		if !f.registry.Contains(key) {
			f.mu.Unlock()
			return nil
		}
		f.latest[key] = msg
		f.mu.Unlock()
	}
	f.registry.Dispatch(key, msg)
	return nil
}

// buildSubscriptions validates instruments against the protocol and pairs
// them with mode. Repeated instruments are collapsed to one subscription.
func buildSubscriptions(proto Protocol, instruments []domain.Instrument, mode domain.Mode) ([]domain.Subscription, error) {
	if len(instruments) == 0 {
		return nil, &domain.SubscriptionError{Err: errors.New("no instruments")}
	}
	if !proto.SupportsMode(mode) {
		return nil, &domain.SubscriptionError{
			Err: fmt.Errorf("%s feed, mode %s: %w", proto.Name(), mode, domain.ErrUnsupportedMode),
		}
	}
	subs := make([]domain.Subscription, 0, len(instruments))
	seen := make(map[domain.InstrumentKey]struct{}, len(instruments))
	for _, in := range instruments {
		if !proto.Supports(in.Segment) {
			return nil, &domain.SubscriptionError{Instrument: in.Key(), Err: domain.ErrUnsupportedSegment}
		}
		if _, dup := seen[in.Key()]; dup {
			continue
		}
		seen[in.Key()] = struct{}{}
		subs = append(subs, domain.Subscription{Instrument: in, Mode: mode})
	}
	return subs, nil
}
