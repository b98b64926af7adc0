package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/redis/go-redis/v9"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each
// instrument's last trade is stored at "quote:{segment}:{id}" with fields
// "price", "ts" (Unix nanoseconds) and "kind"; quote and full packets add
// "volume", "open", "high", "low" and "close".
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.rdb, ttl: c.ttl}
}

func quoteKey(key domain.InstrumentKey) string { return "quote:" + key.String() }

func formatPrice(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// SetQuote records a ticker, quote or full message. Other message kinds are
// ignored.
func (qc *QuoteCache) SetQuote(ctx context.Context, msg domain.Message) error {
	var fields map[string]interface{}
	switch m := msg.(type) {
	case domain.TickerMessage:
		fields = map[string]interface{}{
			"price": formatPrice(m.LastPrice),
			"ts":    strconv.FormatInt(m.LastTradeTime.UnixNano(), 10),
			"kind":  m.Kind().String(),
		}
	case domain.QuoteMessage:
		fields = quoteFields(m)
	case domain.FullMessage:
		fields = quoteFields(m.QuoteMessage)
		fields["kind"] = m.Kind().String()
		fields["oi"] = strconv.FormatUint(uint64(m.OpenInterest), 10)
	default:
		return nil
	}

	key := quoteKey(msg.Key())
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", msg.Key(), err)
	}
	return nil
}

func quoteFields(m domain.QuoteMessage) map[string]interface{} {
	return map[string]interface{}{
		"price":  formatPrice(m.LastPrice),
		"ts":     strconv.FormatInt(m.LastTradeTime.UnixNano(), 10),
		"kind":   m.Kind().String(),
		"volume": strconv.FormatUint(uint64(m.Volume), 10),
		"open":   formatPrice(m.Open),
		"high":   formatPrice(m.High),
		"low":    formatPrice(m.Low),
		"close":  formatPrice(m.Close),
	}
}

// GetLastPrice returns the last traded price and time for an instrument.
// It returns domain.ErrNotFound when nothing has been cached.
func (qc *QuoteCache) GetLastPrice(ctx context.Context, key domain.InstrumentKey) (float64, time.Time, error) {
	vals, err := qc.rdb.HMGet(ctx, quoteKey(key), "price", "ts").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	priceStr, ok := vals[0].(string)
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", key, err)
	}

	var ts time.Time
	if tsStr, ok := vals[1].(string); ok {
		nanos, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", key, err)
		}
		ts = time.Unix(0, nanos)
	}
	return price, ts, nil
}

// GetQuote returns every cached field for an instrument.
func (qc *QuoteCache) GetQuote(ctx context.Context, key domain.InstrumentKey) (map[string]string, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}
	return vals, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
