package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotCache implements domain.SnapshotCache. Each instrument's latest
// analysed depth update is stored as JSON under "depth:{segment}:{id}" and
// its best bid/ask under "depth:{segment}:{id}:bbo" so dashboards can read
// the top of book without decoding 40 levels.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.rdb, ttl: c.ttl}
}

func depthKey(key domain.InstrumentKey) string { return "depth:" + key.String() }
func bboKey(key domain.InstrumentKey) string   { return "depth:" + key.String() + ":bbo" }

// SetDepth replaces the cached update for the instrument.
func (sc *SnapshotCache) SetDepth(ctx context.Context, update domain.DepthUpdate) error {
	key := update.Key()
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("redis: marshal depth %s: %w", key, err)
	}

	snap := update.Snapshot
	pipe := sc.rdb.TxPipeline()
	pipe.Set(ctx, depthKey(key), data, sc.ttl)
	pipe.HSet(ctx, bboKey(key), map[string]interface{}{
		"bid": strconv.FormatFloat(snap.BestBid(), 'f', -1, 64),
		"ask": strconv.FormatFloat(snap.BestAsk(), 'f', -1, 64),
		"ts":  strconv.FormatInt(snap.Timestamp.UnixNano(), 10),
	})
	if sc.ttl > 0 {
		pipe.Expire(ctx, bboKey(key), sc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set depth %s: %w", key, err)
	}
	return nil
}

// GetDepth returns the cached update, or domain.ErrNotFound.
func (sc *SnapshotCache) GetDepth(ctx context.Context, key domain.InstrumentKey) (domain.DepthUpdate, error) {
	data, err := sc.rdb.Get(ctx, depthKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.DepthUpdate{}, domain.ErrNotFound
		}
		return domain.DepthUpdate{}, fmt.Errorf("redis: get depth %s: %w", key, err)
	}
	var update domain.DepthUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return domain.DepthUpdate{}, fmt.Errorf("redis: unmarshal depth %s: %w", key, err)
	}
	return update, nil
}

// GetBBO returns the cached best bid and ask for an instrument.
func (sc *SnapshotCache) GetBBO(ctx context.Context, key domain.InstrumentKey) (bid, ask float64, err error) {
	vals, err := sc.rdb.HGetAll(ctx, bboKey(key)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", key, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	bid, _ = strconv.ParseFloat(vals["bid"], 64)
	ask, _ = strconv.ParseFloat(vals["ask"], 64)
	return bid, ask, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
