package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/depthfeed/internal/blob/s3"
	"github.com/alanyoungcy/depthfeed/internal/cache/redis"
	"github.com/alanyoungcy/depthfeed/internal/config"
	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/feed"
	"github.com/alanyoungcy/depthfeed/internal/notify"
	"github.com/alanyoungcy/depthfeed/internal/server/handler"
	"github.com/alanyoungcy/depthfeed/internal/store/postgres"
)

// Dependencies bundles the optional storage and transport backends. Every
// field is nil when its backend is disabled in the configuration.
type Dependencies struct {
	// Caches
	Snapshots domain.SnapshotCache
	Quotes    domain.QuoteCache
	SignalBus domain.SignalBus

	// Journal
	Signals domain.SignalStore
	Events  domain.EventStore

	// Blob storage
	BlobWriter domain.BlobWriter

	// Notifications. Never nil; disabled when no channel is configured.
	Notifier *notify.Notifier

	// Checks are reported by the health endpoint, keyed by backend.
	Checks map[string]handler.Check
}

// Wire constructs the enabled backends from cfg and returns them together with
// a cleanup function that should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			TLSEnabled:  cfg.Redis.TLSEnabled,
			SnapshotTTL: cfg.Redis.SnapshotTTL.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Snapshots = redis.NewSnapshotCache(redisClient)
		deps.Quotes = redis.NewQuoteCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.Signals = postgres.NewSignalStore(pool)
		deps.Events = postgres.NewEventStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- S3 blob storage (archive only) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// feedConfig converts the shared connection settings.
func feedConfig(cfg *config.Config) feed.Config {
	f := cfg.Feed
	return feed.Config{
		ConnectTimeout:    f.ConnectTimeout.Duration,
		HeartbeatInterval: f.HeartbeatInterval.Duration,
		ReconnectAttempts: f.ReconnectAttempts,
		ReconnectDelay:    f.ReconnectDelay.Duration,
		QueueSize:         f.QueueSize,
		BatchSize:         f.BatchSize,
		ErrorThreshold:    f.ErrorThreshold,
		ErrorWindow:       f.ErrorWindow.Duration,
		ProcessingJoin:    f.ProcessingJoin.Duration,
		HeartbeatJoin:     f.HeartbeatJoin.Duration,
		RateWarnPerSec:    f.RateWarnPerSec,
	}
}

// depthConfig converts the depth manager settings.
func depthConfig(cfg *config.Config) feed.DepthConfig {
	d := cfg.Depth
	return feed.DepthConfig{
		BufferWindow:    d.BufferWindow.Duration,
		HistoryCapacity: d.HistoryCapacity,
		AnalysisTTL:     d.AnalysisTTL.Duration,
		Limit:           d.MaxInstruments,
		ExpirySweep:     d.ExpirySweep,
	}
}

// instrumentPlan is the startup subscription set split by destination feed.
type instrumentPlan struct {
	ticker map[domain.Mode][]domain.Instrument
	depth  []domain.Instrument
}

// planInstruments groups the configured instruments. Validation has already
// rejected unknown segments and modes.
func planInstruments(cfg *config.Config) (instrumentPlan, error) {
	plan := instrumentPlan{ticker: make(map[domain.Mode][]domain.Instrument)}
	for i, ic := range cfg.Instruments {
		inst, err := ic.Instrument()
		if err != nil {
			return plan, fmt.Errorf("instruments[%d]: %w", i, err)
		}
		mode, err := domain.ParseMode(ic.Mode)
		if err != nil {
			return plan, fmt.Errorf("instruments[%d]: %w", i, err)
		}
		if mode == domain.ModeDepth {
			plan.depth = append(plan.depth, inst)
			continue
		}
		plan.ticker[mode] = append(plan.ticker[mode], inst)
	}
	return plan, nil
}
