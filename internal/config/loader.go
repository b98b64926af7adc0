package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEPTHFEED_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEPTHFEED_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject the broker token at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Dhan ──
	setStr(&cfg.Dhan.ClientID, "DEPTHFEED_DHAN_CLIENT_ID")
	setStr(&cfg.Dhan.AccessToken, "DEPTHFEED_DHAN_ACCESS_TOKEN")
	setStr(&cfg.Dhan.FeedURL, "DEPTHFEED_DHAN_FEED_URL")
	setStr(&cfg.Dhan.DepthURL, "DEPTHFEED_DHAN_DEPTH_URL")

	// ── Feed ──
	setDuration(&cfg.Feed.ConnectTimeout, "DEPTHFEED_FEED_CONNECT_TIMEOUT")
	setDuration(&cfg.Feed.HeartbeatInterval, "DEPTHFEED_FEED_HEARTBEAT_INTERVAL")
	setInt(&cfg.Feed.ReconnectAttempts, "DEPTHFEED_FEED_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Feed.ReconnectDelay, "DEPTHFEED_FEED_RECONNECT_DELAY")
	setInt(&cfg.Feed.QueueSize, "DEPTHFEED_FEED_QUEUE_SIZE")
	setInt(&cfg.Feed.BatchSize, "DEPTHFEED_FEED_BATCH_SIZE")
	setInt(&cfg.Feed.SubscriptionLimit, "DEPTHFEED_FEED_SUBSCRIPTION_LIMIT")
	setInt(&cfg.Feed.RateWarnPerSec, "DEPTHFEED_FEED_RATE_WARN_PER_SEC")
	setInt(&cfg.Feed.ErrorThreshold, "DEPTHFEED_FEED_ERROR_THRESHOLD")
	setDuration(&cfg.Feed.ErrorWindow, "DEPTHFEED_FEED_ERROR_WINDOW")

	// ── Depth ──
	setDuration(&cfg.Depth.BufferWindow, "DEPTHFEED_DEPTH_BUFFER_WINDOW")
	setInt(&cfg.Depth.HistoryCapacity, "DEPTHFEED_DEPTH_HISTORY_CAPACITY")
	setInt(&cfg.Depth.MaxInstruments, "DEPTHFEED_DEPTH_MAX_INSTRUMENTS")
	setDuration(&cfg.Depth.AnalysisTTL, "DEPTHFEED_DEPTH_ANALYSIS_TTL")
	setBool(&cfg.Depth.ExpirySweep, "DEPTHFEED_DEPTH_EXPIRY_SWEEP")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DEPTHFEED_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DEPTHFEED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEPTHFEED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEPTHFEED_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEPTHFEED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEPTHFEED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEPTHFEED_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SnapshotTTL, "DEPTHFEED_REDIS_SNAPSHOT_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DEPTHFEED_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DEPTHFEED_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DEPTHFEED_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEPTHFEED_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEPTHFEED_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEPTHFEED_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEPTHFEED_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEPTHFEED_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEPTHFEED_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEPTHFEED_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEPTHFEED_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DEPTHFEED_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEPTHFEED_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEPTHFEED_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEPTHFEED_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEPTHFEED_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEPTHFEED_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEPTHFEED_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DEPTHFEED_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Prefix, "DEPTHFEED_ARCHIVE_PREFIX")
	setDuration(&cfg.Archive.FlushInterval, "DEPTHFEED_ARCHIVE_FLUSH_INTERVAL")
	setInt(&cfg.Archive.MaxBatch, "DEPTHFEED_ARCHIVE_MAX_BATCH")
	setInt(&cfg.Archive.QueueSize, "DEPTHFEED_ARCHIVE_QUEUE_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEPTHFEED_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEPTHFEED_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEPTHFEED_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DEPTHFEED_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEPTHFEED_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEPTHFEED_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEPTHFEED_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEPTHFEED_NOTIFY_EVENTS")
	setFloat64(&cfg.Notify.MinConfidence, "DEPTHFEED_NOTIFY_MIN_CONFIDENCE")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEPTHFEED_MODE")
	setStr(&cfg.LogLevel, "DEPTHFEED_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
