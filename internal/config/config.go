// Package config defines the top-level configuration for the depth feed
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEPTHFEED_* environment variables.
type Config struct {
	Dhan        DhanConfig         `toml:"dhan"`
	Feed        FeedConfig         `toml:"feed"`
	Depth       DepthConfig        `toml:"depth"`
	Instruments []InstrumentConfig `toml:"instruments"`
	Redis       RedisConfig        `toml:"redis"`
	Postgres    PostgresConfig     `toml:"postgres"`
	S3          S3Config           `toml:"s3"`
	Archive     ArchiveConfig      `toml:"archive"`
	Server      ServerConfig       `toml:"server"`
	Notify      NotifyConfig       `toml:"notify"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`
}

// DhanConfig holds the broker credentials and feed endpoints. The access
// token and client id are issued by the REST login flow and used verbatim.
type DhanConfig struct {
	ClientID    string `toml:"client_id"`
	AccessToken string `toml:"access_token"`
	FeedURL     string `toml:"feed_url"`
	DepthURL    string `toml:"depth_url"`
}

// FeedConfig tunes the connection lifecycle shared by both feeds.
type FeedConfig struct {
	ConnectTimeout    duration `toml:"connect_timeout"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	ReconnectAttempts int      `toml:"reconnect_attempts"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
	QueueSize         int      `toml:"queue_size"`
	BatchSize         int      `toml:"batch_size"`
	SubscriptionLimit int      `toml:"subscription_limit"`
	RateWarnPerSec    int      `toml:"rate_warn_per_sec"`
	ErrorThreshold    int      `toml:"error_threshold"`
	ErrorWindow       duration `toml:"error_window"`
	ProcessingJoin    duration `toml:"processing_join"`
	HeartbeatJoin     duration `toml:"heartbeat_join"`
}

// DepthConfig tunes snapshot assembly and analysis.
type DepthConfig struct {
	BufferWindow    duration `toml:"buffer_window"`
	HistoryCapacity int      `toml:"history_capacity"`
	MaxInstruments  int      `toml:"max_instruments"`
	AnalysisTTL     duration `toml:"analysis_ttl"`
	ExpirySweep     bool     `toml:"expiry_sweep"`
}

// InstrumentConfig is one instrument subscribed at startup.
type InstrumentConfig struct {
	Segment    string `toml:"segment"`
	SecurityID uint32 `toml:"security_id"`
	Mode       string `toml:"mode"`
}

// Instrument resolves the configured segment name.
func (i InstrumentConfig) Instrument() (domain.Instrument, error) {
	seg, err := domain.ParseSegment(i.Segment)
	if err != nil {
		return domain.Instrument{}, err
	}
	return domain.Instrument{ID: i.SecurityID, Segment: seg}, nil
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters for the signal
// journal.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls snapshot archiving to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Prefix        string   `toml:"prefix"`
	FlushInterval duration `toml:"flush_interval"`
	MaxBatch      int      `toml:"max_batch"`
	QueueSize     int      `toml:"queue_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig configures operator alerts. Alerts are sent only when at least
// one channel is configured.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// MinConfidence is the signal confidence at or above which an actionable
	// signal raises a strong_signal alert.
	MinConfidence float64 `toml:"min_confidence"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Dhan: DhanConfig{
			FeedURL:  "wss://api-feed.dhan.co",
			DepthURL: "wss://depth-api-feed.dhan.co/twentydepth",
		},
		Feed: FeedConfig{
			ConnectTimeout:    duration{10 * time.Second},
			HeartbeatInterval: duration{30 * time.Second},
			ReconnectAttempts: 5,
			ReconnectDelay:    duration{5 * time.Second},
			QueueSize:         4096,
			BatchSize:         64,
			SubscriptionLimit: 5000,
			RateWarnPerSec:    1000,
			ErrorThreshold:    10,
			ErrorWindow:       duration{5 * time.Minute},
			ProcessingJoin:    duration{2 * time.Second},
			HeartbeatJoin:     duration{time.Second},
		},
		Depth: DepthConfig{
			BufferWindow:    duration{time.Second},
			HistoryCapacity: 100,
			MaxInstruments:  50,
			AnalysisTTL:     duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:     true,
			Addr:        "localhost:6379",
			DB:          0,
			PoolSize:    20,
			MaxRetries:  3,
			SnapshotTTL: duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "depthfeed",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "ap-south-1",
			Bucket:         "depthfeed-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Prefix:        "archive/depth",
			FlushInterval: duration{time.Minute},
			MaxBatch:      5000,
			QueueSize:     10000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events:        []string{"breaker_trip", "reconnect_exhausted"},
			MinConfidence: 0.8,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ticker": true,
	"depth":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var err error
	add := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: ticker, depth, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Dhan
	if c.Dhan.ClientID == "" {
		add("dhan: client_id must not be empty")
	}
	if c.Dhan.AccessToken == "" {
		add("dhan: access_token must not be empty")
	}

	// Feed
	if c.Feed.ConnectTimeout.Duration <= 0 {
		add("feed: connect_timeout must be > 0")
	}
	if c.Feed.HeartbeatInterval.Duration <= 0 {
		add("feed: heartbeat_interval must be > 0")
	}
	if c.Feed.ReconnectAttempts < 0 {
		add("feed: reconnect_attempts must be >= 0")
	}
	if c.Feed.ReconnectDelay.Duration < 0 {
		add("feed: reconnect_delay must be >= 0")
	}
	if c.Feed.QueueSize < 1 {
		add("feed: queue_size must be >= 1")
	}
	if c.Feed.BatchSize < 1 {
		add("feed: batch_size must be >= 1")
	}
	if c.Feed.ErrorThreshold < 0 {
		add("feed: error_threshold must be >= 0")
	}

	// Depth
	if c.Depth.BufferWindow.Duration <= 0 {
		add("depth: buffer_window must be > 0")
	}
	if c.Depth.HistoryCapacity < 2 {
		add("depth: history_capacity must be >= 2")
	}
	if c.Depth.MaxInstruments < 1 || c.Depth.MaxInstruments > 50 {
		add("depth: max_instruments must be 1-50, got %d", c.Depth.MaxInstruments)
	}

	// Instruments
	depthCount := 0
	for i, in := range c.Instruments {
		inst, ierr := in.Instrument()
		if ierr != nil {
			add("instruments[%d]: %v", i, ierr)
			continue
		}
		m, merr := domain.ParseMode(in.Mode)
		if merr != nil {
			add("instruments[%d]: %v", i, merr)
			continue
		}
		if m == domain.ModeDepth {
			depthCount++
			if inst.Segment != domain.SegmentNSEEquity && inst.Segment != domain.SegmentNSEFNO {
				add("instruments[%d]: depth is only served for NSE_EQ and NSE_FNO, got %s", i, inst.Segment)
			}
		}
	}
	if depthCount > c.Depth.MaxInstruments {
		add("instruments: %d depth instruments exceed depth.max_instruments %d", depthCount, c.Depth.MaxInstruments)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			add("s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.FlushInterval.Duration <= 0 {
			add("archive: flush_interval must be > 0")
		}
		if c.Archive.MaxBatch < 1 {
			add("archive: max_batch must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
	}

	// Notify
	if c.Notify.MinConfidence < 0 || c.Notify.MinConfidence > 1 {
		add("notify: min_confidence must be 0-1, got %g", c.Notify.MinConfidence)
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
