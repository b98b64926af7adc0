package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/metrics"
)

const (
	// DefaultArchivePrefix is the object key prefix for depth archives.
	DefaultArchivePrefix = "archive/depth"

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 16 << 20

	archiveContentType = "application/x-ndjson"
)

// ArchiverConfig controls batching of archived depth updates.
type ArchiverConfig struct {
	Prefix        string
	FlushInterval time.Duration
	MaxBatch      int
	QueueSize     int
}

func (c ArchiverConfig) withDefaults() ArchiverConfig {
	if c.Prefix == "" {
		c.Prefix = DefaultArchivePrefix
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Minute
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 5000
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 2 * c.MaxBatch
	}
	return c
}

// Archiver buffers depth updates and writes them to object storage as JSONL
// files at <prefix>/YYYY/MM/DD/HHMMSS-<seq>.jsonl, flushing every
// FlushInterval or whenever MaxBatch updates are pending.
type Archiver struct {
	writer domain.BlobWriter
	cfg    ArchiverConfig
	logger *slog.Logger
	now    func() time.Time

	in  chan domain.DepthUpdate
	seq int
}

// NewArchiver creates an Archiver writing through w.
func NewArchiver(w domain.BlobWriter, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Archiver{
		writer: w,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
		in:     make(chan domain.DepthUpdate, cfg.QueueSize),
	}
}

// Add queues u for archiving. It never blocks; it reports false when the
// queue is full and u was dropped.
func (a *Archiver) Add(u domain.DepthUpdate) bool {
	select {
	case a.in <- u:
		return true
	default:
		metrics.SinkErrors.WithLabelValues("archive_queue").Inc()
		return false
	}
}

// Run collects queued updates and flushes them until ctx is cancelled. The
// pending batch is flushed once more on shutdown with a bounded deadline.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started",
		slog.String("prefix", a.cfg.Prefix),
		slog.Duration("flush_interval", a.cfg.FlushInterval),
		slog.Int("max_batch", a.cfg.MaxBatch),
	)

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.DepthUpdate, 0, a.cfg.MaxBatch)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if _, err := a.Flush(ctx, batch); err != nil {
			metrics.SinkErrors.WithLabelValues("archive").Inc()
			a.logger.Error("archive flush failed",
				slog.Int("dropped", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued, then write it out.
			for {
				select {
				case u := <-a.in:
					batch = append(batch, u)
					continue
				default:
				}
				break
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			flush(shutdownCtx)
			cancel()
			a.logger.Info("archiver stopped")
			return nil
		case u := <-a.in:
			batch = append(batch, u)
			if len(batch) >= a.cfg.MaxBatch {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// Flush writes updates as one JSONL object and returns its key.
func (a *Archiver) Flush(ctx context.Context, updates []domain.DepthUpdate) (string, error) {
	if len(updates) == 0 {
		return "", nil
	}
	buf, err := marshalJSONL(updates)
	if err != nil {
		return "", fmt.Errorf("pipeline: archive marshal: %w", err)
	}

	a.seq++
	key := archiveKey(a.cfg.Prefix, a.now().UTC(), a.seq)

	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), archiveContentType)
	}
	if err != nil {
		return "", fmt.Errorf("pipeline: archive upload %s: %w", key, err)
	}

	metrics.ArchivedSnapshots.Add(float64(len(updates)))
	a.logger.Info("archived depth updates",
		slog.String("key", key),
		slog.Int("count", len(updates)),
		slog.Int("bytes", len(buf)),
	)
	return key, nil
}

func archiveKey(prefix string, t time.Time, seq int) string {
	return path.Join(prefix, t.Format("2006/01/02"), fmt.Sprintf("%s-%06d.jsonl", t.Format("150405"), seq))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
