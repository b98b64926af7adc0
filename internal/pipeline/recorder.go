// Package pipeline moves analysed depth updates, quotes and feed events out
// of the feed goroutines into the caches, the signal bus, the journal and the
// archive.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/metrics"
)

const (
	// SignalChannel is the pub/sub channel every generated signal is
	// published on.
	SignalChannel = "ch:signal"
	// SignalStream is the stream actionable signals are appended to.
	SignalStream = "stream:signal"

	defaultRecorderQueue = 4096
	defaultRecorderBatch = 64
	sinkTimeout          = 5 * time.Second
)

// Sinks are the destinations a Recorder writes to. Any of them may be nil.
type Sinks struct {
	Snapshots domain.SnapshotCache
	Quotes    domain.QuoteCache
	Bus       domain.SignalBus
	Signals   domain.SignalStore
	Events    domain.EventStore
	Archiver  *Archiver
}

// RecorderConfig sizes the recorder queue.
type RecorderConfig struct {
	QueueSize int
	BatchSize int
}

type recordKind uint8

const (
	recordDepth recordKind = iota + 1
	recordQuote
	recordEvent
)

type record struct {
	kind   recordKind
	depth  domain.DepthUpdate
	quote  domain.Message
	feed   string
	event  string
	detail map[string]any
}

// Recorder is a bounded asynchronous sink. Feed callbacks hand it updates
// without blocking; a single worker writes them out in batches.
type Recorder struct {
	sinks  Sinks
	batch  int
	in     chan record
	logger *slog.Logger
}

// NewRecorder creates a Recorder writing to sinks.
func NewRecorder(sinks Sinks, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultRecorderQueue
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultRecorderBatch
	}
	return &Recorder{
		sinks:  sinks,
		batch:  cfg.BatchSize,
		in:     make(chan record, cfg.QueueSize),
		logger: logger.With(slog.String("component", "recorder")),
	}
}

// RecordDepth queues an analysed depth update. It has the shape of a depth
// subscriber callback.
func (r *Recorder) RecordDepth(u domain.DepthUpdate) {
	r.enqueue(record{kind: recordDepth, depth: u})
}

// RecordQuote queues a ticker, quote or full message.
func (r *Recorder) RecordQuote(msg domain.Message) {
	r.enqueue(record{kind: recordQuote, quote: msg})
}

// RecordEvent queues a feed lifecycle event for the event journal.
func (r *Recorder) RecordEvent(feed, event string, detail map[string]any) {
	r.enqueue(record{kind: recordEvent, feed: feed, event: event, detail: detail})
}

func (r *Recorder) enqueue(rec record) {
	select {
	case r.in <- rec:
	default:
		metrics.RecorderDrops.Inc()
	}
}

// Run writes queued records until ctx is cancelled. When an archiver is
// configured it runs in the same group.
func (r *Recorder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.logger.Info("recorder started")
		r.loop(ctx)
		r.logger.Info("recorder stopped")
		return nil
	})
	if r.sinks.Archiver != nil {
		g.Go(func() error {
			return r.sinks.Archiver.Run(ctx)
		})
	}
	return g.Wait()
}

func (r *Recorder) loop(ctx context.Context) {
	batch := make([]record, 0, r.batch)
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-r.in:
			batch = append(batch[:0], rec)
		}
	drain:
		for len(batch) < r.batch {
			select {
			case rec := <-r.in:
				batch = append(batch, rec)
			default:
				break drain
			}
		}
		r.write(ctx, batch)
	}
}

// write flushes one batch. Failures are logged and counted per sink; a
// failing sink never blocks the others.
func (r *Recorder) write(ctx context.Context, batch []record) {
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	var journal []domain.SignalRecord
	for _, rec := range batch {
		switch rec.kind {
		case recordDepth:
			if sig := r.writeDepth(ctx, rec.depth); sig != nil {
				journal = append(journal, *sig)
			}
		case recordQuote:
			if r.sinks.Quotes != nil {
				if err := r.sinks.Quotes.SetQuote(ctx, rec.quote); err != nil {
					r.sinkFailed("quote_cache", err)
				}
			}
		case recordEvent:
			if r.sinks.Events != nil {
				if err := r.sinks.Events.Log(ctx, rec.feed, rec.event, rec.detail); err != nil {
					r.sinkFailed("event_store", err)
				}
			}
		}
	}

	if len(journal) > 0 && r.sinks.Signals != nil {
		if err := r.sinks.Signals.SaveBatch(ctx, journal); err != nil {
			r.sinkFailed("signal_store", err)
		}
	}
}

// writeDepth caches the update, publishes its signal and hands it to the
// archiver. It returns the journal record for actionable signals.
func (r *Recorder) writeDepth(ctx context.Context, u domain.DepthUpdate) *domain.SignalRecord {
	if r.sinks.Snapshots != nil {
		if err := r.sinks.Snapshots.SetDepth(ctx, u); err != nil {
			r.sinkFailed("snapshot_cache", err)
		}
	}
	if r.sinks.Archiver != nil {
		r.sinks.Archiver.Add(u)
	}

	rec := domain.SignalRecord{Signal: u.Signal, Metrics: u.Metrics}
	if r.sinks.Bus != nil {
		payload, err := json.Marshal(rec)
		if err != nil {
			r.sinkFailed("signal_bus", err)
		} else {
			if err := r.sinks.Bus.Publish(ctx, SignalChannel, payload); err != nil {
				r.sinkFailed("signal_bus", err)
			}
			if u.Signal.Actionable() {
				if err := r.sinks.Bus.StreamAppend(ctx, SignalStream, payload); err != nil {
					r.sinkFailed("signal_stream", err)
				}
			}
		}
	}

	if !u.Signal.Actionable() {
		return nil
	}
	return &rec
}

func (r *Recorder) sinkFailed(sink string, err error) {
	metrics.SinkErrors.WithLabelValues(sink).Inc()
	r.logger.Warn("sink write failed",
		slog.String("sink", sink),
		slog.String("error", err.Error()),
	)
}
