// Package metrics holds the Prometheus collectors exported by the feed
// connections, the depth pipeline and the recorder.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// FramesReceived counts raw frames read from a feed socket.
	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthfeed",
		Subsystem: "ws",
		Name:      "frames_received_total",
		Help:      "Total number of binary frames read from the feed",
	}, []string{"feed"})

	// FramesDropped counts frames dropped because the processing queue was full.
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthfeed",
		Subsystem: "ws",
		Name:      "frames_dropped_total",
		Help:      "Number of frames dropped because the processing queue was full",
	}, []string{"feed"})

	// DecodeErrors counts frames that failed to decode.
	DecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthfeed",
		Subsystem: "decoder",
		Name:      "errors_total",
		Help:      "Number of frames dropped as incomplete or malformed",
	}, []string{"feed"})

	// Reconnects counts reconnect attempts.
	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthfeed",
		Subsystem: "ws",
		Name:      "reconnect_attempts_total",
		Help:      "Number of reconnect attempts",
	}, []string{"feed"})

	// BreakerTrips counts forced reconnects caused by the error circuit breaker.
	BreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthfeed",
		Subsystem: "ws",
		Name:      "breaker_trips_total",
		Help:      "Number of forced reconnects caused by the error-rate breaker",
	}, []string{"feed"})

	// ConnectionState reports the connection phase (0 disconnected, 1
	// connecting, 2 open, 3 reconnecting).
	ConnectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "depthfeed",
		Subsystem: "ws",
		Name:      "connection_state",
		Help:      "Connection phase: 0 disconnected, 1 connecting, 2 open, 3 reconnecting",
	}, []string{"feed"})

	// Snapshots counts assembled depth snapshots.
	Snapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "depthfeed",
		Subsystem: "depth",
		Name:      "snapshots_total",
		Help:      "Number of two-sided depth snapshots assembled",
	})

	// Signals counts generated signals by type.
	Signals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthfeed",
		Subsystem: "depth",
		Name:      "signals_total",
		Help:      "Number of trading signals generated, by type",
	}, []string{"type"})

	// CallbackPanics counts subscriber callbacks that panicked.
	CallbackPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "depthfeed",
		Subsystem: "dispatch",
		Name:      "callback_panics_total",
		Help:      "Number of subscriber callbacks that panicked during dispatch",
	})

	// RecorderDrops counts updates dropped by the recorder's bounded queue.
	RecorderDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "depthfeed",
		Subsystem: "recorder",
		Name:      "drops_total",
		Help:      "Number of updates dropped because the recorder queue was full",
	})

	// SinkErrors counts failed writes to cache, bus, store or archive.
	SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthfeed",
		Subsystem: "recorder",
		Name:      "sink_errors_total",
		Help:      "Number of failed writes, by sink",
	}, []string{"sink"})

	// ArchivedSnapshots counts snapshots written to object storage.
	ArchivedSnapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "depthfeed",
		Subsystem: "archive",
		Name:      "snapshots_total",
		Help:      "Number of depth updates written to the archive",
	})
)

// Register registers all collectors with reg, or with the default registerer
// when reg is nil. Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			FramesReceived,
			FramesDropped,
			DecodeErrors,
			Reconnects,
			BreakerTrips,
			ConnectionState,
			Snapshots,
			Signals,
			CallbackPanics,
			RecorderDrops,
			SinkErrors,
			ArchivedSnapshots,
		)
	})
}

// Feed is the set of per-feed children, resolved once so the hot path does
// not look up label values per frame.
type Feed struct {
	Received     prometheus.Counter
	Dropped      prometheus.Counter
	DecodeErrors prometheus.Counter
	Reconnects   prometheus.Counter
	BreakerTrips prometheus.Counter
	State        prometheus.Gauge
}

// ForFeed returns the collectors labelled with the feed name.
func ForFeed(name string) Feed {
	return Feed{
		Received:     FramesReceived.WithLabelValues(name),
		Dropped:      FramesDropped.WithLabelValues(name),
		DecodeErrors: DecodeErrors.WithLabelValues(name),
		Reconnects:   Reconnects.WithLabelValues(name),
		BreakerTrips: BreakerTrips.WithLabelValues(name),
		State:        ConnectionState.WithLabelValues(name),
	}
}
