// Package notify delivers operator alerts for feed incidents and strong
// signals to chat channels (Telegram, Discord). Alerts are queued without
// blocking the caller and sent by a single worker.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/alanyoungcy/depthfeed/internal/metrics"
)

// Alert event types.
const (
	EventBreakerTrip        = "breaker_trip"
	EventReconnectExhausted = "reconnect_exhausted"
	EventStrongSignal       = "strong_signal"
)

const (
	defaultQueueSize = 64
	sendTimeout      = 10 * time.Second
)

// Alert is one notification.
type Alert struct {
	Event string
	Title string
	Body  string
}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier filters alerts by event type and fans them out to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool // empty allows everything
	queue   chan Alert
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events listed in events are
// delivered; an empty list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan Alert, defaultQueueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Wants reports whether alerts of the given event type are delivered.
func (n *Notifier) Wants(event string) bool {
	return n.Enabled() && (len(n.events) == 0 || n.events[event])
}

// Notify queues a for delivery. It never blocks; filtered alerts and alerts
// that find the queue full are dropped and reported false.
func (n *Notifier) Notify(a Alert) bool {
	if !n.Wants(a.Event) {
		return false
	}
	select {
	case n.queue <- a:
		return true
	default:
		metrics.SinkErrors.WithLabelValues("notify_queue").Inc()
		n.logger.Warn("alert dropped, queue full", slog.String("event", a.Event))
		return false
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-n.queue:
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			if err := n.Send(sendCtx, a); err != nil {
				metrics.SinkErrors.WithLabelValues("notify").Inc()
			}
			cancel()
		}
	}
}

// Send delivers a to every sender synchronously. A failing sender does not
// prevent delivery to the others; all failures are combined in the result.
func (n *Notifier) Send(ctx context.Context, a Alert) error {
	var errs error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
			errs = multierr.Append(errs, err)
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("event", a.Event),
		)
	}
	return errs
}
