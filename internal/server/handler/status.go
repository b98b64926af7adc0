package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/feed"
)

// FeedSource is a running feed whose counters and subscriptions are reported.
type FeedSource interface {
	Stats() feed.Stats
	Subscriptions() []domain.Subscription
}

// StatusHandler serves the process status: mode, uptime and per-feed stats.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	feeds     []FeedSource
}

// NewStatusHandler creates a StatusHandler over the running feeds.
func NewStatusHandler(mode string, startedAt time.Time, feeds ...FeedSource) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, feeds: feeds}
}

type feedStatus struct {
	feed.Stats
	Subscriptions []domain.Subscription `json:"subscriptions"`
}

// GetStatus responds with the mode, uptime and each feed's connection stats.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	feeds := make([]feedStatus, 0, len(h.feeds))
	for _, f := range h.feeds {
		feeds = append(feeds, feedStatus{Stats: f.Stats(), Subscriptions: f.Subscriptions()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"feeds":          feeds,
	})
}
