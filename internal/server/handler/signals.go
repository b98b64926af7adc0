package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// SignalHandler serves the signal journal and the feed event log.
type SignalHandler struct {
	signals domain.SignalStore
	events  domain.EventStore
	logger  *slog.Logger
}

// NewSignalHandler creates a SignalHandler. Either store may be nil, in which
// case its endpoint answers 503.
func NewSignalHandler(signals domain.SignalStore, events domain.EventStore, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{signals: signals, events: events, logger: logger.With(slog.String("handler", "signals"))}
}

// ListSignals returns journaled signals newest first. Optional query
// parameters: segment and id to select one instrument, limit, offset, since,
// until.
// GET /api/signals
func (h *SignalHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	if h.signals == nil {
		writeError(w, http.StatusServiceUnavailable, "signal journal disabled")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time bound: "+err.Error())
		return
	}

	var key *domain.InstrumentKey
	if seg := r.URL.Query().Get("segment"); seg != "" {
		var s domain.Segment
		if err := s.UnmarshalText([]byte(seg)); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "id is required with segment")
			return
		}
		k := domain.Key(s, uint32(id))
		key = &k
	}

	recs, err := h.signals.ListRecent(r.Context(), key, opts)
	if err != nil {
		h.logger.Error("list signals failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	if recs == nil {
		recs = []domain.SignalRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ListEvents returns feed lifecycle events newest first. Optional query
// parameters: feed, limit, offset, since, until.
// GET /api/events
func (h *SignalHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event journal disabled")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time bound: "+err.Error())
		return
	}
	events, err := h.events.List(r.Context(), r.URL.Query().Get("feed"), opts)
	if err != nil {
		h.logger.Error("list events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.FeedEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
