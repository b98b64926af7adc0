package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// DepthSource is the live depth feed.
type DepthSource interface {
	Latest(key domain.InstrumentKey) (domain.DepthUpdate, bool)
	Summary(key domain.InstrumentKey) (domain.DepthSummary, bool)
	History(key domain.InstrumentKey) []domain.DepthSnapshot
}

// DepthHandler serves depth snapshots, their analysis and summaries.
type DepthHandler struct {
	live   DepthSource
	cache  domain.SnapshotCache
	logger *slog.Logger
}

// NewDepthHandler creates a DepthHandler. live answers first; cache is the
// fallback for instruments this process does not subscribe. Either may be
// nil.
func NewDepthHandler(live DepthSource, cache domain.SnapshotCache, logger *slog.Logger) *DepthHandler {
	return &DepthHandler{live: live, cache: cache, logger: logger.With(slog.String("handler", "depth"))}
}

// GetDepth returns the latest analysed update for an instrument.
// GET /api/depth/{segment}/{id}
func (h *DepthHandler) GetDepth(w http.ResponseWriter, r *http.Request) {
	key, ok := instrumentKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid instrument")
		return
	}

	if h.live != nil {
		if u, ok := h.live.Latest(key); ok {
			writeJSON(w, http.StatusOK, u)
			return
		}
	}
	if h.cache != nil {
		u, err := h.cache.GetDepth(r.Context(), key)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, u)
			return
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.Error("snapshot cache read failed",
				slog.String("instrument", key.String()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "snapshot cache unavailable")
			return
		}
	}
	writeError(w, http.StatusNotFound, "no depth for "+key.String())
}

// GetSummary returns the depth summary for a live instrument.
// GET /api/depth/{segment}/{id}/summary
func (h *DepthHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	key, ok := instrumentKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid instrument")
		return
	}
	if h.live != nil {
		if s, ok := h.live.Summary(key); ok {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no depth for "+key.String())
}

// GetHistory returns the retained snapshots for a live instrument, oldest
// first.
// GET /api/depth/{segment}/{id}/history
func (h *DepthHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := instrumentKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid instrument")
		return
	}
	var snaps []domain.DepthSnapshot
	if h.live != nil {
		snaps = h.live.History(key)
	}
	if len(snaps) == 0 {
		writeError(w, http.StatusNotFound, "no depth for "+key.String())
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}
