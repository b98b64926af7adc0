package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// QuoteSource is the live market feed.
type QuoteSource interface {
	Latest(key domain.InstrumentKey) (domain.Message, bool)
}

// QuoteHandler serves the latest market-feed message per instrument.
type QuoteHandler struct {
	live   QuoteSource
	cache  domain.QuoteCache
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler. Either source may be nil.
func NewQuoteHandler(live QuoteSource, cache domain.QuoteCache, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{live: live, cache: cache, logger: logger.With(slog.String("handler", "quote"))}
}

// GetQuote returns the latest ticker, quote or full message for an
// instrument. Cached entries only carry the last price and its time.
// GET /api/quote/{segment}/{id}
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	key, ok := instrumentKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid instrument")
		return
	}

	if h.live != nil {
		if msg, ok := h.live.Latest(key); ok {
			writeJSON(w, http.StatusOK, map[string]any{
				"kind":    msg.Kind().String(),
				"message": msg,
			})
			return
		}
	}
	if h.cache != nil {
		price, ts, err := h.cache.GetLastPrice(r.Context(), key)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{
				"kind": "cached",
				"message": map[string]any{
					"instrument_id":   key.ID,
					"segment":         key.Segment,
					"last_price":      price,
					"last_trade_time": ts.UTC().Format(time.RFC3339),
				},
			})
			return
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.Error("quote cache read failed",
				slog.String("instrument", key.String()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "quote cache unavailable")
			return
		}
	}
	writeError(w, http.StatusNotFound, "no quote for "+key.String())
}
