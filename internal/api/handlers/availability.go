package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/inventory"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/infrastructure/rediscache"
)

// StockBrowser reads the current per-bank stock snapshot.
type StockBrowser interface {
	Browse(ctx context.Context) ([]inventory.BankStock, error)
}

// AvailabilityHandler serves the aggregated stock view with a short-TTL
// cache in front of the inventory store.
type AvailabilityHandler struct {
	stocks StockBrowser
	cache  *rediscache.AvailabilityCache
	logger *zap.Logger
}

// NewAvailabilityHandler creates a new handler. cache may be nil, in
// which case every read hits the store.
func NewAvailabilityHandler(stocks StockBrowser, cache *rediscache.AvailabilityCache, logger *zap.Logger) *AvailabilityHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityHandler{stocks: stocks, cache: cache, logger: logger}
}

// Routes returns the handler routes
func (h *AvailabilityHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Browse)
	return r
}

// Browse handles GET /availability
func (h *AvailabilityHandler) Browse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cache != nil {
		if stocks, ok := h.cache.Get(ctx); ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"availability": stocks,
				"cached":       true,
			})
			return
		}
	}

	stocks, err := h.stocks.Browse(ctx)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	if h.cache != nil {
		h.cache.Set(ctx, stocks)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"availability": stocks,
		"cached":       false,
	})
}
