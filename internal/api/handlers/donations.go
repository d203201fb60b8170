package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/api/middleware"
	recorder "github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/donation"
	domain "github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/donation"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/observability/metrics"
)

// DonationHandler handles donation endpoints
type DonationHandler struct {
	recorder *recorder.Recorder
	metrics  *metrics.Metrics
	cache    StockCache
	logger   *zap.Logger
}

// NewDonationHandler creates a new handler
func NewDonationHandler(rec *recorder.Recorder, m *metrics.Metrics, cache StockCache, logger *zap.Logger) *DonationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DonationHandler{recorder: rec, metrics: m, cache: cache, logger: logger}
}

// Routes returns the handler routes
func (h *DonationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Record)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}

// Record handles POST /donations
func (h *DonationHandler) Record(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}

	var in domain.RecordInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	d, err := h.recorder.Record(r.Context(), &in, user)
	if err != nil {
		if h.metrics != nil && fault.IsKind(err, fault.KindDonorNotEligible) {
			h.metrics.DonationsRejected.Inc()
		}
		writeFault(w, h.logger, err)
		return
	}
	if h.metrics != nil {
		h.metrics.DonationsRecorded.Inc()
	}
	// Recording replenished stock; the browse snapshot is stale.
	if h.cache != nil {
		h.cache.Invalidate(r.Context())
	}
	writeJSON(w, http.StatusCreated, d)
}

// Cancel handles POST /donations/{id}/cancel
func (h *DonationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.recorder.Cancel(r.Context(), id, user); err != nil {
		writeFault(w, h.logger, err)
		return
	}
	// Cancellation released the linked lot; the browse snapshot is stale.
	if h.cache != nil {
		h.cache.Invalidate(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
}
