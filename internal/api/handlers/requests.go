package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/api/middleware"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/request"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/infrastructure/postgres"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/lifecycle"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/observability/metrics"
)

// StockCache is the availability snapshot the mutation endpoints drop
// after a successful stock change. May be nil when no cache is deployed.
type StockCache interface {
	Invalidate(ctx context.Context)
}

// RequestHandler handles blood request endpoints
type RequestHandler struct {
	service *lifecycle.Service
	metrics *metrics.Metrics
	cache   StockCache
	logger  *zap.Logger
}

// NewRequestHandler creates a new handler
func NewRequestHandler(service *lifecycle.Service, m *metrics.Metrics, cache StockCache, logger *zap.Logger) *RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestHandler{service: service, metrics: m, cache: cache, logger: logger}
}

// Routes returns the handler routes
func (h *RequestHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Post("/{id}/responses", h.Respond)
	return r
}

// Create handles POST /requests
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}

	var in request.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	start := time.Now()
	result, err := h.service.CreateRequest(r.Context(), &in, user)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RequestsCreated.WithLabelValues(string(result.Request.Priority)).Inc()
		h.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
		if result.RoutedBankCount == 0 {
			h.metrics.RoutingEmptyPasses.Inc()
		} else {
			h.metrics.RoutingAssignments.Add(float64(result.RoutedBankCount))
		}
	}

	writeJSON(w, http.StatusCreated, result)
}

// Get handles GET /requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}

	detail, err := h.service.GetRequest(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// List handles GET /requests
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}

	q := r.URL.Query()
	f := postgres.Filters{
		Status:      request.Status(q.Get("status")),
		BloodGroup:  q.Get("blood_group"),
		Priority:    request.Priority(q.Get("priority")),
		RequesterID: q.Get("requester_id"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
			return
		}
		f.Limit = n
	}

	requests, err := h.service.ListRequests(r.Context(), f, user)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}

// Update handles PATCH /requests/{id}
func (h *RequestHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}

	var p request.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.service.UpdateRequest(r.Context(), id, &p, user); err != nil {
		writeFault(w, h.logger, err)
		return
	}
	if h.metrics != nil && p.Cancel {
		h.metrics.RequestsCancelled.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "updated"})
}

// RespondRequest is the request body for a blood bank routing response
type RespondRequest struct {
	BloodBankID  string                `json:"blood_bank_id"`
	Action       request.RoutingAction `json:"action"`
	UnitsOffered int                   `json:"units_offered,omitempty"`
	Notes        string                `json:"notes,omitempty"`
}

// Respond handles POST /requests/{id}/responses
func (h *RequestHandler) Respond(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}

	var body RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if body.BloodBankID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "blood_bank_id is required"})
		return
	}

	id := chi.URLParam(r, "id")
	in := &lifecycle.RespondInput{
		Action:       body.Action,
		UnitsOffered: body.UnitsOffered,
		Notes:        body.Notes,
	}
	if err := h.service.RespondToRouting(r.Context(), id, body.BloodBankID, in, user); err != nil {
		if h.metrics != nil && fault.IsKind(err, fault.KindInsufficientStock) {
			h.metrics.ReserveFailures.Inc()
		}
		writeFault(w, h.logger, err)
		return
	}
	if body.Action == request.ActionFulfill {
		if h.metrics != nil {
			h.metrics.RequestsFulfilled.Inc()
		}
		// Fulfillment consumed stock; the browse snapshot is stale.
		if h.cache != nil {
			h.cache.Invalidate(r.Context())
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"request_id":    id,
		"blood_bank_id": body.BloodBankID,
		"action":        string(body.Action),
	})
}
