// Package lifecycle owns the blood request state machine from creation
// through fulfillment, rejection, or cancellation, and reconciles blood
// bank routing responses against it.
package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/identity"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/request"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/infrastructure/postgres"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/routing"
)

// nowUTC is a variable for testing
var nowUTC = func() time.Time { return time.Now().UTC() }

// RequestStore persists blood requests. Guarded mutations return
// Conflict when the request is not in the state the guard demands.
type RequestStore interface {
	Create(ctx context.Context, r *request.BloodRequest) error
	Get(ctx context.Context, id string) (*request.BloodRequest, error)
	List(ctx context.Context, f postgres.Filters) ([]*request.BloodRequest, error)
	ApplyPatch(ctx context.Context, id string, p *request.Patch) error
	CancelPending(ctx context.Context, id string) error
	FlagManualRouting(ctx context.Context, id string) error
}

// RoutingStore persists assignments and runs the transactional response
// operations. Fulfill couples the inventory decrement, the assignment
// transition, and the request transition in one transaction.
type RoutingStore interface {
	Get(ctx context.Context, requestID, bankID string) (*request.RoutingAssignment, error)
	ListByRequest(ctx context.Context, requestID string) ([]*request.RoutingAssignment, error)
	Accept(ctx context.Context, requestID, bankID string, unitsOffered int, notes string) error
	Reject(ctx context.Context, requestID, bankID, notes string) (allRejected bool, err error)
	Fulfill(ctx context.Context, requestID, bankID string, unitsOffered int, finalStatus request.Status) error
}

// Router runs the fan-out pass for a new request.
type Router interface {
	Route(ctx context.Context, req *request.BloodRequest) (*routing.Result, error)
}

// Emitter is the fire-and-forget sink for notifications, audit records,
// and the request/routing event streams.
type Emitter interface {
	Notify(ctx context.Context, ev postgres.NotificationEvent) error
	Audit(ctx context.Context, ev postgres.AuditEvent) error
	RequestEvent(ctx context.Context, ev postgres.RequestLifecycleEvent) error
	RoutingEvent(ctx context.Context, ev postgres.RoutingLifecycleEvent) error
}

// Service exposes the request lifecycle operations.
type Service struct {
	requests RequestStore
	routings RoutingStore
	router   Router
	emitter  Emitter
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewService creates the lifecycle service.
func NewService(requests RequestStore, routings RoutingStore, router Router, emitter Emitter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		requests: requests,
		routings: routings,
		router:   router,
		emitter:  emitter,
		logger:   logger,
		tracer:   otel.Tracer("lifecycle"),
	}
}

// CreateResult is returned by CreateRequest.
type CreateResult struct {
	Request         *request.BloodRequest `json:"request"`
	RoutedBankCount int                   `json:"routed_bank_count"`
	RoutingMode     string                `json:"routing_mode"`
}

// CreateRequest validates the input, persists the request as pending,
// and runs the routing pass synchronously. The routing fan-out is not
// part of the creation transaction: a crash between the two is recovered
// by re-running routing, which is idempotent.
func (s *Service) CreateRequest(ctx context.Context, in *request.CreateInput, u identity.User) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "create_request")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	if !u.IsAdmin() && in.RequesterID != u.ID {
		return nil, fault.Authorization("user %s may not raise requests for %s", u.ID, in.RequesterID)
	}

	req := request.New(uuid.New().String(), in, nowUTC())
	span.SetAttributes(attribute.String("request_id", req.ID))

	if err := s.requests.Create(ctx, req); err != nil {
		span.RecordError(err)
		return nil, err
	}

	result, err := s.router.Route(ctx, req)
	if err != nil {
		// The request is committed; routing can be retried. Surface the
		// request with zero assignments rather than failing creation.
		s.logger.Error("routing pass failed",
			zap.String("request_id", req.ID),
			zap.Error(err))
		result = &routing.Result{}
	}

	s.audit(ctx, u.ID, "request_created", req.ID, map[string]interface{}{
		"blood_group":  req.BloodGroup,
		"units":        req.UnitsRequired,
		"priority":     req.Priority,
		"routed_banks": len(result.AssignedBanks),
	})
	s.publishRequestEvent(ctx, req, "created", req.Status, u.ID)

	s.logger.Info("blood request created",
		zap.String("request_id", req.ID),
		zap.String("blood_group", req.BloodGroup.String()),
		zap.String("priority", string(req.Priority)),
		zap.Int("routed_banks", len(result.AssignedBanks)))

	return &CreateResult{
		Request:         req,
		RoutedBankCount: len(result.AssignedBanks),
		RoutingMode:     result.Mode,
	}, nil
}

// RequestDetail is a request together with its routing assignments.
type RequestDetail struct {
	Request     *request.BloodRequest        `json:"request"`
	Assignments []*request.RoutingAssignment `json:"assignments"`
}

// GetRequest loads a request and its routing detail, enforcing view
// authorization.
func (s *Service) GetRequest(ctx context.Context, id string, u identity.User) (*RequestDetail, error) {
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CanView(req, u); err != nil {
		return nil, err
	}

	assignments, err := s.routings.ListByRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RequestDetail{Request: req, Assignments: assignments}, nil
}

// ListRequests returns requests visible to the caller. Non-admin
// requesters only see their own; banks see everything (they browse
// open demand).
func (s *Service) ListRequests(ctx context.Context, f postgres.Filters, u identity.User) ([]*request.BloodRequest, error) {
	if !u.IsAdmin() && u.Role != identity.RoleBloodBank {
		f.RequesterID = u.ID
	}
	return s.requests.List(ctx, f)
}

// UpdateRequest applies a patch to a pending request, or cancels it.
// Cancellation is only permitted while the request is still pending.
func (s *Service) UpdateRequest(ctx context.Context, id string, p *request.Patch, u identity.User) error {
	ctx, span := s.tracer.Start(ctx, "update_request",
		trace.WithAttributes(attribute.String("request_id", id)))
	defer span.End()

	if err := p.Validate(); err != nil {
		return err
	}

	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := CanUpdate(req, u); err != nil {
		return err
	}

	if p.Cancel {
		if err := s.requests.CancelPending(ctx, id); err != nil {
			span.RecordError(err)
			return err
		}
		s.audit(ctx, u.ID, "request_cancelled", id, nil)
		s.publishRequestEvent(ctx, req, "cancelled", request.StatusCancelled, u.ID)
		s.logger.Info("blood request cancelled", zap.String("request_id", id))
		return nil
	}

	if err := s.requests.ApplyPatch(ctx, id, p); err != nil {
		span.RecordError(err)
		return err
	}
	s.audit(ctx, u.ID, "request_updated", id, nil)
	return nil
}

// RespondInput is a blood bank's response to its routing assignment.
type RespondInput struct {
	Action       request.RoutingAction `json:"action"`
	UnitsOffered int                   `json:"units_offered,omitempty"`
	Notes        string                `json:"notes,omitempty"`
}

// RespondToRouting applies a bank's approve, reject, or fulfill response.
//
// approve: assignment assigned → accepted with unitsOffered; the first
// acceptance promotes the request to approved.
//
// reject: only that assignment flips; if every assignment is now
// rejected the request is flagged for manual routing, never silently
// lost.
//
// fulfill: reserves the offered units from the bank's stock and settles
// both statuses in one transaction; InsufficientStock rolls the whole
// operation back with every status unchanged.
func (s *Service) RespondToRouting(ctx context.Context, requestID, bankID string, in *RespondInput, u identity.User) error {
	ctx, span := s.tracer.Start(ctx, "respond_to_routing",
		trace.WithAttributes(
			attribute.String("request_id", requestID),
			attribute.String("blood_bank_id", bankID),
			attribute.String("action", string(in.Action)),
		))
	defer span.End()

	if !in.Action.Valid() {
		return fault.Validation("invalid routing action %q", in.Action)
	}
	if in.Action != request.ActionReject && in.UnitsOffered <= 0 {
		return fault.Validation("units_offered must be positive for %s", in.Action)
	}

	assignment, err := s.routings.Get(ctx, requestID, bankID)
	if err != nil {
		return err
	}
	if err := CanRespond(assignment, u); err != nil {
		return err
	}
	// Fail before any write when the assignment cannot take this action.
	if _, err := request.NextRoutingStatus(assignment.Status, in.Action); err != nil {
		return err
	}

	switch in.Action {
	case request.ActionApprove:
		if err := s.routings.Accept(ctx, requestID, bankID, in.UnitsOffered, in.Notes); err != nil {
			span.RecordError(err)
			return err
		}
		s.notifyRequester(ctx, requestID, "request_approved",
			"A blood bank accepted your request")
		s.audit(ctx, u.ID, "routing_accepted", requestID, map[string]interface{}{
			"blood_bank_id": bankID,
			"units_offered": in.UnitsOffered,
		})
		s.publishRoutingEvent(ctx, requestID, bankID, "accepted", in.UnitsOffered)

	case request.ActionReject:
		allRejected, err := s.routings.Reject(ctx, requestID, bankID, in.Notes)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if allRejected {
			if err := s.requests.FlagManualRouting(ctx, requestID); err != nil {
				s.logger.Error("failed to flag request for manual routing",
					zap.String("request_id", requestID), zap.Error(err))
			}
		}
		s.audit(ctx, u.ID, "routing_rejected", requestID, map[string]interface{}{
			"blood_bank_id": bankID,
		})
		s.publishRoutingEvent(ctx, requestID, bankID, "rejected", 0)

	case request.ActionFulfill:
		req, err := s.requests.Get(ctx, requestID)
		if err != nil {
			return err
		}
		final := request.StatusPartiallyFulfilled
		if in.UnitsOffered >= req.UnitsRequired {
			final = request.StatusFulfilled
		}
		if err := s.routings.Fulfill(ctx, requestID, bankID, in.UnitsOffered, final); err != nil {
			span.RecordError(err)
			return err
		}
		s.notifyRequester(ctx, requestID, "request_fulfilled",
			"Your blood request has been fulfilled")
		s.audit(ctx, u.ID, "routing_fulfilled", requestID, map[string]interface{}{
			"blood_bank_id": bankID,
			"units":         in.UnitsOffered,
			"final_status":  final,
		})
		s.publishRoutingEvent(ctx, requestID, bankID, "fulfilled", in.UnitsOffered)
		s.publishRequestEvent(ctx, req, string(final), final, u.ID)
	}

	s.logger.Info("routing response applied",
		zap.String("request_id", requestID),
		zap.String("blood_bank_id", bankID),
		zap.String("action", string(in.Action)))
	return nil
}

func (s *Service) notifyRequester(ctx context.Context, requestID, category, message string) {
	if s.emitter == nil {
		return
	}
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		s.logger.Warn("notify lookup failed", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	ev := postgres.NotificationEvent{
		UserID:     req.RequesterID,
		Message:    message,
		Category:   category,
		EntityID:   requestID,
		EntityType: "blood_request",
	}
	if err := s.emitter.Notify(ctx, ev); err != nil {
		s.logger.Warn("notification emit failed",
			zap.String("request_id", requestID), zap.Error(err))
	}
}

func (s *Service) publishRequestEvent(ctx context.Context, req *request.BloodRequest, eventType string, status request.Status, actorID string) {
	if s.emitter == nil {
		return
	}
	ev := postgres.RequestLifecycleEvent{
		RequestID:  req.ID,
		EventType:  eventType,
		Status:     string(status),
		Priority:   string(req.Priority),
		BloodGroup: req.BloodGroup.String(),
		ActorID:    actorID,
	}
	if err := s.emitter.RequestEvent(ctx, ev); err != nil {
		s.logger.Warn("request event publish failed",
			zap.String("request_id", req.ID), zap.Error(err))
	}
}

func (s *Service) publishRoutingEvent(ctx context.Context, requestID, bankID, eventType string, unitsOffered int) {
	if s.emitter == nil {
		return
	}
	ev := postgres.RoutingLifecycleEvent{
		RequestID:    requestID,
		BloodBankID:  bankID,
		EventType:    eventType,
		UnitsOffered: unitsOffered,
	}
	if err := s.emitter.RoutingEvent(ctx, ev); err != nil {
		s.logger.Warn("routing event publish failed",
			zap.String("request_id", requestID), zap.Error(err))
	}
}

func (s *Service) audit(ctx context.Context, actorID, action, entityID string, details map[string]interface{}) {
	if s.emitter == nil {
		return
	}
	var raw json.RawMessage
	if details != nil {
		raw, _ = json.Marshal(details)
	}
	ev := postgres.AuditEvent{
		ActorID:    actorID,
		Action:     action,
		EntityType: "blood_request",
		EntityID:   entityID,
		Details:    raw,
	}
	if err := s.emitter.Audit(ctx, ev); err != nil {
		s.logger.Warn("audit emit failed", zap.String("entity_id", entityID), zap.Error(err))
	}
}
