// Package routing implements the policy engine that decides which blood
// banks are asked to supply a request, and in what order.
package routing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/blood"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/inventory"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/request"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/infrastructure/postgres"
)

// Ledger is the stock view the engine ranks candidates from.
type Ledger interface {
	CandidateBanks(ctx context.Context, group blood.Group, minUnits, limit int) ([]inventory.BankStock, error)
}

// AssignmentWriter persists the fan-out. Implementations must be
// idempotent on the (requestID, bloodBankID) key so a re-run after a
// crash never duplicates rows.
type AssignmentWriter interface {
	UpsertAssignments(ctx context.Context, assignments []request.RoutingAssignment) (int, error)
}

// Notifier delivers urgent notifications to banks and publishes routing
// stream events. Fire-and-forget: failures are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, ev postgres.NotificationEvent) error
	RoutingEvent(ctx context.Context, ev postgres.RoutingLifecycleEvent) error
}

// Scorer assigns an advisory distance to a ranked candidate. Rank is the
// candidate's ordinal in the stock-descending order, starting at zero.
// Real geo scoring can replace the default without touching the ranking.
type Scorer interface {
	Score(rank int, bank inventory.BankStock, req *request.BloodRequest) float64
}

// RankScorer derives distance from the candidate ordinal with a fixed
// kilometre step. Deterministic stand-in for geocoding.
type RankScorer struct {
	StepKM float64
}

// Score implements Scorer.
func (s RankScorer) Score(rank int, _ inventory.BankStock, _ *request.BloodRequest) float64 {
	return float64(rank+1) * s.StepKM
}

// Config holds the routing fan-out limits.
type Config struct {
	// EmergencyFanOut is how many banks an emergency broadcast reaches
	EmergencyFanOut int
	// StandardFanOut is how many banks a standard request targets
	StandardFanOut int
	// RankStepKM is the advisory distance step for RankScorer
	RankStepKM float64
}

// DefaultConfig returns the canonical fan-out limits.
func DefaultConfig() Config {
	return Config{
		EmergencyFanOut: 10,
		StandardFanOut:  5,
		RankStepKM:      5.0,
	}
}

// Engine runs the routing pass for newly created requests.
type Engine struct {
	ledger      Ledger
	assignments AssignmentWriter
	notifier    Notifier
	scorer      Scorer
	config      Config
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewEngine creates a routing engine. A nil scorer falls back to the
// rank-step scorer.
func NewEngine(ledger Ledger, assignments AssignmentWriter, notifier Notifier, scorer Scorer, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scorer == nil {
		scorer = RankScorer{StepKM: cfg.RankStepKM}
	}
	return &Engine{
		ledger:      ledger,
		assignments: assignments,
		notifier:    notifier,
		scorer:      scorer,
		config:      cfg,
		logger:      logger,
		tracer:      otel.Tracer("routing-engine"),
	}
}

// Result summarizes one routing pass.
type Result struct {
	Mode          string                      `json:"mode"`
	Candidates    int                         `json:"candidates"`
	AssignedBanks []request.RoutingAssignment `json:"assigned_banks"`
}

// Route selects candidate banks for the request and persists one
// assignment per selected bank. Emergency priority broadcasts to every
// bank holding any stock of the group, most stock first; other
// priorities target only banks able to cover the request alone. A pass
// that finds zero candidates is a valid outcome: the request stays
// pending and browseable until a bank or administrator picks it up.
func (e *Engine) Route(ctx context.Context, req *request.BloodRequest) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "route_request",
		trace.WithAttributes(
			attribute.String("request_id", req.ID),
			attribute.String("blood_group", req.BloodGroup.String()),
			attribute.String("priority", string(req.Priority)),
		))
	defer span.End()

	emergency := req.Priority == request.PriorityEmergency

	minUnits, limit, mode := req.UnitsRequired, e.config.StandardFanOut, "standard"
	if emergency {
		// Broadcast: any stock helps, partial fulfillment is acceptable.
		minUnits, limit, mode = 1, e.config.EmergencyFanOut, "emergency"
	}

	candidates, err := e.ledger.CandidateBanks(ctx, req.BloodGroup, minUnits, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	if len(candidates) == 0 {
		e.logger.Info("no candidate banks for request",
			zap.String("request_id", req.ID),
			zap.String("blood_group", req.BloodGroup.String()),
			zap.String("mode", mode))
		return &Result{Mode: mode, Candidates: 0}, nil
	}

	assignments := make([]request.RoutingAssignment, 0, len(candidates))
	for rank, bank := range candidates {
		assignments = append(assignments, request.RoutingAssignment{
			RequestID:   req.ID,
			BloodBankID: bank.BloodBankID,
			DistanceKM:  e.scorer.Score(rank, bank, req),
			Status:      request.RoutingAssigned,
		})
	}

	created, err := e.assignments.UpsertAssignments(ctx, assignments)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.logger.Info("request routed",
		zap.String("request_id", req.ID),
		zap.String("mode", mode),
		zap.Int("candidates", len(candidates)),
		zap.Int("created", created))

	e.publishAssigned(ctx, assignments)

	if emergency {
		e.broadcast(ctx, req, assignments)
	}

	return &Result{Mode: mode, Candidates: len(candidates), AssignedBanks: assignments}, nil
}

// publishAssigned emits one routing stream event per assignment. The
// stream is observational; a failed publish never fails the pass.
func (e *Engine) publishAssigned(ctx context.Context, assignments []request.RoutingAssignment) {
	if e.notifier == nil {
		return
	}
	for _, a := range assignments {
		ev := postgres.RoutingLifecycleEvent{
			RequestID:   a.RequestID,
			BloodBankID: a.BloodBankID,
			EventType:   "assigned",
			DistanceKM:  a.DistanceKM,
		}
		if err := e.notifier.RoutingEvent(ctx, ev); err != nil {
			e.logger.Warn("routing event publish failed",
				zap.String("request_id", a.RequestID),
				zap.String("blood_bank_id", a.BloodBankID),
				zap.Error(err))
		}
	}
}

// broadcast pushes one urgent notification per assigned bank. Standard
// mode skips this: banks discover assignments by polling their queue.
func (e *Engine) broadcast(ctx context.Context, req *request.BloodRequest, assignments []request.RoutingAssignment) {
	if e.notifier == nil {
		return
	}
	msg := fmt.Sprintf("EMERGENCY: %d units of %s needed by %s",
		req.UnitsRequired, req.BloodGroup, req.RequiredBy.Format("2006-01-02 15:04"))

	for _, a := range assignments {
		ev := postgres.NotificationEvent{
			UserID:     a.BloodBankID,
			Message:    msg,
			Category:   "emergency_request",
			EntityID:   req.ID,
			EntityType: "blood_request",
		}
		if err := e.notifier.Notify(ctx, ev); err != nil {
			e.logger.Warn("emergency notification failed",
				zap.String("request_id", req.ID),
				zap.String("blood_bank_id", a.BloodBankID),
				zap.Error(err))
		}
	}
}
