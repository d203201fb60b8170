package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/blood"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/request"
)

// RoutingStore persists routing assignments and runs the transactional
// response operations that couple assignment state, request state, and
// the inventory ledger.
type RoutingStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewRoutingStore creates the routing store.
func NewRoutingStore(pool *pgxpool.Pool, logger *zap.Logger) *RoutingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutingStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("routing-store"),
	}
}

// UpsertAssignments inserts the fan-out rows for one request. Existing
// (request_id, blood_bank_id) pairs are left untouched, so re-running
// routing after a crash never duplicates assignments.
func (s *RoutingStore) UpsertAssignments(ctx context.Context, assignments []request.RoutingAssignment) (int, error) {
	if len(assignments) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fault.TransientStore(err, "begin assignment tx")
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO request_routing (request_id, blood_bank_id, distance_km, status, notes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id, blood_bank_id) DO NOTHING
	`

	created := 0
	for _, a := range assignments {
		tag, err := tx.Exec(ctx, query, a.RequestID, a.BloodBankID, a.DistanceKM, a.Status, a.Notes)
		if err != nil {
			return 0, fault.TransientStore(err, "assignment insert failed")
		}
		created += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fault.TransientStore(err, "commit assignment tx")
	}
	return created, nil
}

const assignmentColumns = `
	request_id, blood_bank_id, distance_km, status, units_offered, notes, created_at, updated_at
`

func scanAssignment(row pgx.Row) (*request.RoutingAssignment, error) {
	a := &request.RoutingAssignment{}
	err := row.Scan(
		&a.RequestID, &a.BloodBankID, &a.DistanceKM, &a.Status,
		&a.UnitsOffered, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("routing assignment not found")
		}
		return nil, fault.TransientStore(err, "assignment scan failed")
	}
	return a, nil
}

// Get loads one assignment by its composite key.
func (s *RoutingStore) Get(ctx context.Context, requestID, bankID string) (*request.RoutingAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM request_routing WHERE request_id = $1 AND blood_bank_id = $2`
	return scanAssignment(s.pool.QueryRow(ctx, query, requestID, bankID))
}

// ListByRequest returns every assignment for a request, nearest first.
func (s *RoutingStore) ListByRequest(ctx context.Context, requestID string) ([]*request.RoutingAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM request_routing WHERE request_id = $1 ORDER BY distance_km ASC, blood_bank_id ASC`

	rows, err := s.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fault.TransientStore(err, "assignment list failed")
	}
	defer rows.Close()

	var out []*request.RoutingAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListByBank returns a bank's open assignments, the polling surface banks
// use to discover standard-mode work.
func (s *RoutingStore) ListByBank(ctx context.Context, bankID string, status request.RoutingStatus) ([]*request.RoutingAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM request_routing WHERE blood_bank_id = $1 AND status = $2 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, bankID, status)
	if err != nil {
		return nil, fault.TransientStore(err, "assignment list failed")
	}
	defer rows.Close()

	var out []*request.RoutingAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Accept moves one assignment assigned → accepted with the offered units,
// and promotes the request pending → approved if this is the first
// acceptance. Both updates share one transaction.
func (s *RoutingStore) Accept(ctx context.Context, requestID, bankID string, unitsOffered int, notes string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fault.TransientStore(err, "begin accept tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE request_routing
		SET status = 'accepted', units_offered = $3, notes = $4, updated_at = NOW()
		WHERE request_id = $1 AND blood_bank_id = $2 AND status = 'assigned'
	`, requestID, bankID, unitsOffered, notes)
	if err != nil {
		return fault.TransientStore(err, "accept update failed")
	}
	if tag.RowsAffected() == 0 {
		return s.explainAssignmentMiss(ctx, requestID, bankID, "approve", request.RoutingAssigned)
	}

	// First acceptance promotes the request; later ones leave it alone.
	if _, err := tx.Exec(ctx, `
		UPDATE blood_requests
		SET status = 'approved', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, requestID); err != nil {
		return fault.TransientStore(err, "request promote failed")
	}

	if err := tx.Commit(ctx); err != nil {
		return fault.TransientStore(err, "commit accept tx")
	}
	return nil
}

// Reject moves one assignment assigned → rejected and reports whether the
// request now has no assignment left that could still supply it.
func (s *RoutingStore) Reject(ctx context.Context, requestID, bankID, notes string) (allRejected bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fault.TransientStore(err, "begin reject tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE request_routing
		SET status = 'rejected', notes = $3, updated_at = NOW()
		WHERE request_id = $1 AND blood_bank_id = $2 AND status = 'assigned'
	`, requestID, bankID, notes)
	if err != nil {
		return false, fault.TransientStore(err, "reject update failed")
	}
	if tag.RowsAffected() == 0 {
		return false, s.explainAssignmentMiss(ctx, requestID, bankID, "reject", request.RoutingAssigned)
	}

	var remaining int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM request_routing
		WHERE request_id = $1 AND status <> 'rejected'
	`, requestID).Scan(&remaining)
	if err != nil {
		return false, fault.TransientStore(err, "remaining assignment count failed")
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fault.TransientStore(err, "commit reject tx")
	}
	return remaining == 0, nil
}

// Fulfill runs the fulfillment transaction: reserve the offered units
// from the bank's stock, move the assignment accepted → fulfilled, and
// move the request to finalStatus. Either all three apply or none do; an
// insufficient reserve surfaces as InsufficientStock with every prior
// status intact.
func (s *RoutingStore) Fulfill(ctx context.Context, requestID, bankID string, unitsOffered int, finalStatus request.Status) error {
	ctx, span := s.tracer.Start(ctx, "routing_fulfill",
		trace.WithAttributes(
			attribute.String("request_id", requestID),
			attribute.String("blood_bank_id", bankID),
			attribute.Int("units", unitsOffered),
		))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fault.TransientStore(err, "begin fulfill tx")
	}
	defer tx.Rollback(ctx)

	var group string
	err = tx.QueryRow(ctx, `SELECT blood_group FROM blood_requests WHERE id = $1`, requestID).Scan(&group)
	if errors.Is(err, pgx.ErrNoRows) {
		return fault.NotFound("blood request %s not found", requestID)
	}
	if err != nil {
		return fault.TransientStore(err, "request lookup failed")
	}

	tag, err := tx.Exec(ctx, `
		UPDATE request_routing
		SET status = 'fulfilled', units_offered = $3, updated_at = NOW()
		WHERE request_id = $1 AND blood_bank_id = $2 AND status = 'accepted'
	`, requestID, bankID, unitsOffered)
	if err != nil {
		return fault.TransientStore(err, "fulfill update failed")
	}
	if tag.RowsAffected() == 0 {
		return s.explainAssignmentMiss(ctx, requestID, bankID, "fulfill", request.RoutingAccepted)
	}

	if err := reserveTx(ctx, tx, bankID, blood.Group(group), unitsOffered); err != nil {
		span.RecordError(err)
		return err
	}

	tag, err = tx.Exec(ctx, `
		UPDATE blood_requests
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'approved'
	`, requestID, finalStatus)
	if err != nil {
		return fault.TransientStore(err, "request finalize failed")
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("request %s is not approved, cannot fulfill", requestID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fault.TransientStore(err, "commit fulfill tx")
	}
	return nil
}

func (s *RoutingStore) explainAssignmentMiss(ctx context.Context, requestID, bankID, action string, want request.RoutingStatus) error {
	var status request.RoutingStatus
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM request_routing WHERE request_id = $1 AND blood_bank_id = $2`,
		requestID, bankID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fault.NotFound("no routing assignment for request %s and bank %s", requestID, bankID)
	}
	if err != nil {
		return fault.TransientStore(err, "assignment status lookup failed")
	}
	return fault.Conflict("cannot %s assignment in status %s, must be %s", action, status, want)
}
