package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/request"
)

// RequestStore persists blood requests.
type RequestStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRequestStore creates the request store.
func NewRequestStore(pool *pgxpool.Pool, logger *zap.Logger) *RequestStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestStore{pool: pool, logger: logger}
}

const requestColumns = `
	id, requester_id, requester_type, blood_group, units_required, priority,
	status, patient_name, patient_age, patient_gender, purpose, doctor_contact,
	required_by, needs_manual_routing, created_at, updated_at
`

func scanRequest(row pgx.Row) (*request.BloodRequest, error) {
	r := &request.BloodRequest{}
	err := row.Scan(
		&r.ID, &r.RequesterID, &r.RequesterType, &r.BloodGroup,
		&r.UnitsRequired, &r.Priority, &r.Status,
		&r.Patient.Name, &r.Patient.Age, &r.Patient.Gender,
		&r.Patient.Purpose, &r.Patient.DoctorContact,
		&r.RequiredBy, &r.NeedsManualRouting, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("blood request not found")
		}
		return nil, fault.TransientStore(err, "request scan failed")
	}
	return r, nil
}

// Create inserts a new pending request.
func (s *RequestStore) Create(ctx context.Context, r *request.BloodRequest) error {
	query := `
		INSERT INTO blood_requests
		(id, requester_id, requester_type, blood_group, units_required, priority,
		 status, patient_name, patient_age, patient_gender, purpose, doctor_contact, required_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query,
		r.ID, r.RequesterID, r.RequesterType, r.BloodGroup,
		r.UnitsRequired, r.Priority, r.Status,
		r.Patient.Name, r.Patient.Age, r.Patient.Gender,
		r.Patient.Purpose, r.Patient.DoctorContact, r.RequiredBy,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fault.TransientStore(err, "request insert failed")
	}
	return nil
}

// Get loads one request by ID.
func (s *RequestStore) Get(ctx context.Context, id string) (*request.BloodRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM blood_requests WHERE id = $1`
	return scanRequest(s.pool.QueryRow(ctx, query, id))
}

// Filters narrows a request listing. Zero values mean "any".
type Filters struct {
	Status      request.Status
	BloodGroup  string
	Priority    request.Priority
	RequesterID string
	Limit       int
}

// List returns requests matching the filters, most urgent first then
// newest first. Every predicate is parameter-bound.
func (s *RequestStore) List(ctx context.Context, f Filters) ([]*request.BloodRequest, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.BloodGroup != "" {
		add("blood_group = $%d", f.BloodGroup)
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if f.RequesterID != "" {
		add("requester_id = $%d", f.RequesterID)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s FROM blood_requests
		%s
		ORDER BY
			CASE priority
				WHEN 'emergency' THEN 0
				WHEN 'urgent' THEN 1
				WHEN 'normal' THEN 2
				ELSE 3
			END,
			created_at DESC
		LIMIT $%d
	`, requestColumns, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fault.TransientStore(err, "request list failed")
	}
	defer rows.Close()

	var out []*request.BloodRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApplyPatch updates the mutable fields of a pending request. Columns not
// present in the patch are untouched. The pending guard is part of the
// UPDATE, so a request approved concurrently cannot be edited.
func (s *RequestStore) ApplyPatch(ctx context.Context, id string, p *request.Patch) error {
	query := `
		UPDATE blood_requests
		SET units_required = COALESCE($2, units_required),
		    priority       = COALESCE($3, priority),
		    required_by    = COALESCE($4, required_by),
		    updated_at     = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := s.pool.Exec(ctx, query, id, p.UnitsRequired, p.Priority, p.RequiredBy)
	if err != nil {
		return fault.TransientStore(err, "request patch failed")
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id, "edit", request.StatusPending)
	}
	return nil
}

// CancelPending cancels a request only while it is still pending.
func (s *RequestStore) CancelPending(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE blood_requests
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fault.TransientStore(err, "request cancel failed")
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id, "cancel", request.StatusPending)
	}
	return nil
}

// FlagManualRouting marks a pending request as needing manual attention
// after every automatic assignment was rejected.
func (s *RequestStore) FlagManualRouting(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE blood_requests
		SET needs_manual_routing = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fault.TransientStore(err, "flag manual routing failed")
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("blood request %s not found", id)
	}
	return nil
}

// explainMiss distinguishes "not found" from "wrong state" after a
// guarded update matched no rows.
func (s *RequestStore) explainMiss(ctx context.Context, id, action string, want request.Status) error {
	var status request.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM blood_requests WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fault.NotFound("blood request %s not found", id)
	}
	if err != nil {
		return fault.TransientStore(err, "request status lookup failed")
	}
	return fault.Conflict("cannot %s request in status %s, must be %s", action, status, want)
}
