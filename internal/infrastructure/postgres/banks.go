package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
)

// BloodBank is a registered supplying bank. Registration and approval
// live outside the engine; the engine only reads the roster.
type BloodBank struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	City   string `json:"city,omitempty"`
	Active bool   `json:"active"`
}

// BankStore reads the blood bank roster.
type BankStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewBankStore creates the bank store.
func NewBankStore(pool *pgxpool.Pool, logger *zap.Logger) *BankStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BankStore{pool: pool, logger: logger}
}

// Get loads one bank by ID.
func (s *BankStore) Get(ctx context.Context, id string) (*BloodBank, error) {
	b := &BloodBank{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(city, ''), active FROM blood_banks WHERE id = $1`,
		id).Scan(&b.ID, &b.Name, &b.City, &b.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("blood bank %s not found", id)
	}
	if err != nil {
		return nil, fault.TransientStore(err, "bank lookup failed")
	}
	return b, nil
}

// ExistsActive reports whether an active bank with the given ID exists.
func (s *BankStore) ExistsActive(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blood_banks WHERE id = $1 AND active)`,
		id).Scan(&exists)
	if err != nil {
		return false, fault.TransientStore(err, "bank existence check failed")
	}
	return exists, nil
}
