package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/donor"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
)

// DonorStore persists donors.
type DonorStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDonorStore creates the donor store.
func NewDonorStore(pool *pgxpool.Pool, logger *zap.Logger) *DonorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DonorStore{pool: pool, logger: logger}
}

// Get loads one donor by ID.
func (s *DonorStore) Get(ctx context.Context, id string) (*donor.Donor, error) {
	query := `
		SELECT id, blood_group, date_of_birth, last_donation_date, eligible, total_donations
		FROM donors
		WHERE id = $1
	`
	d := &donor.Donor{}
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.BloodGroup, &d.DateOfBirth,
		&d.LastDonationDate, &d.Eligible, &d.TotalDonations,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("donor %s not found", id)
	}
	if err != nil {
		return nil, fault.TransientStore(err, "donor lookup failed")
	}
	return d, nil
}

// markDonatedTx stamps the donor's last donation inside the recording
// transaction and bumps the derived donation count.
func markDonatedTx(ctx context.Context, tx pgx.Tx, donorID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE donors
		SET last_donation_date = CURRENT_DATE, total_donations = total_donations + 1
		WHERE id = $1
	`, donorID)
	if err != nil {
		return fault.TransientStore(err, "donor update failed")
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("donor %s not found", donorID)
	}
	return nil
}
