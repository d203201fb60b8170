package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/donation"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
)

// DonationStore persists donations and runs the transactional recording
// and cancellation operations that couple donations, donors, and the
// inventory ledger.
type DonationStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDonationStore creates the donation store.
func NewDonationStore(pool *pgxpool.Pool, logger *zap.Logger) *DonationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DonationStore{pool: pool, logger: logger}
}

// Record inserts the donation, stamps the donor, and replenishes the
// bank's stock with a new lot, all in one transaction. The donation comes
// back with its inventory linkage set.
func (s *DonationStore) Record(ctx context.Context, d *donation.Donation, v donation.Vitals, expiry time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fault.TransientStore(err, "begin donation tx")
	}
	defer tx.Rollback(ctx)

	item, err := replenishTx(ctx, tx, d.BloodBankID, d.BloodGroup, d.UnitsDonated, expiry, d.DonorID)
	if err != nil {
		return err
	}
	d.InventoryItemID = item.ID

	query := `
		INSERT INTO donations
		(id, donor_id, blood_bank_id, blood_group, units_donated, status, inventory_item_id,
		 hemoglobin_g_dl, blood_pressure, weight_kg, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 0), NULLIF($9, ''), NULLIF($10, 0), $11)
		RETURNING donation_date
	`
	err = tx.QueryRow(ctx, query,
		d.ID, d.DonorID, d.BloodBankID, d.BloodGroup, d.UnitsDonated,
		d.Status, d.InventoryItemID,
		v.HemoglobinGDL, v.BloodPressure, v.WeightKG, v.Notes,
	).Scan(&d.DonationDate)
	if err != nil {
		return fault.TransientStore(err, "donation insert failed")
	}

	if err := markDonatedTx(ctx, tx, d.DonorID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fault.TransientStore(err, "commit donation tx")
	}
	return nil
}

// Get loads one donation by ID.
func (s *DonationStore) Get(ctx context.Context, id string) (*donation.Donation, error) {
	query := `
		SELECT id, donor_id, blood_bank_id, blood_group, units_donated,
		       donation_date, status, COALESCE(inventory_item_id, '')
		FROM donations
		WHERE id = $1
	`
	d := &donation.Donation{}
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.DonorID, &d.BloodBankID, &d.BloodGroup, &d.UnitsDonated,
		&d.DonationDate, &d.Status, &d.InventoryItemID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("donation %s not found", id)
	}
	if err != nil {
		return nil, fault.TransientStore(err, "donation lookup failed")
	}
	return d, nil
}

// Cancel flips a completed donation to cancelled and releases its
// inventory lot in the same transaction, so the units are never counted
// after the reversal.
func (s *DonationStore) Cancel(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fault.TransientStore(err, "begin cancel tx")
	}
	defer tx.Rollback(ctx)

	var itemID *string
	err = tx.QueryRow(ctx, `
		UPDATE donations
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'completed'
		RETURNING inventory_item_id
	`, id).Scan(&itemID)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.explainCancelMiss(ctx, id)
	}
	if err != nil {
		return fault.TransientStore(err, "donation cancel failed")
	}

	if itemID != nil {
		if err := releaseTx(ctx, tx, *itemID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fault.TransientStore(err, "commit cancel tx")
	}
	return nil
}

func (s *DonationStore) explainCancelMiss(ctx context.Context, id string) error {
	var status donation.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM donations WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fault.NotFound("donation %s not found", id)
	}
	if err != nil {
		return fault.TransientStore(err, "donation status lookup failed")
	}
	return fault.Conflict("donation is %s, only completed donations can be cancelled", status)
}
