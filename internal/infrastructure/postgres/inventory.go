// Package postgres provides PostgreSQL persistence for the blood engine.
// All multi-step mutations run inside explicit transactions; stock is only
// ever touched through the ledger operations in this package.
package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/blood"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/inventory"
)

// InventoryStore is the authoritative ledger of usable blood units per
// bank and group, with expiry awareness.
type InventoryStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewInventoryStore creates the ledger store.
func NewInventoryStore(pool *pgxpool.Pool, logger *zap.Logger) *InventoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("inventory-store"),
	}
}

// AvailableUnits sums usable stock for one bank and group. Expired lots
// never count; missing rows count as zero.
func (s *InventoryStore) AvailableUnits(ctx context.Context, bankID string, group blood.Group) (int, error) {
	query := `
		SELECT COALESCE(SUM(units_available), 0)
		FROM blood_inventory
		WHERE blood_bank_id = $1
		  AND blood_group = $2
		  AND status = 'available'
		  AND expiry_date > CURRENT_DATE
	`

	var units int
	if err := s.pool.QueryRow(ctx, query, bankID, group).Scan(&units); err != nil {
		return 0, fault.TransientStore(err, "available units query failed")
	}
	if units < 0 {
		units = 0
	}
	return units, nil
}

// CandidateBanks returns active banks holding at least minUnits usable
// stock of the group, most stock first. The routing engine uses this for
// both emergency (minUnits=1) and standard (minUnits=unitsRequired)
// candidate selection.
func (s *InventoryStore) CandidateBanks(ctx context.Context, group blood.Group, minUnits, limit int) ([]inventory.BankStock, error) {
	ctx, span := s.tracer.Start(ctx, "candidate_banks",
		trace.WithAttributes(
			attribute.String("blood_group", group.String()),
			attribute.Int("min_units", minUnits),
		))
	defer span.End()

	query := `
		SELECT i.blood_bank_id, SUM(i.units_available) AS units
		FROM blood_inventory i
		JOIN blood_banks b ON b.id = i.blood_bank_id
		WHERE i.blood_group = $1
		  AND i.status = 'available'
		  AND i.expiry_date > CURRENT_DATE
		  AND b.active
		GROUP BY i.blood_bank_id
		HAVING SUM(i.units_available) >= $2
		ORDER BY units DESC, i.blood_bank_id ASC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, group, minUnits, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fault.TransientStore(err, "candidate banks query failed")
	}
	defer rows.Close()

	var banks []inventory.BankStock
	for rows.Next() {
		bs := inventory.BankStock{BloodGroup: group}
		if err := rows.Scan(&bs.BloodBankID, &bs.UnitsAvailable); err != nil {
			return nil, fault.TransientStore(err, "candidate banks scan failed")
		}
		banks = append(banks, bs)
	}
	return banks, rows.Err()
}

// Browse returns the current usable stock of every active bank, for the
// public availability listing.
func (s *InventoryStore) Browse(ctx context.Context) ([]inventory.BankStock, error) {
	query := `
		SELECT i.blood_bank_id, i.blood_group, SUM(i.units_available) AS units
		FROM blood_inventory i
		JOIN blood_banks b ON b.id = i.blood_bank_id
		WHERE i.status = 'available'
		  AND i.expiry_date > CURRENT_DATE
		  AND b.active
		GROUP BY i.blood_bank_id, i.blood_group
		ORDER BY i.blood_bank_id, i.blood_group
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fault.TransientStore(err, "availability browse failed")
	}
	defer rows.Close()

	var stocks []inventory.BankStock
	for rows.Next() {
		var bs inventory.BankStock
		if err := rows.Scan(&bs.BloodBankID, &bs.BloodGroup, &bs.UnitsAvailable); err != nil {
			return nil, fault.TransientStore(err, "availability scan failed")
		}
		stocks = append(stocks, bs)
	}
	return stocks, rows.Err()
}

// Reserve atomically decrements usable stock for one bank and group.
// It is all-or-nothing: if total usable stock is below units, nothing is
// decremented and InsufficientStock is returned.
func (s *InventoryStore) Reserve(ctx context.Context, bankID string, group blood.Group, units int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fault.TransientStore(err, "begin reserve tx")
	}
	defer tx.Rollback(ctx)

	if err := reserveTx(ctx, tx, bankID, group, units); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fault.TransientStore(err, "commit reserve tx")
	}
	return nil
}

// reserveTx performs the conditional decrement inside an existing
// transaction. Lots are consumed oldest expiry first. The sufficiency
// check is part of the UPDATE itself, so two concurrent reservations can
// never combine to drive a lot negative; insufficiency is detected via
// the affected-row count, never via a separate read.
func reserveTx(ctx context.Context, tx pgx.Tx, bankID string, group blood.Group, units int) error {
	if units <= 0 {
		return fault.Validation("reserve units must be positive, got %d", units)
	}

	query := `
		WITH locked AS (
			SELECT id, units_available, expiry_date
			FROM blood_inventory
			WHERE blood_bank_id = $1
			  AND blood_group = $2
			  AND status = 'available'
			  AND units_available > 0
			  AND expiry_date > CURRENT_DATE
			ORDER BY expiry_date ASC, id ASC
			FOR UPDATE
		), ranked AS (
			SELECT id, units_available,
			       SUM(units_available) OVER (ORDER BY expiry_date ASC, id ASC) AS running_total
			FROM locked
		)
		UPDATE blood_inventory i
		SET units_available = i.units_available
			- LEAST(i.units_available, $3::bigint - (r.running_total - r.units_available))
		FROM ranked r
		WHERE i.id = r.id
		  AND r.running_total - r.units_available < $3::bigint
		  AND $3::bigint <= (SELECT COALESCE(SUM(units_available), 0) FROM locked)
	`

	tag, err := tx.Exec(ctx, query, bankID, group, units)
	if err != nil {
		return fault.TransientStore(err, "reserve update failed")
	}
	if tag.RowsAffected() == 0 {
		return fault.InsufficientStock("bank %s holds fewer than %d usable units of %s", bankID, units, group)
	}
	return nil
}

// Replenish inserts a new lot. The expiry date is computed by the caller
// (collection date plus configured shelf life).
func (s *InventoryStore) Replenish(ctx context.Context, bankID string, group blood.Group, units int, expiry time.Time, donorID string) (*inventory.Item, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fault.TransientStore(err, "begin replenish tx")
	}
	defer tx.Rollback(ctx)

	item, err := replenishTx(ctx, tx, bankID, group, units, expiry, donorID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fault.TransientStore(err, "commit replenish tx")
	}
	return item, nil
}

func replenishTx(ctx context.Context, tx pgx.Tx, bankID string, group blood.Group, units int, expiry time.Time, donorID string) (*inventory.Item, error) {
	if units <= 0 {
		return nil, fault.Validation("replenish units must be positive, got %d", units)
	}

	item := &inventory.Item{
		ID:             uuid.New().String(),
		BloodBankID:    bankID,
		BloodGroup:     group,
		UnitsAvailable: units,
		ExpiryDate:     expiry,
		Status:         inventory.StatusAvailable,
		DonorID:        donorID,
	}

	query := `
		INSERT INTO blood_inventory (id, blood_bank_id, blood_group, units_available, expiry_date, status, donor_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING created_at
	`
	err := tx.QueryRow(ctx, query,
		item.ID, item.BloodBankID, item.BloodGroup,
		item.UnitsAvailable, item.ExpiryDate, item.Status, item.DonorID,
	).Scan(&item.CreatedAt)
	if err != nil {
		return nil, fault.TransientStore(err, "replenish insert failed")
	}
	return item, nil
}

// Release zeroes a lot, reversing a cancelled donation so its units are
// not double-counted.
func (s *InventoryStore) Release(ctx context.Context, itemID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fault.TransientStore(err, "begin release tx")
	}
	defer tx.Rollback(ctx)

	if err := releaseTx(ctx, tx, itemID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fault.TransientStore(err, "commit release tx")
	}
	return nil
}

func releaseTx(ctx context.Context, tx pgx.Tx, itemID string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE blood_inventory SET units_available = 0, status = 'reserved' WHERE id = $1`,
		itemID)
	if err != nil {
		return fault.TransientStore(err, "release update failed")
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("inventory item %s not found", itemID)
	}
	return nil
}

// ExpireLots marks lots past their expiry date. Expired stock is already
// excluded from every availability query by date; this keeps the stored
// status column in sync for reporting.
func (s *InventoryStore) ExpireLots(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE blood_inventory
		SET status = 'expired'
		WHERE status = 'available' AND expiry_date <= CURRENT_DATE
	`)
	if err != nil {
		return 0, fault.TransientStore(err, "expire lots failed")
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("expired inventory lots", zap.Int64("count", n))
		return n, nil
	}
	return 0, nil
}
