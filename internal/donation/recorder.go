// Package donation implements the donation recorder: eligibility gating,
// the recording transaction, and inventory replenishment.
package donation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	domain "github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/donation"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/donor"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/identity"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/infrastructure/postgres"
)

// DonorStore reads donors.
type DonorStore interface {
	Get(ctx context.Context, id string) (*donor.Donor, error)
}

// BankStore checks the supplying bank exists and is active.
type BankStore interface {
	ExistsActive(ctx context.Context, id string) (bool, error)
}

// DonationStore runs the transactional recording and cancellation.
type DonationStore interface {
	Record(ctx context.Context, d *domain.Donation, v domain.Vitals, expiry time.Time) error
	Get(ctx context.Context, id string) (*domain.Donation, error)
	Cancel(ctx context.Context, id string) error
}

// Emitter is the fire-and-forget audit sink.
type Emitter interface {
	Audit(ctx context.Context, ev postgres.AuditEvent) error
}

// Config holds the recorder's tunables.
type Config struct {
	// ShelfLife is added to the collection date to derive lot expiry
	ShelfLife time.Duration
	// Policy holds the eligibility thresholds
	Policy donor.Policy
}

// DefaultConfig returns the canonical 35-day shelf life and the default
// eligibility policy.
func DefaultConfig() Config {
	return Config{
		ShelfLife: 35 * 24 * time.Hour,
		Policy:    donor.DefaultPolicy(),
	}
}

// Recorder records and cancels donations.
type Recorder struct {
	donors    DonorStore
	banks     BankStore
	donations DonationStore
	emitter   Emitter
	config    Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewRecorder creates the recorder.
func NewRecorder(donors DonorStore, banks BankStore, donations DonationStore, emitter Emitter, cfg Config, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		donors:    donors,
		banks:     banks,
		donations: donations,
		emitter:   emitter,
		config:    cfg,
		logger:    logger,
		tracer:    otel.Tracer("donation-recorder"),
	}
}

// nowUTC is a variable for testing
var nowUTC = func() time.Time { return time.Now().UTC() }

// Record gates on eligibility, verifies donor and bank, and runs the
// recording transaction: donation insert, donor stamp, and a new
// inventory lot expiring at collection date plus shelf life. An
// ineligible donor fails before any write.
func (r *Recorder) Record(ctx context.Context, in *domain.RecordInput, u identity.User) (*domain.Donation, error) {
	ctx, span := r.tracer.Start(ctx, "record_donation",
		trace.WithAttributes(
			attribute.String("donor_id", in.DonorID),
			attribute.String("blood_bank_id", in.BloodBankID),
		))
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	d, err := r.donors.Get(ctx, in.DonorID)
	if err != nil {
		return nil, err
	}

	now := nowUTC()
	if !r.config.Policy.Eligibility(d, now) {
		return nil, fault.DonorNotEligible("donor %s is not eligible to donate", in.DonorID)
	}

	exists, err := r.banks.ExistsActive(ctx, in.BloodBankID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fault.NotFound("blood bank %s not found", in.BloodBankID)
	}

	rec := &domain.Donation{
		ID:           uuid.New().String(),
		DonorID:      in.DonorID,
		BloodBankID:  in.BloodBankID,
		BloodGroup:   in.BloodGroup,
		UnitsDonated: in.Units,
		Status:       domain.StatusCompleted,
	}

	expiry := now.Add(r.config.ShelfLife)
	if err := r.donations.Record(ctx, rec, in.Vitals, expiry); err != nil {
		span.RecordError(err)
		return nil, err
	}
	rec.NextEligibleAt = r.config.Policy.NextEligibleDate(now)

	r.audit(ctx, u.ID, "donation_recorded", rec.ID, map[string]interface{}{
		"donor_id":      rec.DonorID,
		"blood_bank_id": rec.BloodBankID,
		"blood_group":   rec.BloodGroup,
		"units":         rec.UnitsDonated,
	})

	r.logger.Info("donation recorded",
		zap.String("donation_id", rec.ID),
		zap.String("donor_id", rec.DonorID),
		zap.String("blood_group", rec.BloodGroup.String()),
		zap.Int("units", rec.UnitsDonated))

	return rec, nil
}

// Cancel reverses a completed donation and releases its inventory lot so
// the units are not double-counted. Only staff may cancel.
func (r *Recorder) Cancel(ctx context.Context, id string, u identity.User) error {
	ctx, span := r.tracer.Start(ctx, "cancel_donation",
		trace.WithAttributes(attribute.String("donation_id", id)))
	defer span.End()

	if !u.IsAdmin() && u.Role != identity.RoleBloodBank {
		return fault.Authorization("user %s may not cancel donations", u.ID)
	}

	if err := r.donations.Cancel(ctx, id); err != nil {
		span.RecordError(err)
		return err
	}

	r.audit(ctx, u.ID, "donation_cancelled", id, nil)
	r.logger.Info("donation cancelled", zap.String("donation_id", id))
	return nil
}

func (r *Recorder) audit(ctx context.Context, actorID, action, entityID string, details map[string]interface{}) {
	if r.emitter == nil {
		return
	}
	var raw json.RawMessage
	if details != nil {
		raw, _ = json.Marshal(details)
	}
	ev := postgres.AuditEvent{
		ActorID:    actorID,
		Action:     action,
		EntityType: "donation",
		EntityID:   entityID,
		Details:    raw,
	}
	if err := r.emitter.Audit(ctx, ev); err != nil {
		r.logger.Warn("audit emit failed", zap.String("entity_id", entityID), zap.Error(err))
	}
}
