// Package donation defines the completed-donation record.
package donation

import (
	"time"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/blood"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
)

// Status represents donation status.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDeferred  Status = "deferred"
)

// Donation is a completed act of giving blood. Cancelling it releases the
// inventory lot it created.
type Donation struct {
	ID              string      `json:"id"`
	DonorID         string      `json:"donor_id"`
	BloodBankID     string      `json:"blood_bank_id"`
	BloodGroup      blood.Group `json:"blood_group"`
	UnitsDonated    int         `json:"units_donated"`
	DonationDate    time.Time   `json:"donation_date"`
	Status          Status      `json:"status"`
	InventoryItemID string      `json:"inventory_item_id,omitempty"`
	NextEligibleAt  time.Time   `json:"next_eligible_at"`
}

// Vitals is the descriptive screening detail captured at collection time.
type Vitals struct {
	HemoglobinGDL float64 `json:"hemoglobin_g_dl,omitempty"`
	BloodPressure string  `json:"blood_pressure,omitempty"`
	WeightKG      float64 `json:"weight_kg,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// RecordInput carries the fields supplied when recording a donation.
type RecordInput struct {
	DonorID     string      `json:"donor_id"`
	BloodBankID string      `json:"blood_bank_id"`
	BloodGroup  blood.Group `json:"blood_group"`
	Units       int         `json:"units"`
	Vitals      Vitals      `json:"vitals"`
}

// Validate checks the input before anything is persisted.
func (in *RecordInput) Validate() error {
	if in.DonorID == "" {
		return fault.Validation("donor_id is required")
	}
	if in.BloodBankID == "" {
		return fault.Validation("blood_bank_id is required")
	}
	if !in.BloodGroup.Valid() {
		return fault.Validation("invalid blood group %q", in.BloodGroup)
	}
	if in.Units <= 0 {
		return fault.Validation("units must be positive, got %d", in.Units)
	}
	return nil
}
