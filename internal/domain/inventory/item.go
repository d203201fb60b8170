// Package inventory defines the blood stock ledger types.
package inventory

import (
	"time"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/blood"
)

// Status represents an inventory lot's status.
type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusExpired   Status = "expired"
	StatusCritical  Status = "critical"
	StatusLow       Status = "low"
	StatusAdequate  Status = "adequate"
	StatusHigh      Status = "high"
)

// Item is one lot of blood units held by a bank. Lots past their expiry
// date never count as available, regardless of stored status.
type Item struct {
	ID             string      `json:"id"`
	BloodBankID    string      `json:"blood_bank_id"`
	BloodGroup     blood.Group `json:"blood_group"`
	UnitsAvailable int         `json:"units_available"`
	ExpiryDate     time.Time   `json:"expiry_date"`
	Status         Status      `json:"status"`
	DonorID        string      `json:"donor_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// BankStock is an aggregate availability row used for candidate ranking
// and the public browse listing.
type BankStock struct {
	BloodBankID    string      `json:"blood_bank_id"`
	BloodGroup     blood.Group `json:"blood_group"`
	UnitsAvailable int         `json:"units_available"`
}
