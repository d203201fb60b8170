// Package donor implements the donor model and the eligibility checker.
package donor

import (
	"time"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/blood"
)

// Donor is a registered blood donor.
type Donor struct {
	ID               string      `json:"id"`
	BloodGroup       blood.Group `json:"blood_group"`
	DateOfBirth      time.Time   `json:"date_of_birth"`
	LastDonationDate *time.Time  `json:"last_donation_date,omitempty"`
	// Eligible is an explicit override; a donor flagged false never
	// passes the checker regardless of age or interval.
	Eligible       bool `json:"eligible"`
	TotalDonations int  `json:"total_donations"`
}

// Policy holds the configured eligibility thresholds.
type Policy struct {
	MinAge      int
	MaxAge      int
	MinInterval time.Duration
}

// DefaultPolicy returns the canonical thresholds: ages 18–65 and a 90-day
// minimum interval between donations.
func DefaultPolicy() Policy {
	return Policy{
		MinAge:      18,
		MaxAge:      65,
		MinInterval: 90 * 24 * time.Hour,
	}
}

// Age returns the donor's age in whole years as of now.
func (d *Donor) Age(now time.Time) int {
	years := now.Year() - d.DateOfBirth.Year()
	// Birthday not yet reached this year.
	anniversary := d.DateOfBirth.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}

// Eligibility is deterministic and has no side effects. A donor is
// eligible when age is within [MinAge, MaxAge], the explicit flag is set,
// and any previous donation is at least MinInterval in the past.
func (p Policy) Eligibility(d *Donor, now time.Time) bool {
	age := d.Age(now)
	if age < p.MinAge || age > p.MaxAge {
		return false
	}
	if !d.Eligible {
		return false
	}
	if d.LastDonationDate != nil && now.Sub(*d.LastDonationDate) < p.MinInterval {
		return false
	}
	return true
}

// NextEligibleDate returns the earliest date the donor may donate again,
// assuming a donation occurred at donatedAt.
func (p Policy) NextEligibleDate(donatedAt time.Time) time.Time {
	return donatedAt.Add(p.MinInterval)
}
