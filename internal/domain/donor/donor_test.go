package donor

import (
	"testing"
	"time"
)

var checkTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func donorAged(years int) *Donor {
	return &Donor{
		ID:          "donor-1",
		BloodGroup:  "O+",
		DateOfBirth: checkTime.AddDate(-years, 0, -1),
		Eligible:    true,
	}
}

func TestAgeBirthdayAdjustment(t *testing.T) {
	// Turns 30 tomorrow; still 29 today.
	d := &Donor{DateOfBirth: checkTime.AddDate(-30, 0, 1)}
	if got := d.Age(checkTime); got != 29 {
		t.Errorf("Age() = %d, want 29 before the birthday", got)
	}

	d = &Donor{DateOfBirth: checkTime.AddDate(-30, 0, 0)}
	if got := d.Age(checkTime); got != 30 {
		t.Errorf("Age() = %d, want 30 on the birthday", got)
	}
}

func TestEligibilityAgeBounds(t *testing.T) {
	p := DefaultPolicy()

	cases := []struct {
		age  int
		want bool
	}{
		{17, false},
		{18, true},
		{40, true},
		{65, true},
		{66, false},
	}
	for _, tc := range cases {
		d := donorAged(tc.age)
		if got := p.Eligibility(d, checkTime); got != tc.want {
			t.Errorf("age %d: eligibility = %v, want %v", tc.age, got, tc.want)
		}
	}
}

func TestEligibilityInterval(t *testing.T) {
	p := DefaultPolicy()

	recent := checkTime.AddDate(0, 0, -89)
	d := donorAged(30)
	d.LastDonationDate = &recent
	if p.Eligibility(d, checkTime) {
		t.Error("donor 89 days after donating should be ineligible")
	}

	longAgo := checkTime.AddDate(0, 0, -91)
	d.LastDonationDate = &longAgo
	if !p.Eligibility(d, checkTime) {
		t.Error("donor 91 days after donating should be eligible")
	}

	d.LastDonationDate = nil
	if !p.Eligibility(d, checkTime) {
		t.Error("first-time donor should be eligible")
	}
}

func TestEligibilityExplicitFlag(t *testing.T) {
	p := DefaultPolicy()
	d := donorAged(30)
	d.Eligible = false
	if p.Eligibility(d, checkTime) {
		t.Error("explicitly flagged donor must never pass")
	}
}

func TestNextEligibleDate(t *testing.T) {
	p := DefaultPolicy()
	got := p.NextEligibleDate(checkTime)
	want := checkTime.Add(90 * 24 * time.Hour)
	if !got.Equal(want) {
		t.Errorf("NextEligibleDate() = %v, want %v", got, want)
	}
}
