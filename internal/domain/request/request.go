// Package request implements the blood request aggregate and its state machine.
package request

import (
	"time"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/blood"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
)

// Status represents blood request status.
type Status string

const (
	StatusPending            Status = "pending"
	StatusApproved           Status = "approved"
	StatusFulfilled          Status = "fulfilled"
	StatusPartiallyFulfilled Status = "partially_fulfilled"
	StatusRejected           Status = "rejected"
	StatusCancelled          Status = "cancelled"
)

// transitions defines the legal status edges.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusFulfilled, StatusPartiallyFulfilled, StatusCancelled},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func Terminal(s Status) bool { return len(transitions[s]) == 0 }

// Priority orders requests for candidate ranking and display.
type Priority string

const (
	PriorityEmergency Priority = "emergency"
	PriorityUrgent    Priority = "urgent"
	PriorityNormal    Priority = "normal"
	PriorityPlanned   Priority = "planned"
)

// Weight returns the ordering weight of p; lower is more urgent.
func (p Priority) Weight() int {
	switch p {
	case PriorityEmergency:
		return 0
	case PriorityUrgent:
		return 1
	case PriorityNormal:
		return 2
	case PriorityPlanned:
		return 3
	}
	return 4
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool { return p.Weight() < 4 }

// RequesterType identifies who raised a request.
type RequesterType string

const (
	RequesterHospital  RequesterType = "hospital"
	RequesterPatient   RequesterType = "patient"
	RequesterBloodBank RequesterType = "blood_bank"
)

// Valid reports whether t is a known requester type.
func (t RequesterType) Valid() bool {
	switch t {
	case RequesterHospital, RequesterPatient, RequesterBloodBank:
		return true
	}
	return false
}

// PatientMeta is optional descriptive detail attached to a request.
type PatientMeta struct {
	Name          string `json:"name,omitempty"`
	Age           int    `json:"age,omitempty"`
	Gender        string `json:"gender,omitempty"`
	Purpose       string `json:"purpose,omitempty"`
	DoctorContact string `json:"doctor_contact,omitempty"`
}

// BloodRequest is a demand for blood units raised by a hospital, patient,
// or blood bank.
type BloodRequest struct {
	ID                 string        `json:"id"`
	RequesterID        string        `json:"requester_id"`
	RequesterType      RequesterType `json:"requester_type"`
	BloodGroup         blood.Group   `json:"blood_group"`
	UnitsRequired      int           `json:"units_required"`
	Priority           Priority      `json:"priority"`
	Status             Status        `json:"status"`
	Patient            PatientMeta   `json:"patient,omitempty"`
	RequiredBy         time.Time     `json:"required_by"`
	NeedsManualRouting bool          `json:"needs_manual_routing"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// CreateInput carries the fields a requester supplies at creation.
type CreateInput struct {
	RequesterID   string        `json:"requester_id"`
	RequesterType RequesterType `json:"requester_type"`
	BloodGroup    blood.Group   `json:"blood_group"`
	UnitsRequired int           `json:"units_required"`
	Priority      Priority      `json:"priority"`
	Patient       PatientMeta   `json:"patient"`
	RequiredBy    time.Time     `json:"required_by"`
}

// Validate checks the input before anything is persisted.
func (in *CreateInput) Validate() error {
	if in.RequesterID == "" {
		return fault.Validation("requester_id is required")
	}
	if !in.RequesterType.Valid() {
		return fault.Validation("invalid requester_type %q", in.RequesterType)
	}
	if !in.BloodGroup.Valid() {
		return fault.Validation("invalid blood group %q", in.BloodGroup)
	}
	if in.UnitsRequired <= 0 {
		return fault.Validation("units_required must be positive, got %d", in.UnitsRequired)
	}
	if !in.Priority.Valid() {
		return fault.Validation("invalid priority %q", in.Priority)
	}
	return nil
}

// New builds a pending request from validated input.
func New(id string, in *CreateInput, now time.Time) *BloodRequest {
	return &BloodRequest{
		ID:            id,
		RequesterID:   in.RequesterID,
		RequesterType: in.RequesterType,
		BloodGroup:    in.BloodGroup,
		UnitsRequired: in.UnitsRequired,
		Priority:      in.Priority,
		Status:        StatusPending,
		Patient:       in.Patient,
		RequiredBy:    in.RequiredBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Patch lists exactly the fields a requester may change while the request
// is pending. Absent pointers leave the column untouched.
type Patch struct {
	UnitsRequired *int       `json:"units_required,omitempty"`
	Priority      *Priority  `json:"priority,omitempty"`
	RequiredBy    *time.Time `json:"required_by,omitempty"`
	Cancel        bool       `json:"cancel,omitempty"`
}

// Validate checks patch fields that are present.
func (p *Patch) Validate() error {
	if p.UnitsRequired != nil && *p.UnitsRequired <= 0 {
		return fault.Validation("units_required must be positive, got %d", *p.UnitsRequired)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fault.Validation("invalid priority %q", *p.Priority)
	}
	if !p.Cancel && p.UnitsRequired == nil && p.Priority == nil && p.RequiredBy == nil {
		return fault.Validation("patch contains no changes")
	}
	return nil
}

// Empty reports whether the patch changes any mutable field.
func (p *Patch) Empty() bool {
	return p.UnitsRequired == nil && p.Priority == nil && p.RequiredBy == nil
}
