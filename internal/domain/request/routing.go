package request

import (
	"time"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
)

// RoutingStatus represents the state of one bank's routing assignment.
type RoutingStatus string

const (
	RoutingAssigned  RoutingStatus = "assigned"
	RoutingAccepted  RoutingStatus = "accepted"
	RoutingRejected  RoutingStatus = "rejected"
	RoutingFulfilled RoutingStatus = "fulfilled"
)

// RoutingAssignment links a request to one candidate blood bank. A given
// (RequestID, BloodBankID) pair exists at most once.
type RoutingAssignment struct {
	RequestID    string        `json:"request_id"`
	BloodBankID  string        `json:"blood_bank_id"`
	DistanceKM   float64       `json:"distance_km"`
	Status       RoutingStatus `json:"status"`
	UnitsOffered *int          `json:"units_offered,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// RoutingAction is a blood bank's response to an assignment.
type RoutingAction string

const (
	ActionApprove RoutingAction = "approve"
	ActionReject  RoutingAction = "reject"
	ActionFulfill RoutingAction = "fulfill"
)

// Valid reports whether a is a known routing action.
func (a RoutingAction) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionFulfill:
		return true
	}
	return false
}

// NextRoutingStatus maps an action onto the status it produces, guarding
// the legal edges: assigned → {accepted, rejected}, accepted → fulfilled.
func NextRoutingStatus(current RoutingStatus, action RoutingAction) (RoutingStatus, error) {
	switch action {
	case ActionApprove:
		if current != RoutingAssigned {
			return "", fault.Conflict("assignment is %s, can only approve while assigned", current)
		}
		return RoutingAccepted, nil
	case ActionReject:
		if current != RoutingAssigned {
			return "", fault.Conflict("assignment is %s, can only reject while assigned", current)
		}
		return RoutingRejected, nil
	case ActionFulfill:
		if current != RoutingAccepted {
			return "", fault.Conflict("assignment is %s, can only fulfill after acceptance", current)
		}
		return RoutingFulfilled, nil
	}
	return "", fault.Validation("unknown routing action %q", action)
}
