package lifecycle

import (
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/identity"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/request"
)

// Authorization is centralized here so every rule is testable without
// transport. Administrators may act on any request; everyone else is
// bound to ownership.

// CanView allows the owner, any blood bank (they browse open demand),
// and administrators.
func CanView(req *request.BloodRequest, u identity.User) error {
	if u.IsAdmin() || u.Role == identity.RoleBloodBank || req.RequesterID == u.ID {
		return nil
	}
	return fault.Authorization("user %s may not view request %s", u.ID, req.ID)
}

// CanUpdate allows only the owning requester or an administrator to
// edit or cancel a request.
func CanUpdate(req *request.BloodRequest, u identity.User) error {
	if u.IsAdmin() || req.RequesterID == u.ID {
		return nil
	}
	return fault.Authorization("user %s may not modify request %s", u.ID, req.ID)
}

// CanRespond allows only the blood bank holding the assignment, or an
// administrator, to approve, reject, or fulfill it.
func CanRespond(a *request.RoutingAssignment, u identity.User) error {
	if u.IsAdmin() {
		return nil
	}
	if u.Role == identity.RoleBloodBank && a.BloodBankID == u.ID {
		return nil
	}
	return fault.Authorization("user %s holds no routing assignment for request %s", u.ID, a.RequestID)
}
