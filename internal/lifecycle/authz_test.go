package lifecycle

import (
	"testing"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/identity"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/request"
)

var (
	admin    = identity.User{ID: "admin-1", Role: identity.RoleAdmin}
	owner    = identity.User{ID: "hosp-1", Role: identity.RoleHospital}
	stranger = identity.User{ID: "hosp-2", Role: identity.RoleHospital}
	bank     = identity.User{ID: "bank-1", Role: identity.RoleBloodBank}
	bankTwo  = identity.User{ID: "bank-2", Role: identity.RoleBloodBank}
)

func ownedRequest() *request.BloodRequest {
	return &request.BloodRequest{ID: "req-1", RequesterID: "hosp-1"}
}

func TestCanView(t *testing.T) {
	req := ownedRequest()

	for _, u := range []identity.User{admin, owner, bank} {
		if err := CanView(req, u); err != nil {
			t.Errorf("CanView(%s) = %v, want nil", u.ID, err)
		}
	}
	if err := CanView(req, stranger); !fault.IsKind(err, fault.KindAuthorization) {
		t.Errorf("CanView(stranger) = %v, want authorization error", err)
	}
}

func TestCanUpdate(t *testing.T) {
	req := ownedRequest()

	for _, u := range []identity.User{admin, owner} {
		if err := CanUpdate(req, u); err != nil {
			t.Errorf("CanUpdate(%s) = %v, want nil", u.ID, err)
		}
	}
	for _, u := range []identity.User{stranger, bank} {
		if err := CanUpdate(req, u); !fault.IsKind(err, fault.KindAuthorization) {
			t.Errorf("CanUpdate(%s) = %v, want authorization error", u.ID, err)
		}
	}
}

func TestCanRespond(t *testing.T) {
	a := &request.RoutingAssignment{RequestID: "req-1", BloodBankID: "bank-1"}

	if err := CanRespond(a, bank); err != nil {
		t.Errorf("holding bank rejected: %v", err)
	}
	if err := CanRespond(a, admin); err != nil {
		t.Errorf("admin rejected: %v", err)
	}
	if err := CanRespond(a, bankTwo); !fault.IsKind(err, fault.KindAuthorization) {
		t.Errorf("other bank should be rejected, got %v", err)
	}
	if err := CanRespond(a, owner); !fault.IsKind(err, fault.KindAuthorization) {
		t.Errorf("requester should be rejected, got %v", err)
	}
}
