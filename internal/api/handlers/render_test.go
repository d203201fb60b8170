package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
)

func testLogger() *zap.Logger { return zap.NewNop() }

func TestStatusFor(t *testing.T) {
	cases := []struct {
		kind fault.Kind
		want int
	}{
		{fault.KindValidation, http.StatusBadRequest},
		{fault.KindNotFound, http.StatusNotFound},
		{fault.KindAuthorization, http.StatusForbidden},
		{fault.KindConflict, http.StatusConflict},
		{fault.KindDonorNotEligible, http.StatusConflict},
		{fault.KindInsufficientStock, http.StatusUnprocessableEntity},
		{fault.KindTransientStore, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.kind); got != tc.want {
			t.Errorf("statusFor(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestWriteFaultHidesStoreDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	cause := fault.TransientStore(nil, "connection to 10.0.0.5 refused")
	writeFault(rec, testLogger(), cause)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error != "internal server error" {
		t.Errorf("store detail leaked to the caller: %q", body.Error)
	}
}

func TestWriteFaultSurfacesBusinessOutcome(t *testing.T) {
	rec := httptest.NewRecorder()
	writeFault(rec, testLogger(), fault.InsufficientStock("bank bank-1 cannot cover 5 units of O-"))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Kind != "insufficient_stock" {
		t.Errorf("kind = %q, want insufficient_stock", body.Kind)
	}
}
