package postgres

import (
	"encoding/json"
	"testing"
)

func TestStampNotificationGeneratesID(t *testing.T) {
	ev := stampNotification(NotificationEvent{
		UserID:   "bank-1",
		Category: "emergency_request",
	})
	if ev.NotificationID == "" {
		t.Fatal("expected a generated notification id")
	}
	if ev.CreatedAt.IsZero() {
		t.Error("expected created_at to be stamped")
	}
}

func TestStampNotificationKeepsCallerID(t *testing.T) {
	ev := stampNotification(NotificationEvent{NotificationID: "fixed-id"})
	if ev.NotificationID != "fixed-id" {
		t.Errorf("caller-supplied id was replaced, got %q", ev.NotificationID)
	}
}

// The dispatcher drops any event whose notification_id is missing, so
// every payload the emitter enqueues must carry one after the round
// trip through the broker.
func TestStampedPayloadSurvivesDispatcherGate(t *testing.T) {
	stamped := stampNotification(NotificationEvent{
		UserID:     "hosp-1",
		Message:    "A blood bank accepted your request",
		Category:   "request_approved",
		EntityID:   "req-1",
		EntityType: "blood_request",
	})

	payload, err := json.Marshal(stamped)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got NotificationEvent
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.NotificationID == "" {
		t.Fatal("relayed payload lost its notification id")
	}
	if got.UserID != "hosp-1" || got.Category != "request_approved" {
		t.Errorf("payload fields mangled: %+v", got)
	}
}
