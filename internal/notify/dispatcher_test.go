package notify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/infrastructure/postgres"
)

// Events arriving from the broker were stamped by the emitter and must
// clear decoding so they reach the inbox and the delivery pool.
func TestDecodeEventAcceptsStampedPayload(t *testing.T) {
	payload, err := json.Marshal(postgres.NotificationEvent{
		NotificationID: "5f0c2a6e-9d41-4c8e-8f13-2b7a01d9c4e2",
		UserID:         "bank-1",
		Message:        "EMERGENCY: 4 units of O- needed by 2025-04-01 08:00",
		Category:       "emergency_request",
		EntityID:       "req-1",
		EntityType:     "blood_request",
	})
	require.NoError(t, err)

	ev, err := decodeEvent(payload)
	require.NoError(t, err, "a stamped event must be deliverable, not dropped")
	assert.Equal(t, "bank-1", ev.UserID)
	assert.Equal(t, "emergency_request", ev.Category)
}

func TestDecodeEventRejectsMissingID(t *testing.T) {
	payload, err := json.Marshal(postgres.NotificationEvent{UserID: "bank-1"})
	require.NoError(t, err)

	_, err = decodeEvent(payload)
	assert.Error(t, err, "an id-less event has no dedupe key and cannot be delivered")
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	_, err := decodeEvent([]byte("not json"))
	assert.Error(t, err)
}
