package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/infrastructure/redpanda"
)

// Emitter writes notification and audit events through the outbox. It is
// fire-and-forget from the engine's perspective: callers log emission
// failures and never abort the primary operation on them.
type Emitter struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewEmitter creates an emitter.
func NewEmitter(pool *pgxpool.Pool, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{pool: pool, logger: logger}
}

// NotificationEvent is the payload delivered to recipients.
type NotificationEvent struct {
	NotificationID string    `json:"notification_id"`
	UserID         string    `json:"user_id"`
	Message        string    `json:"message"`
	Category       string    `json:"category"`
	EntityID       string    `json:"entity_id,omitempty"`
	EntityType     string    `json:"entity_type,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditEvent is the payload recorded on the audit trail.
type AuditEvent struct {
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// stampNotification fills the fields the dispatcher contract requires:
// every event carries an id (the dedupe key downstream) and a creation
// time. A caller-supplied id is kept so a retried emit stays dedupable.
func stampNotification(ev NotificationEvent) NotificationEvent {
	if ev.NotificationID == "" {
		ev.NotificationID = uuid.New().String()
	}
	ev.CreatedAt = time.Now().UTC()
	return ev
}

// Notify enqueues one notification.
func (e *Emitter) Notify(ctx context.Context, ev NotificationEvent) error {
	ev = stampNotification(ev)
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, &OutboxEntry{
		EntityID:   ev.EntityID,
		EntityType: ev.EntityType,
		EventType:  "notification." + ev.Category,
		Payload:    payload,
		Topic:      redpanda.TopicNotifications,
		Key:        ev.UserID,
	})
}

// Audit enqueues one audit record.
func (e *Emitter) Audit(ctx context.Context, ev AuditEvent) error {
	ev.CreatedAt = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, &OutboxEntry{
		EntityID:   ev.EntityID,
		EntityType: ev.EntityType,
		EventType:  "audit." + ev.Action,
		Payload:    payload,
		Topic:      redpanda.TopicAudit,
		Key:        ev.EntityID,
	})
}

// RequestLifecycleEvent is published on the request stream for every
// request state change.
type RequestLifecycleEvent struct {
	RequestID  string    `json:"request_id"`
	EventType  string    `json:"event_type"`
	Status     string    `json:"status"`
	Priority   string    `json:"priority,omitempty"`
	BloodGroup string    `json:"blood_group,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RoutingLifecycleEvent is published on the routing stream for every
// assignment state change.
type RoutingLifecycleEvent struct {
	RequestID    string    `json:"request_id"`
	BloodBankID  string    `json:"blood_bank_id"`
	EventType    string    `json:"event_type"`
	DistanceKM   float64   `json:"distance_km,omitempty"`
	UnitsOffered int       `json:"units_offered,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// RequestEvent enqueues one request lifecycle event. Keyed by request id
// so consumers see one request's changes in order.
func (e *Emitter) RequestEvent(ctx context.Context, ev RequestLifecycleEvent) error {
	ev.OccurredAt = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, &OutboxEntry{
		EntityID:   ev.RequestID,
		EntityType: "blood_request",
		EventType:  "request." + ev.EventType,
		Payload:    payload,
		Topic:      redpanda.TopicRequestEvents,
		Key:        ev.RequestID,
	})
}

// RoutingEvent enqueues one routing lifecycle event, keyed like
// RequestEvent.
func (e *Emitter) RoutingEvent(ctx context.Context, ev RoutingLifecycleEvent) error {
	ev.OccurredAt = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, &OutboxEntry{
		EntityID:   ev.RequestID,
		EntityType: "routing_assignment",
		EventType:  "routing." + ev.EventType,
		Payload:    payload,
		Topic:      redpanda.TopicRoutingEvents,
		Key:        ev.RequestID,
	})
}

func (e *Emitter) enqueue(ctx context.Context, entry *OutboxEntry) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := writeOutboxTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
