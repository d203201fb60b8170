// Package notify delivers notification events consumed from the stream
// to their outbound channels. Delivery is deduplicated through the
// inbox, fanned out over a bounded worker pool, and guarded per channel
// by a circuit breaker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/infrastructure/postgres"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/infrastructure/redpanda"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/observability/metrics"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/pkg/circuitbreaker"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/pkg/idempotency"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/pkg/workerpool"
)

const handlerName = "webhook-dispatcher"

// Config holds dispatcher tunables.
type Config struct {
	// WebhookURL receives delivered notifications as JSON
	WebhookURL string
	// WebhookTimeout bounds one delivery attempt
	WebhookTimeout time.Duration
	// Pool sizes the delivery worker pool
	Pool workerpool.Config
	// Breaker guards the webhook channel
	Breaker circuitbreaker.Config
}

// DefaultConfig returns defaults for a single-webhook deployment.
func DefaultConfig() Config {
	return Config{
		WebhookTimeout: 10 * time.Second,
		Pool:           workerpool.DefaultConfig(),
		Breaker:        circuitbreaker.DefaultConfig("notification-webhook"),
	}
}

// Dispatcher consumes notification events and pushes them outbound.
type Dispatcher struct {
	config  Config
	inbox   *idempotency.Inbox
	pool    *workerpool.Pool
	breaker *circuitbreaker.Breaker
	client  *resty.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates the dispatcher. The metrics registry may be nil.
func New(cfg Config, inbox *idempotency.Inbox, m *metrics.Metrics, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("webhook URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		config:  cfg,
		inbox:   inbox,
		metrics: m,
		logger:  logger,
	}

	if m != nil && cfg.Breaker.OnStateChange == nil {
		cfg.Breaker.OnStateChange = func(name string, to circuitbreaker.State) {
			var v float64
			switch to {
			case circuitbreaker.StateOpen:
				v = 1
			case circuitbreaker.StateHalfOpen:
				v = 0.5
			}
			m.CircuitBreakerState.WithLabelValues(name).Set(v)
		}
	}
	d.breaker = circuitbreaker.New(cfg.Breaker, logger)

	d.client = resty.New().
		SetTimeout(cfg.WebhookTimeout).
		SetRetryCount(0). // retries belong to the pool, not the HTTP client
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "bloodconnect-dispatcher/1.0")

	pool, err := workerpool.New(cfg.Pool, d.deliver, logger)
	if err != nil {
		return nil, err
	}
	d.pool = pool
	return d, nil
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	d.pool.Start()
}

// Stop drains the pool.
func (d *Dispatcher) Stop() error {
	return d.pool.Stop()
}

// decodeEvent parses a consumed notification payload. An error means the
// payload can never become deliverable: no id to dedupe on, or not a
// notification event at all.
func decodeEvent(value []byte) (*postgres.NotificationEvent, error) {
	var ev postgres.NotificationEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return nil, err
	}
	if ev.NotificationID == "" {
		return nil, errors.New("notification event has no id")
	}
	return &ev, nil
}

// Handle is the consumer callback. Returning an error leaves the offset
// uncommitted so the event is redelivered.
func (d *Dispatcher) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	ev, err := decodeEvent(msg.Value)
	if err != nil {
		// Undeliverable payloads never improve on redelivery; drop, don't loop.
		d.logger.Error("dropping undeliverable notification event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	key := idempotency.Key(handlerName, ev.NotificationID)
	err = d.inbox.Deliver(ctx, key, handlerName, msg.Value, func(ctx context.Context) error {
		return d.pool.Submit(&workerpool.Job{
			ID:      ev.NotificationID,
			Payload: ev,
		})
	})
	switch {
	case errors.Is(err, idempotency.ErrDuplicate):
		d.logger.Debug("duplicate notification skipped",
			zap.String("notification_id", ev.NotificationID))
		return nil
	case errors.Is(err, idempotency.ErrInProgress):
		return err
	default:
		return err
	}
}

// deliver pushes one notification to the webhook through the breaker.
func (d *Dispatcher) deliver(ctx context.Context, job *workerpool.Job) error {
	ev, ok := job.Payload.(*postgres.NotificationEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}

	err := d.breaker.Execute(ctx, func() error {
		resp, err := d.client.R().
			SetContext(ctx).
			SetBody(ev).
			Post(d.config.WebhookURL)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("webhook returned %d", resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		if circuitbreaker.Rejected(err) {
			d.logger.Warn("webhook circuit open, delivery deferred",
				zap.String("notification_id", ev.NotificationID))
		}
		return err
	}

	d.logger.Info("notification delivered",
		zap.String("notification_id", ev.NotificationID),
		zap.String("user_id", ev.UserID),
		zap.String("category", ev.Category))
	return nil
}
