// Package idempotency deduplicates consumed events via an inbox table,
// so redelivered notification records are processed at most once.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the processing state of an inbox entry.
type Status string

const (
	StatusStarted     Status = "started"
	StatusDelivered   Status = "delivered"
	StatusRecoverable Status = "recoverable"
)

// Entry is one row in the notification inbox.
type Entry struct {
	Key       string
	Handler   string
	Status    Status
	Payload   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Config holds inbox tunables.
type Config struct {
	// TTL bounds how long delivered entries are remembered
	TTL time.Duration
	// CleanupInterval is how often expired entries are purged
	CleanupInterval time.Duration
	// RecoveryTimeout is when a started entry counts as orphaned
	RecoveryTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		TTL:             7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// ErrDuplicate indicates the event was already delivered.
var ErrDuplicate = errors.New("duplicate event: already delivered")

// ErrInProgress indicates another consumer holds the event.
var ErrInProgress = errors.New("event in progress by another consumer")

// Inbox tracks delivery attempts keyed by event identity.
type Inbox struct {
	pool   *pgxpool.Pool
	config Config
	logger *zap.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates a new inbox
func NewInbox(pool *pgxpool.Pool, cfg Config, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("notification-inbox"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Key derives a deterministic inbox key from the event identity.
func Key(handler, eventID string) string {
	hash := sha256.Sum256([]byte(handler + "|" + eventID))
	return hex.EncodeToString(hash[:])
}

// Deliver runs fn at most once per key. A failed delivery leaves the
// entry recoverable so a later redelivery can retry it.
func (i *Inbox) Deliver(ctx context.Context, key, handler string, payload json.RawMessage, fn func(ctx context.Context) error) error {
	ctx, span := i.tracer.Start(ctx, "inbox_deliver",
		trace.WithAttributes(
			attribute.String("inbox_key", key),
			attribute.String("handler", handler),
		))
	defer span.End()

	entry, err := i.get(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("inbox lookup: %w", err)
	}

	if entry != nil {
		switch entry.Status {
		case StatusDelivered:
			span.SetAttributes(attribute.Bool("duplicate", true))
			return ErrDuplicate
		case StatusStarted:
			if time.Since(entry.UpdatedAt) <= i.config.RecoveryTimeout {
				return ErrInProgress
			}
			// Orphaned by a crashed consumer; reclaim it.
			if err := i.mark(ctx, key, StatusRecoverable); err != nil {
				return fmt.Errorf("inbox reclaim: %w", err)
			}
		case StatusRecoverable:
			span.SetAttributes(attribute.Bool("recovered", true))
		}
	}

	if err := i.claim(ctx, key, handler, payload); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		if markErr := i.mark(ctx, key, StatusRecoverable); markErr != nil {
			i.logger.Error("failed to mark entry recoverable",
				zap.String("inbox_key", key), zap.Error(markErr))
		}
		span.RecordError(err)
		return err
	}

	if err := i.mark(ctx, key, StatusDelivered); err != nil {
		// Delivery succeeded; at worst the event is retried.
		i.logger.Error("failed to mark entry delivered",
			zap.String("inbox_key", key), zap.Error(err))
	}
	return nil
}

func (i *Inbox) get(ctx context.Context, key string) (*Entry, error) {
	query := `
		SELECT inbox_key, handler, status, payload, created_at, updated_at, expires_at
		FROM notification_inbox
		WHERE inbox_key = $1
	`
	entry := &Entry{}
	err := i.pool.QueryRow(ctx, query, key).Scan(
		&entry.Key, &entry.Handler, &entry.Status,
		&entry.Payload, &entry.CreatedAt, &entry.UpdatedAt, &entry.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// claim inserts the entry as started, or flips a recoverable one back.
// A conflict with any other status means the event is not ours to take.
func (i *Inbox) claim(ctx context.Context, key, handler string, payload json.RawMessage) error {
	query := `
		INSERT INTO notification_inbox (inbox_key, handler, status, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (inbox_key) DO UPDATE
		SET status = $3, updated_at = NOW()
		WHERE notification_inbox.status = 'recoverable'
		RETURNING inbox_key
	`
	var returned string
	err := i.pool.QueryRow(ctx, query,
		key, handler, StatusStarted, payload, time.Now().Add(i.config.TTL)).Scan(&returned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDuplicate
		}
		return fmt.Errorf("inbox claim: %w", err)
	}
	return nil
}

func (i *Inbox) mark(ctx context.Context, key string, status Status) error {
	_, err := i.pool.Exec(ctx,
		`UPDATE notification_inbox SET status = $1, updated_at = NOW() WHERE inbox_key = $2`,
		status, key)
	return err
}

// RecoverStale flips orphaned started entries back to recoverable.
func (i *Inbox) RecoverStale(ctx context.Context) (int64, error) {
	result, err := i.pool.Exec(ctx, `
		UPDATE notification_inbox
		SET status = 'recoverable', updated_at = NOW()
		WHERE status = 'started'
		  AND updated_at < NOW() - $1::interval
	`, i.config.RecoveryTimeout.String())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// StartCleanup starts the background cleanup goroutine
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop stops the inbox cleanup
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			if err := i.cleanup(i.ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
		}
	}
}

func (i *Inbox) cleanup(ctx context.Context) error {
	result, err := i.pool.Exec(ctx,
		`DELETE FROM notification_inbox WHERE expires_at < NOW()`)
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		i.logger.Info("inbox cleanup completed", zap.Int64("deleted", result.RowsAffected()))
	}
	return nil
}
