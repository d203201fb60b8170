// Package circuitbreaker guards outbound delivery channels. It wraps
// sony/gobreaker and reports state changes through a pluggable callback
// so callers can surface them as metrics.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies the guarded channel
	Name string
	// MaxRequests is max requests allowed in half-open state
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts in closed state
	Interval time.Duration
	// Timeout is how long to wait before transitioning from open to half-open
	Timeout time.Duration
	// FailureThreshold is consecutive failures before opening on low volume
	FailureThreshold uint32
	// FailureRatio opens the circuit once this share of requests fail
	FailureRatio float64
	// MinRequests is minimum requests before the ratio applies
	MinRequests uint32
	// OnStateChange is invoked on every transition, if set
	OnStateChange func(name string, to State)
}

// DefaultConfig returns defaults tuned for notification webhooks.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// Breaker wraps gobreaker for one delivery channel.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	requestCounter  metric.Int64Counter
	failureCounter  metric.Int64Counter
	rejectedCounter metric.Int64Counter

	currentState State
	stateMu      sync.RWMutex
}

// New creates a new circuit breaker
func New(cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		name:         cfg.Name,
		logger:       logger,
		tracer:       otel.Tracer("circuit-breaker"),
		currentState: StateClosed,
	}

	meter := otel.Meter("circuit-breaker")
	b.requestCounter, _ = meter.Int64Counter("delivery_breaker_requests_total",
		metric.WithDescription("Total calls through the breaker"))
	b.failureCounter, _ = meter.Int64Counter("delivery_breaker_failures_total",
		metric.WithDescription("Total failed calls"))
	b.rejectedCounter, _ = meter.Int64Counter("delivery_breaker_rejected_total",
		metric.WithDescription("Total calls refused by an open circuit"))

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.onStateChange(to, cfg.OnStateChange)
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	ctx, span := b.tracer.Start(ctx, "circuit_breaker_execute",
		trace.WithAttributes(
			attribute.String("breaker_name", b.name),
			attribute.String("state", string(b.GetState())),
		))
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("name", b.name))
	b.requestCounter.Add(ctx, 1, attrs)

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		if Rejected(err) {
			b.rejectedCounter.Add(ctx, 1, attrs)
			span.SetAttributes(attribute.Bool("circuit_open", true))
		} else {
			b.failureCounter.Add(ctx, 1, attrs)
		}
		span.RecordError(err)
		return err
	}
	return nil
}

// Rejected reports whether err is the breaker refusing the call rather
// than the call itself failing.
func Rejected(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}

// GetState returns the current circuit breaker state
func (b *Breaker) GetState() State {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.currentState
}

// IsClosed returns true if the circuit is closed
func (b *Breaker) IsClosed() bool {
	return b.GetState() == StateClosed
}

// Counts returns the current counts from the circuit breaker
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

func (b *Breaker) onStateChange(to gobreaker.State, hook func(string, State)) {
	toState := mapState(to)

	b.stateMu.Lock()
	b.currentState = toState
	b.stateMu.Unlock()

	b.logger.Warn("circuit breaker state changed",
		zap.String("breaker", b.name),
		zap.String("to", string(toState)))

	if hook != nil {
		hook(b.name, toState)
	}
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Manager holds one breaker per delivery channel.
type Manager struct {
	breakers map[string]*Breaker
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewManager creates a circuit breaker manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		logger:   logger,
	}
}

// GetOrCreate returns an existing breaker or creates a new one
func (m *Manager) GetOrCreate(name string, cfg Config) *Breaker {
	m.mu.RLock()
	if b, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return b
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}

	cfg.Name = name
	b := New(cfg, m.logger)
	m.breakers[name] = b
	return b
}

// HealthStatus is a point-in-time view of one breaker.
type HealthStatus struct {
	Name     string
	State    State
	Requests uint32
	Failures uint32
	Healthy  bool
}

// GetHealthStatus returns health status for all circuit breakers
func (m *Manager) GetHealthStatus() []HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var statuses []HealthStatus
	for name, b := range m.breakers {
		counts := b.Counts()
		statuses = append(statuses, HealthStatus{
			Name:     name,
			State:    b.GetState(),
			Requests: counts.Requests,
			Failures: counts.TotalFailures,
			Healthy:  b.IsClosed(),
		})
	}
	return statuses
}
