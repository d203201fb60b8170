// Package workerpool provides a bounded worker pool with per-job retry,
// used to keep outbound delivery concurrency under control.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of delivery work.
type Job struct {
	ID      string
	Payload interface{}
	Context context.Context
}

// Handler processes one job. A non-nil error triggers a retry until the
// attempt budget is spent.
type Handler func(ctx context.Context, job *Job) error

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the job queue
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs
	MaxRetries int
	// RetryDelay is the base delay between retries, scaled per attempt
	RetryDelay time.Duration
	// GracefulShutdownTimeout is the timeout for graceful shutdown
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for notification dispatch.
func DefaultConfig() Config {
	return Config{
		Workers:                 16,
		QueueSize:               1024,
		MaxRetries:              3,
		RetryDelay:              200 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a fixed set of workers draining a bounded queue.
type Pool struct {
	config  Config
	handler Handler
	logger  *zap.Logger

	jobChan  chan *Job
	stopping chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// ctx is cancelled only when a graceful drain times out
	ctx    context.Context
	cancel context.CancelFunc

	jobsSubmitted int64
	jobsCompleted int64
	jobsFailed    int64
	jobsRetried   int64
	activeWorkers int64
	queueDepth    int64
}

// New creates a new worker pool
func New(cfg Config, fn Handler, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = DefaultConfig().GracefulShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:   cfg,
		handler:  fn,
		logger:   logger,
		jobChan:  make(chan *Job, cfg.QueueSize),
		stopping: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit adds a job to the queue. It never blocks: a full queue is an
// error so the caller can apply backpressure upstream.
func (p *Pool) Submit(job *Job) error {
	select {
	case <-p.stopping:
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case p.jobChan <- job:
		atomic.AddInt64(&p.jobsSubmitted, 1)
		atomic.AddInt64(&p.queueDepth, 1)
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// Stop drains queued jobs, then shuts the pool down. Jobs still running
// when the timeout expires have their context cancelled.
func (p *Pool) Stop() error {
	p.logger.Info("stopping worker pool")

	p.stopOnce.Do(func() {
		close(p.stopping)
		close(p.jobChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
		p.cancel()
	}
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for job := range p.jobChan {
		atomic.AddInt64(&p.queueDepth, -1)
		p.process(id, job)
	}
}

// process runs one job with linear-backoff retries.
func (p *Pool) process(workerID int, job *Job) {
	ctx := job.Context
	if ctx == nil {
		ctx = p.ctx
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		lastErr = p.handler(ctx, job)
		if lastErr == nil {
			atomic.AddInt64(&p.jobsCompleted, 1)
			return
		}

		if attempt < p.config.MaxRetries {
			atomic.AddInt64(&p.jobsRetried, 1)
			p.logger.Debug("retrying job",
				zap.String("job_id", job.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = p.config.MaxRetries
			case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
			}
		}
	}

	atomic.AddInt64(&p.jobsFailed, 1)
	p.logger.Error("job failed",
		zap.String("job_id", job.ID),
		zap.Int("worker_id", workerID),
		zap.Error(lastErr))
}

// Stats holds point-in-time pool counters.
type Stats struct {
	JobsSubmitted int64
	JobsCompleted int64
	JobsFailed    int64
	JobsRetried   int64
	ActiveWorkers int64
	QueueDepth    int64
	QueueCapacity int
	Workers       int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		JobsSubmitted: atomic.LoadInt64(&p.jobsSubmitted),
		JobsCompleted: atomic.LoadInt64(&p.jobsCompleted),
		JobsFailed:    atomic.LoadInt64(&p.jobsFailed),
		JobsRetried:   atomic.LoadInt64(&p.jobsRetried),
		ActiveWorkers: atomic.LoadInt64(&p.activeWorkers),
		QueueDepth:    atomic.LoadInt64(&p.queueDepth),
		QueueCapacity: p.config.QueueSize,
		Workers:       p.config.Workers,
	}
}

// IsHealthy reports whether the queue has headroom.
func (p *Pool) IsHealthy() bool {
	stats := p.Stats()
	return float64(stats.QueueDepth)/float64(stats.QueueCapacity) < 0.9
}
