package workerpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPoolProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	pool, err := New(Config{Workers: 4, QueueSize: 16, MaxRetries: 0}, func(_ context.Context, job *Job) error {
		mu.Lock()
		seen[job.ID]++
		mu.Unlock()
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pool.Start()

	for _, id := range []string{"a", "b", "c"} {
		if err := pool.Submit(&Job{ID: id}); err != nil {
			t.Fatalf("Submit(%s): %v", id, err)
		}
	}
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"a", "b", "c"} {
		if seen[id] != 1 {
			t.Errorf("job %s processed %d times, want 1", id, seen[id])
		}
	}

	stats := pool.Stats()
	if stats.JobsCompleted != 3 {
		t.Errorf("JobsCompleted = %d, want 3", stats.JobsCompleted)
	}
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	pool, err := New(Config{Workers: 1, QueueSize: 4, MaxRetries: 3, RetryDelay: time.Millisecond}, func(_ context.Context, _ *Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pool.Start()

	if err := pool.Submit(&Job{ID: "retry-me"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	stats := pool.Stats()
	if stats.JobsCompleted != 1 || stats.JobsFailed != 0 {
		t.Errorf("stats = %+v, want one completed, none failed", stats)
	}
}

func TestPoolExhaustedRetriesCountAsFailed(t *testing.T) {
	pool, err := New(Config{Workers: 1, QueueSize: 4, MaxRetries: 1, RetryDelay: time.Millisecond}, func(_ context.Context, _ *Job) error {
		return errors.New("permanent")
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pool.Start()

	if err := pool.Submit(&Job{ID: "doomed"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stats := pool.Stats()
	if stats.JobsFailed != 1 {
		t.Errorf("JobsFailed = %d, want 1", stats.JobsFailed)
	}
	if stats.JobsRetried != 1 {
		t.Errorf("JobsRetried = %d, want 1", stats.JobsRetried)
	}
}

func TestSubmitAfterStopFails(t *testing.T) {
	pool, err := New(Config{Workers: 1, QueueSize: 1}, func(_ context.Context, _ *Job) error {
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pool.Start()
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := pool.Submit(&Job{ID: "late"}); err == nil {
		t.Error("Submit after Stop should fail")
	}
}
