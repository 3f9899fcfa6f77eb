package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingObserver struct {
	mu        sync.Mutex
	completed int
	failed    int
	capacity  int
}

func (o *countingObserver) UpdateQueue(length, capacity, workers int) {
	o.mu.Lock()
	o.capacity = capacity
	o.mu.Unlock()
}

func (o *countingObserver) RecordJobCompletion(err error) {
	o.mu.Lock()
	o.completed++
	if err != nil {
		o.failed++
	}
	o.mu.Unlock()
}

func TestQueueProcessesJob(t *testing.T) {
	obs := &countingObserver{}
	q := New(10, 1, time.Second, obs, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var processed int32
	done := make(chan error, 1)
	ok := q.Enqueue(Job{
		ID:     "job1",
		Source: "test",
		Work: func(ctx context.Context) error {
			atomic.AddInt32(&processed, 1)
			return errors.New("transcribe failed")
		},
		OnFinish: func(err error) { done <- err },
	})
	if !ok {
		t.Fatalf("expected enqueue to succeed")
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected job error to reach OnFinish")
		}
	case <-time.After(time.Second):
		t.Fatalf("job did not complete")
	}
	if atomic.LoadInt32(&processed) != 1 {
		t.Fatalf("job not processed")
	}

	q.Stop(context.Background())
	stats := q.Stats()
	if stats.Processed != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.completed != 1 || obs.failed != 1 || obs.capacity != 10 {
		t.Fatalf("observer not updated: %+v", obs)
	}
}

func TestQueueTimeoutAndBounded(t *testing.T) {
	q := New(1, 0, 100*time.Millisecond, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	ok := q.Enqueue(Job{ID: "slow", Source: "test", Work: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	if !ok {
		t.Fatalf("expected first enqueue to succeed")
	}

	if ok := q.Enqueue(Job{ID: "drop", Source: "test", Work: func(ctx context.Context) error { return nil }}); ok {
		t.Fatalf("expected enqueue to be rejected when queue is full")
	}
}

func TestJobTimeoutCancelsWork(t *testing.T) {
	q := New(1, 1, 20*time.Millisecond, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	done := make(chan error, 1)
	q.Enqueue(Job{ID: "slow", Source: "test",
		Work: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		OnFinish: func(err error) { done <- err },
	})
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("job timeout not enforced")
	}
}

func TestEnqueueWithRetryDropsWhenFull(t *testing.T) {
	q := New(1, 0, time.Second, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	first := q.Enqueue(Job{ID: "first", Source: "test", Work: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }})
	if !first {
		t.Fatalf("expected initial enqueue to succeed")
	}

	enqueued, dropped := q.EnqueueWithRetry(ctx, Job{ID: "retry", Source: "test", Work: func(ctx context.Context) error { return nil }}, 200*time.Millisecond, 50*time.Millisecond)
	if enqueued {
		t.Fatalf("expected enqueue to fail due to full queue")
	}
	if !dropped {
		t.Fatalf("expected enqueue to be reported as dropped after retries")
	}
}

func TestEnqueueAfterStopIsRejected(t *testing.T) {
	q := New(4, 1, time.Second, nil, nil)
	if q.Enqueue(Job{ID: "early", Work: func(context.Context) error { return nil }}) {
		t.Fatalf("expected enqueue before start to fail")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	if !q.Healthy() {
		t.Fatalf("expected healthy queue after start")
	}
	q.Stop(context.Background())
	if q.Healthy() {
		t.Fatalf("expected unhealthy queue after stop")
	}
	if q.Enqueue(Job{ID: "late", Work: func(context.Context) error { return nil }}) {
		t.Fatalf("expected enqueue after stop to fail")
	}
}
