package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/infinity-templates/composer/internal/dispatch"
	"github.com/infinity-templates/composer/internal/faults"
)

type recordingTransport struct {
	mu    sync.Mutex
	calls []dispatch.Record
	fail  func(attempt int) error
}

func (t *recordingTransport) Deliver(_ context.Context, rec dispatch.Record) error {
	t.mu.Lock()
	t.calls = append(t.calls, rec)
	attempt := rec.Attempts
	t.mu.Unlock()
	if t.fail != nil {
		return t.fail(attempt)
	}
	return nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func TestDispatcherDeliversSuccessfully(t *testing.T) {
	transport := &recordingTransport{}
	d := dispatch.New(transport)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Enqueue(dispatch.Record{ID: "r1", SystemName: "demo"})

	waitFor(t, func() bool { return transport.count() == 1 })
	cancel()
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	transport := &recordingTransport{
		fail: func(attempt int) error {
			if attempt < 2 {
				return faults.New(faults.DispatcherUnreachable, "connection refused")
			}
			return nil
		},
	}
	d := dispatch.New(transport)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Enqueue(dispatch.Record{ID: "r2", SystemName: "demo"})

	waitFor(t, func() bool { return transport.count() == 2 })
	cancel()
}

func TestDispatcherStopsRetryingOnUnauthorized(t *testing.T) {
	transport := &recordingTransport{
		fail: func(attempt int) error {
			return faults.New(faults.DispatcherUnauthorized, "bad token")
		},
	}
	d := dispatch.New(transport)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Enqueue(dispatch.Record{ID: "r3", SystemName: "demo"})

	waitFor(t, func() bool { return transport.count() == 1 })
	time.Sleep(50 * time.Millisecond)
	if transport.count() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", transport.count())
	}
	cancel()
}

func TestDispatcherDropsRecordWhenQueueFull(t *testing.T) {
	blocked := make(chan struct{})
	transport := &recordingTransport{
		fail: func(attempt int) error {
			<-blocked
			return nil
		},
	}
	d := dispatch.New(transport, dispatch.WithQueueCapacity(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(dispatch.Record{ID: "a"})
	d.Enqueue(dispatch.Record{ID: "b"})
	d.Enqueue(dispatch.Record{ID: "c"})
	close(blocked)
}

func TestDispatchReportsSkippedWithNoTransport(t *testing.T) {
	d := dispatch.New(dispatch.NewTransport("", ""))
	status := d.Dispatch(context.Background(), dispatch.Record{ID: "r4"})
	if status != "skipped" {
		t.Fatalf("expected skipped, got %s", status)
	}
}

func TestDispatchReportsForwardedOnSuccess(t *testing.T) {
	transport := &recordingTransport{}
	d := dispatch.New(transport)
	status := d.Dispatch(context.Background(), dispatch.Record{ID: "r5"})
	if status != "forwarded" {
		t.Fatalf("expected forwarded, got %s", status)
	}
}

func TestDispatchReportsFailedAndQueuesRetry(t *testing.T) {
	transport := &recordingTransport{
		fail: func(attempt int) error {
			return faults.New(faults.DispatcherUnreachable, "down")
		},
	}
	d := dispatch.New(transport)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	status := d.Dispatch(context.Background(), dispatch.Record{ID: "r6"})
	if status != "failed" {
		t.Fatalf("expected failed, got %s", status)
	}
	waitFor(t, func() bool { return transport.count() >= 2 })
}

func TestDispatchPlusRetryNeverExceedsMaxAttempts(t *testing.T) {
	transport := &recordingTransport{
		fail: func(attempt int) error {
			return faults.New(faults.DispatcherUnreachable, "down")
		},
	}
	d := dispatch.New(transport)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	status := d.Dispatch(context.Background(), dispatch.Record{ID: "r7"})
	if status != "failed" {
		t.Fatalf("expected failed, got %s", status)
	}
	waitFor(t, func() bool { return transport.count() == 3 })
	// Give any further (incorrect) retries a chance to fire before asserting
	// the count never climbs past the documented 3-attempt ceiling.
	time.Sleep(200 * time.Millisecond)
	if got := transport.count(); got != 3 {
		t.Fatalf("expected exactly 3 total deliveries across the sync attempt and background retries, got %d", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
