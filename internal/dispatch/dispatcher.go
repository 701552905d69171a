package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/infinity-templates/composer/internal/faults"
)

const (
	defaultQueueCapacity = 256
	maxAttempts          = 3
	baseBackoff          = 500 * time.Millisecond
	maxBackoff           = 5 * time.Second
)

// Dispatcher delivers Records to a Transport from a bounded queue, retrying
// transient failures with exponential backoff. A full queue drops the new
// record and logs rather than blocking the caller; dispatch is best-effort
// and must never slow down composition itself.
type Dispatcher struct {
	transport Transport
	queue     chan Record
	pool      *pool.ContextPool
	logger    *log.Logger
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueCapacity overrides the default bounded queue size.
func WithQueueCapacity(n int) Option {
	return func(d *Dispatcher) { d.queue = make(chan Record, n) }
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New returns a Dispatcher delivering through transport. Call Run in its
// own goroutine to start draining the queue.
func New(transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: transport,
		queue:     make(chan Record, defaultQueueCapacity),
		logger:    log.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Configured reports whether a real transport backs this Dispatcher, as
// opposed to the no-op transport used when no dispatch target is set.
func (d *Dispatcher) Configured() bool {
	_, noop := d.transport.(noopTransport)
	return !noop
}

// Dispatch attempts immediate delivery of rec and reports the outcome of
// that first attempt only: "skipped" when no transport is configured,
// "forwarded" on success, or "failed" otherwise. On failure that isn't
// terminal, rec is queued for background retries via Enqueue so the caller
// never waits on the full backoff sequence.
func (d *Dispatcher) Dispatch(ctx context.Context, rec Record) string {
	if !d.Configured() {
		return "skipped"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = d.now().UTC()
	}
	rec.Attempts = 1
	err := d.transport.Deliver(ctx, rec)
	if err == nil {
		return "forwarded"
	}

	var f *faults.Fault
	if errors.As(err, &f) && f.Kind == faults.DispatcherUnauthorized {
		d.logger.Printf("dispatch: delivery for %s terminally unauthorized: %v", rec.ID, err)
		return "failed"
	}

	rec.LastError = err.Error()
	d.Enqueue(rec)
	return "failed"
}

// Enqueue submits rec for delivery. It never blocks: if the queue is full,
// the record is dropped and logged.
func (d *Dispatcher) Enqueue(rec Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = d.now().UTC()
	}
	select {
	case d.queue <- rec:
	default:
		d.logger.Printf("dispatch: queue full, dropping record %s for %s", rec.ID, rec.SystemName)
	}
}

// Run drains the queue until ctx is canceled, delivering each record
// through a bounded worker pool so a single slow delivery never serializes
// the rest of the queue.
func (d *Dispatcher) Run(ctx context.Context) {
	p := pool.New().WithContext(ctx).WithMaxGoroutines(8)
	d.pool = p

	for {
		select {
		case <-ctx.Done():
			_ = p.Wait()
			return
		case rec := <-d.queue:
			p.Go(func(ctx context.Context) error {
				d.deliverWithRetry(ctx, rec)
				return nil
			})
		}
	}
}

// deliverWithRetry continues delivering rec up to maxAttempts total
// deliveries, counting any synchronous attempt Dispatch already recorded on
// rec.Attempts. A record enqueued fresh (Attempts == 0) starts at attempt 1
// with no initial wait; a record handed off after a failed synchronous
// attempt resumes at attempt 2 and waits out the 1->2 backoff first, so the
// combined sync+async sequence never exceeds maxAttempts deliveries and
// keeps the documented backoff spacing between every pair of attempts.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, rec Record) {
	backoff := baseBackoff
	start := rec.Attempts + 1
	if start < 1 {
		start = 1
	}
	for attempt := start; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		rec.Attempts = attempt
		err := d.transport.Deliver(ctx, rec)
		if err == nil {
			return
		}

		var f *faults.Fault
		if errors.As(err, &f) && f.Kind == faults.DispatcherUnauthorized {
			d.logger.Printf("dispatch: delivery for %s terminally unauthorized, not retrying: %v", rec.ID, err)
			return
		}

		if attempt == maxAttempts {
			d.logger.Printf("dispatch: delivery for %s failed after %d attempts: %v", rec.ID, attempt, err)
			return
		}

		d.logger.Printf("dispatch: delivery for %s failed (attempt %d/%d), retrying in %s: %v", rec.ID, attempt, maxAttempts, backoff, err)
	}
}
