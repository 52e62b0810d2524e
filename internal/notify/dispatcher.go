package notify

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"adoptline/internal/metrics"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("dispatcher closed")
)

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxAttempts int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// Dispatcher queues notifications and delivers them from worker goroutines,
// retrying failed deliveries a bounded number of times.
type Dispatcher struct {
	next    Notifier
	opts    DispatcherOptions
	queue   chan Notification
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	stop    chan struct{}
	stopped sync.Once
}

func NewDispatcher(next Notifier, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	d := &Dispatcher{
		next:  next,
		opts:  opts,
		queue: make(chan Notification, opts.QueueSize),
		stop:  make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Notify enqueues n without waiting for delivery.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- n:
		d.opts.Metrics.SetQueueDepth(len(d.queue))
		return nil
	default:
		d.opts.Log.WarnContext(ctx, "notification dropped", "user_id", n.UserID, "kind", n.Kind, "err", ErrQueueFull)
		d.opts.Metrics.IncSideEffectFailure("notify")
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		d.opts.Metrics.SetQueueDepth(len(d.queue))
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	ctx := context.Background()
	var err error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		if err = d.next.Notify(ctx, n); err == nil {
			return
		}
		if attempt == d.opts.MaxAttempts {
			break
		}
		delay := d.opts.Backoff << (attempt - 1)
		delay += time.Duration(rand.Int64N(int64(delay)/2 + 1))
		select {
		case <-time.After(delay):
		case <-d.stop:
			d.opts.Log.Warn("notification abandoned on shutdown", "id", n.ID, "user_id", n.UserID, "attempts", attempt, "err", err)
			d.opts.Metrics.IncSideEffectFailure("notify")
			return
		}
	}
	d.opts.Log.Warn("notification failed", "id", n.ID, "user_id", n.UserID, "kind", n.Kind, "attempts", d.opts.MaxAttempts, "err", err)
	d.opts.Metrics.IncSideEffectFailure("notify")
}

// Close stops accepting notifications and waits for queued ones to be
// delivered. When ctx ends first, pending retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.stopped.Do(func() { close(d.stop) })
		<-done
		return ctx.Err()
	}
}
