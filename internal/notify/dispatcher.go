package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/club-registration/internal/metrics"
)

// Options tunes a Dispatcher.
type Options struct {
	Workers     int
	QueueSize   int
	MaxRetries  int
	RetryDelay  time.Duration
	SendTimeout time.Duration
	// DrainTimeout bounds how long Run waits for queued messages on shutdown.
	DrainTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.QueueSize < 1 {
		o.QueueSize = 64
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 5 * time.Second
	}
	return o
}

// Dispatcher is a bounded queue drained by a fixed pool of workers. When the
// queue is full, Notify drops the message and counts it.
type Dispatcher struct {
	sink    Sink
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	queue chan Message
	wg    sync.WaitGroup
	start sync.Once

	// stop is cancelled when a drain times out; in-flight sends and retry
	// waits give up on it.
	stop  context.Context
	abort context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(sink Sink, opts Options, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	opts = opts.withDefaults()
	stop, abort := context.WithCancel(context.Background())
	return &Dispatcher{
		sink:    sink,
		opts:    opts,
		log:     log.With("sink", sink.Name()),
		metrics: m,
		queue:   make(chan Message, opts.QueueSize),
		stop:    stop,
		abort:   abort,
	}
}

// Notify enqueues msg without blocking.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, msg, "dispatcher closed")
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.drop(ctx, msg, "queue is full")
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.start.Do(func() {
		for i := 0; i < d.opts.Workers; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
	})
}

// Run starts the workers, blocks until ctx is cancelled, then drains. A
// drain that outlives DrainTimeout is logged and abandoned; it is not an
// error for the caller.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.Start()
	<-ctx.Done()

	drainCtx, cancel := context.WithTimeout(context.Background(), d.opts.DrainTimeout)
	defer cancel()
	if err := d.Close(drainCtx); err != nil {
		d.log.Warn("notifications abandoned on shutdown", "error", err)
	}
	return nil
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to end, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.Start() // workers must exist to drain

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.log.Warn("notification drain timed out", "pending", len(d.queue))
		d.abort()
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg, n)
	}
}

func (d *Dispatcher) deliver(msg Message, worker int) {
	attempts := d.opts.MaxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(d.stop, d.opts.SendTimeout)
		err = d.sink.Send(ctx, msg)
		cancel()
		if err == nil {
			d.metrics.NotificationSent(d.sink.Name())
			d.log.Debug("notification delivered",
				"notification_id", msg.ID, "type", msg.Type, "worker", worker, "attempt", attempt)
			return
		}
		if attempt < attempts {
			backoff := d.opts.RetryDelay * time.Duration(attempt)
			d.log.Warn("notification delivery failed, retrying",
				"notification_id", msg.ID, "attempt", attempt, "retry_in", backoff, "error", err)
			if !d.wait(backoff) {
				break
			}
		}
	}

	d.metrics.NotificationFailed(d.sink.Name())
	d.log.Error("notification abandoned",
		"notification_id", msg.ID, "type", msg.Type, "registration_id", msg.RegistrationID,
		"attempts", attempts, "error", err)
}

// wait pauses for delay and reports false if the dispatcher was aborted
// first.
func (d *Dispatcher) wait(delay time.Duration) bool {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.stop.Done():
		return false
	}
}

func (d *Dispatcher) drop(ctx context.Context, msg Message, why string) {
	d.metrics.NotificationDropped()
	d.log.WarnContext(ctx, "notification dropped",
		"notification_id", msg.ID, "type", msg.Type, "registration_id", msg.RegistrationID, "reason", why)
}
