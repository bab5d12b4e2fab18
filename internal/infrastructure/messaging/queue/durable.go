package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BROKER CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// Broker is the durable job transport.
type Broker interface {
	// Enqueue pushes a job with the broker's default retry policy.
	Enqueue(ctx context.Context, job Job) error

	// Consume delivers jobs to fn until ctx is cancelled. A non-nil error
	// from fn counts as a failed attempt.
	Consume(ctx context.Context, fn func(ctx context.Context, job Job) error) error

	// Close releases the broker connection.
	Close() error
}

// Connector opens a broker connection. It must honour ctx's deadline.
type Connector func(ctx context.Context) (Broker, error)

// Prober checks that addr accepts connections.
type Prober func(ctx context.Context, addr string) error

// TCPProbe dials addr once and closes the connection.
func TCPProbe(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// DURABLE QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// Durable delivers jobs through a broker.
//
// State machine:
//
//	uninitialized -> (probe + connect) -> ready | disabled
//	ready         -> (enqueue failure) -> disabled
//
// Disabled is terminal for the process lifetime: every later job goes to the
// Immediate fallback and the broker is never probed again.
type Durable struct {
	cfg      Config
	connect  Connector
	probe    Prober
	fallback *Immediate
	logger   *slog.Logger
	observer Observer
	registry *registry

	// initMu serializes the lazy reachability check and connect. mu guards
	// state and is never held across I/O.
	initMu sync.Mutex

	mu     sync.Mutex
	state  Mode
	broker Broker
	closed bool

	consumeCtx    context.Context
	consumeCancel context.CancelFunc
	consumerDone  chan struct{}
}

// DurableOption customizes a Durable queue.
type DurableOption func(*Durable)

// WithProber replaces the TCP reachability probe.
func WithProber(p Prober) DurableOption {
	return func(d *Durable) { d.probe = p }
}

// NewDurable creates a Durable queue in the uninitialized state. No I/O
// happens until the first Enqueue.
func NewDurable(cfg Config, connect Connector, fallback *Immediate, logger *slog.Logger, observer Observer, opts ...DurableOption) *Durable {
	defaults := DefaultConfig()
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaults.EnqueueTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if fallback == nil {
		fallback = NewImmediate(logger, observer)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Durable{
		cfg:           cfg,
		connect:       connect,
		probe:         TCPProbe,
		fallback:      fallback,
		logger:        logger.With("component", "durable_queue", "queue", cfg.QueueName),
		observer:      observer,
		state:         ModeUninitialized,
		consumeCtx:    ctx,
		consumeCancel: cancel,
	}
	d.registry = newRegistry(cfg.RegistrySize, func(jobID string) {
		d.observer.JobDropped("evicted")
		d.logger.Warn("job registry full, evicted handler", "job_id", jobID)
	})

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Mode implements Adapter.
func (d *Durable) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Enqueue implements Adapter.
func (d *Durable) Enqueue(ctx context.Context, name string, event shared.Event, handler Handler) Job {
	job := newJob(name, event)

	broker, ok := d.ensureReady(ctx)
	if !ok {
		d.observer.JobFallback("disabled")
		d.fallback.dispatch(job, handler)
		return job
	}

	d.registry.Put(job.ID, handler)

	// the caller's cancellation must not disable the queue
	enqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.EnqueueTimeout)
	err := broker.Enqueue(enqCtx, job)
	cancel()

	if err != nil {
		d.registry.Remove(job.ID)
		d.disable("enqueue failed", err)
		d.observer.JobFallback("enqueue_error")
		d.fallback.dispatch(job, handler)
		return job
	}

	d.observer.JobEnqueued(ModeReady)
	return job
}

// ensureReady runs the lazy initialization on first use. Concurrent first
// callers wait for a single dial; Mode stays readable throughout.
func (d *Durable) ensureReady(ctx context.Context) (Broker, bool) {
	if broker, mode := d.current(); mode != ModeUninitialized {
		return broker, mode == ModeReady
	}

	d.initMu.Lock()
	defer d.initMu.Unlock()

	if broker, mode := d.current(); mode != ModeUninitialized {
		return broker, mode == ModeReady
	}

	broker, err := d.dial(context.WithoutCancel(ctx))

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		d.setStateLocked(ModeDisabled)
		d.logger.Warn("broker unavailable, durable queue disabled",
			"addr", d.cfg.BrokerAddr,
			"error", err,
		)
		return nil, false
	}
	if d.closed {
		_ = broker.Close()
		d.setStateLocked(ModeDisabled)
		return nil, false
	}

	d.broker = broker
	d.consumerDone = make(chan struct{})
	go d.consume(broker, d.consumerDone)

	d.setStateLocked(ModeReady)
	d.logger.Info("durable queue ready", "addr", d.cfg.BrokerAddr)

	return broker, true
}

// dial checks that the broker address is reachable, then connects. Each step
// has its own timeout.
func (d *Durable) dial(base context.Context) (Broker, error) {
	checkCtx, cancel := context.WithTimeout(base, d.cfg.ProbeTimeout)
	err := d.probe(checkCtx, d.cfg.BrokerAddr)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("unreachable: %w", err)
	}

	connCtx, cancel := context.WithTimeout(base, d.cfg.ConnectTimeout)
	broker, err := d.connect(connCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return broker, nil
}

func (d *Durable) current() (Broker, Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.broker, d.state
}

// disable trips the terminal state. The consumer keeps draining jobs that
// already reached the broker.
func (d *Durable) disable(reason string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == ModeDisabled {
		return
	}
	d.setStateLocked(ModeDisabled)
	d.logger.Error("durable queue disabled, falling back to immediate mode",
		"reason", reason,
		"error", err,
	)
}

func (d *Durable) setStateLocked(m Mode) {
	d.state = m
	d.observer.ModeChanged(m)
}

func (d *Durable) consume(broker Broker, done chan struct{}) {
	defer close(done)

	err := broker.Consume(d.consumeCtx, d.process)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("broker consumer stopped", "error", err)
	}
}

// process correlates a delivered job with its handler. The registry entry
// is removed on every path.
func (d *Durable) process(ctx context.Context, job Job) error {
	handler, ok := d.registry.Get(job.ID)
	if !ok {
		d.observer.JobDropped("handler_not_found")
		d.logger.Warn("no handler registered for job, dropping",
			"job_id", job.ID,
			"job", job.Name,
			"event_type", job.Event.Type,
			"attempt", job.Attempt,
		)
		return nil
	}
	defer d.registry.Remove(job.ID)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := runHandler(taskCtx, handler, job); err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	return nil
}

// Close stops the consumer, closes the broker and drains the fallback.
func (d *Durable) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	broker := d.broker
	done := d.consumerDone
	d.mu.Unlock()

	d.consumeCancel()

	var errs []error
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for consumer: %w", ctx.Err()))
		case <-time.After(d.cfg.ConnectTimeout):
			d.logger.Warn("broker consumer did not stop in time")
		}
	}

	if broker != nil {
		if err := broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}

	if err := d.fallback.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Pending returns the number of jobs awaiting their handler.
func (d *Durable) Pending() int {
	return d.registry.Len()
}
