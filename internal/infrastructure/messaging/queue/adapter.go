// Package queue decouples publishing from handler invocation. Two strategies
// share the Adapter contract: Immediate runs handlers on their own goroutine,
// Durable pushes jobs through a broker and falls back to Immediate when the
// broker cannot be used.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// Handler runs one job. The context is cancelled when the adapter shuts down.
type Handler func(ctx context.Context, event shared.Event) error

// Job is a unit of work handed to the adapter.
type Job struct {
	ID         string
	Name       string
	Event      shared.Event
	EnqueuedAt time.Time

	// Attempt is the 1-based delivery attempt. Only brokers increment it.
	Attempt int
}

func newJob(name string, event shared.Event) Job {
	return Job{
		ID:         uuid.NewString(),
		Name:       name,
		Event:      event,
		EnqueuedAt: time.Now().UTC(),
		Attempt:    1,
	}
}

// Mode is the current delivery strategy of an adapter.
type Mode string

const (
	ModeImmediate     Mode = "immediate"
	ModeUninitialized Mode = "uninitialized"
	ModeReady         Mode = "ready"
	ModeDisabled      Mode = "disabled"
)

// Adapter accepts jobs for eventual delivery.
type Adapter interface {
	// Enqueue schedules handler for event and returns immediately. It never
	// fails: delivery problems are absorbed by the adapter.
	Enqueue(ctx context.Context, name string, event shared.Event, handler Handler) Job

	// Mode reports the current strategy.
	Mode() Mode

	// Close stops accepting jobs and waits for in-flight work until ctx
	// expires.
	Close(ctx context.Context) error
}

// Observer receives adapter lifecycle signals. Implemented by the bus metrics.
type Observer interface {
	JobEnqueued(mode Mode)
	JobFallback(reason string)
	JobDropped(reason string)
	ModeChanged(mode Mode)
}

type nopObserver struct{}

func (nopObserver) JobEnqueued(Mode)   {}
func (nopObserver) JobFallback(string) {}
func (nopObserver) JobDropped(string)  {}
func (nopObserver) ModeChanged(Mode)   {}

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY
// ══════════════════════════════════════════════════════════════════════════════

// Config selects and tunes the strategy.
type Config struct {
	// Durable enables broker-backed delivery.
	Durable bool

	// BrokerURL is the broker connection string.
	BrokerURL string

	// BrokerAddr is the host:port probed before connecting. Derived from
	// BrokerURL by the caller.
	BrokerAddr string

	// QueueName is the broker queue to use.
	QueueName string

	ProbeTimeout   time.Duration
	ConnectTimeout time.Duration
	EnqueueTimeout time.Duration

	// RegistrySize bounds the job id to handler registry.
	RegistrySize int
}

// DefaultConfig returns sensible defaults (Immediate mode).
func DefaultConfig() Config {
	return Config{
		QueueName:      "learning-pipeline",
		ProbeTimeout:   500 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		EnqueueTimeout: 2 * time.Second,
		RegistrySize:   10000,
	}
}

// DurableRequested reports whether the config asks for, and fully describes,
// durable delivery. Missing broker settings force Immediate.
func (c Config) DurableRequested() bool {
	return c.Durable && c.BrokerURL != "" && c.BrokerAddr != "" && c.QueueName != ""
}

// New builds the adapter selected by cfg. connect is only used in durable mode.
func New(cfg Config, connect Connector, logger *slog.Logger, observer Observer) Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	immediate := NewImmediate(logger, observer)

	if !cfg.DurableRequested() || connect == nil {
		if cfg.Durable {
			logger.Warn("durable queue requested without broker settings, using immediate mode",
				"has_broker_url", cfg.BrokerURL != "",
				"queue", cfg.QueueName,
			)
		}
		return immediate
	}

	return NewDurable(cfg, connect, immediate, logger, observer)
}
