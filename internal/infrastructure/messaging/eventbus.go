// Package messaging implements the in-process event bus of the learning
// pipeline. Delivery is delegated to a queue.Adapter; every handler run is
// recorded to the audit log.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/eventlog"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/messaging/queue"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when subscribing to a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// AuditSink receives one entry per handler run.
type AuditSink interface {
	Append(ctx context.Context, entry eventlog.Entry) error
}

type subscription struct {
	name    string
	handler shared.EventHandler
}

// EventBus dispatches published events to subscribed handlers through a
// queue adapter. Handlers for one event type run independently; a failing
// handler never affects its siblings or the publisher.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]subscription
	middlewares []Middleware
	queue       queue.Adapter
	audit       AuditSink
	logger      *slog.Logger
	metrics     *Metrics
	auditWait   time.Duration
	closed      bool
}

// Config contains configuration for EventBus.
type Config struct {
	// Queue delivers handler jobs. Defaults to an Immediate queue.
	Queue queue.Adapter

	// Audit records handler outcomes. Optional.
	Audit AuditSink

	// Logger for structured logging
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *Metrics

	// HandlerTimeout bounds each handler run. Zero means no bound.
	HandlerTimeout time.Duration

	// AuditTimeout bounds each audit append.
	AuditTimeout time.Duration
}

// NewEventBus creates a bus. Recovery and logging middleware are always
// installed; metrics and timeout middleware follow the config.
func NewEventBus(cfg Config) *EventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "event_bus")

	if cfg.Queue == nil {
		var observer queue.Observer
		if cfg.Metrics != nil {
			observer = cfg.Metrics
		}
		cfg.Queue = queue.NewImmediate(cfg.Logger, observer)
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = 5 * time.Second
	}

	bus := &EventBus{
		handlers:  make(map[shared.EventType][]subscription),
		queue:     cfg.Queue,
		audit:     cfg.Audit,
		logger:    logger,
		metrics:   cfg.Metrics,
		auditWait: cfg.AuditTimeout,
	}

	bus.middlewares = append(bus.middlewares, LoggingMiddleware(logger), RecoveryMiddleware(logger))
	if cfg.Metrics != nil {
		bus.middlewares = append(bus.middlewares, MetricsMiddleware(cfg.Metrics))
	}
	if cfg.HandlerTimeout > 0 {
		bus.middlewares = append(bus.middlewares, TimeoutMiddleware(cfg.HandlerTimeout))
	}

	return bus
}

// Use appends middleware. It only affects handlers subscribed afterwards.
func (b *EventBus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mw)
}

// Subscribe registers handler for eventType under name. Multiple handlers per
// type are allowed; their jobs are enqueued in registration order.
func (b *EventBus) Subscribe(eventType shared.EventType, name string, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	if name == "" {
		name = fmt.Sprintf("%s#%d", eventType, len(b.handlers[eventType])+1)
	}

	b.handlers[eventType] = append(b.handlers[eventType], subscription{
		name:    name,
		handler: chain(name, handler, b.middlewares),
	})
	b.logger.Debug("subscribed handler", "event_type", eventType, "handler", name)

	return nil
}

// Publish builds the event envelope, hands one job per subscribed handler to
// the queue and returns the envelope without waiting for any handler.
func (b *EventBus) Publish(ctx context.Context, payload shared.Payload) shared.Event {
	if payload == nil {
		b.logger.Warn("publish called with nil payload, ignoring")
		return shared.Event{}
	}

	event := shared.NewEvent(payload)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Warn("event bus closed, event not delivered",
			"event_type", event.Type,
			"event_id", event.ID,
		)
		return event
	}
	subs := append([]subscription(nil), b.handlers[event.Type]...)
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.RecordPublish(event.Type)
	}

	if len(subs) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.Type)
		return event
	}

	for _, sub := range subs {
		b.queue.Enqueue(ctx, string(event.Type)+":"+sub.name, event.Clone(), b.wrap(sub))
	}

	return event
}

// wrap runs the subscription and records its outcome. The returned error is
// always nil so that queue retries never replay a handler.
func (b *EventBus) wrap(sub subscription) queue.Handler {
	return func(ctx context.Context, event shared.Event) error {
		err := sub.handler(ctx, event)
		b.record(ctx, event, sub.name, err)
		return nil
	}
}

func (b *EventBus) record(ctx context.Context, event shared.Event, handler string, runErr error) {
	if b.audit == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.auditWait)
	defer cancel()

	entry := eventlog.NewEntry(event, handler, runErr, time.Now().UTC())
	if err := b.audit.Append(ctx, entry); err != nil {
		if b.metrics != nil {
			b.metrics.RecordAuditError()
		}
		b.logger.Error("failed to record handler outcome",
			"handler", handler,
			"event_type", event.Type,
			"event_id", event.ID,
			"error", err,
		)
	}
}

// Handlers returns the subscription names for eventType in order.
func (b *EventBus) Handlers(eventType shared.EventType) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.handlers[eventType]))
	for _, sub := range b.handlers[eventType] {
		names = append(names, sub.name)
	}
	return names
}

// QueueMode reports the delivery strategy currently in effect.
func (b *EventBus) QueueMode() queue.Mode {
	return b.queue.Mode()
}

// Close stops accepting events and drains the queue until ctx expires.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.queue.Close(ctx)
	b.logger.Info("event bus closed")
	return err
}

var _ shared.EventBus = (*EventBus)(nil)
