package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution. The name identifies the subscription.
type Middleware func(name string, next shared.EventHandler) shared.EventHandler

// chain applies middlewares so that the first one is outermost.
func chain(name string, h shared.EventHandler, middlewares []Middleware) shared.EventHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](name, h)
	}
	return h
}

// RecoveryMiddleware converts handler panics into errors.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(name string, next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic recovered",
						"handler", name,
						"event_type", event.Type,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(ctx, event)
		}
	}
}

// LoggingMiddleware logs handler execution.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(name string, next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) error {
			start := time.Now()
			err := next(ctx, event)
			duration := time.Since(start)

			if err != nil {
				logger.Error("handler failed",
					"handler", name,
					"event_type", event.Type,
					"event_id", event.ID,
					"aggregate_id", event.AggregateID,
					"duration", duration,
					"error", err,
				)
			} else {
				logger.Debug("handler completed",
					"handler", name,
					"event_type", event.Type,
					"aggregate_id", event.AggregateID,
					"duration", duration,
				)
			}

			return err
		}
	}
}

// MetricsMiddleware records handler outcome and duration.
func MetricsMiddleware(metrics *Metrics) Middleware {
	return func(name string, next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) error {
			start := time.Now()
			err := next(ctx, event)
			metrics.RecordHandlerExecution(event.Type, name, time.Since(start), err == nil)
			return err
		}
	}
}

// TimeoutMiddleware bounds handler execution through its context.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(_ string, next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, event)
		}
	}
}
