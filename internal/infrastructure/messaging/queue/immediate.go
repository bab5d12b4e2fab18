package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IMMEDIATE QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// Immediate runs every job on its own goroutine with a cancellable context
// derived from the adapter. No persistence, no retry.
type Immediate struct {
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
	logger   *slog.Logger
	observer Observer
}

// NewImmediate creates an Immediate queue.
func NewImmediate(logger *slog.Logger, observer Observer) *Immediate {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Immediate{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With("component", "immediate_queue"),
		observer: observer,
	}
}

// Enqueue implements Adapter.
func (q *Immediate) Enqueue(_ context.Context, name string, event shared.Event, handler Handler) Job {
	job := newJob(name, event)
	q.dispatch(job, handler)
	return job
}

// Mode implements Adapter.
func (q *Immediate) Mode() Mode {
	return ModeImmediate
}

// dispatch runs the handler asynchronously. Jobs arriving after Close are
// dropped.
func (q *Immediate) dispatch(job Job, handler Handler) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.observer.JobDropped("closed")
		q.logger.Warn("queue closed, dropping job",
			"job_id", job.ID,
			"job", job.Name,
			"event_type", job.Event.Type,
		)
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()

	q.observer.JobEnqueued(ModeImmediate)

	taskCtx, cancel := context.WithCancel(q.ctx)

	go func() {
		defer q.wg.Done()
		defer cancel()

		if err := runHandler(taskCtx, handler, job); err != nil {
			q.logger.Error("job failed",
				"job_id", job.ID,
				"job", job.Name,
				"event_type", job.Event.Type,
				"error", err,
			)
		}
	}()
}

// Close waits for in-flight jobs until ctx expires, then cancels them.
func (q *Immediate) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		q.logger.Warn("immediate queue close timed out, in-flight jobs cancelled")
		return ctx.Err()
	}
}

// runHandler invokes handler, converting a panic into an error.
func runHandler(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v\n%s", job.Name, r, debug.Stack())
		}
	}()
	return handler(ctx, job.Event)
}
