package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryouthub/learning-pipeline/internal/domain/eventlog"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/messaging/queue"
)

type memAudit struct {
	mu      sync.Mutex
	entries []eventlog.Entry
	err     error
}

func (a *memAudit) Append(_ context.Context, e eventlog.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) snapshot() []eventlog.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]eventlog.Entry(nil), a.entries...)
}

func newTestBus(audit AuditSink, metrics *Metrics) *EventBus {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEventBus(Config{
		Queue:   queue.NewImmediate(logger, nil),
		Audit:   audit,
		Logger:  logger,
		Metrics: metrics,
	})
}

func attempted(user string) shared.QuestionAttemptedPayload {
	correct := true
	return shared.QuestionAttemptedPayload{
		UserID:      user,
		AttemptID:   "att-1",
		QuestionID:  "q-1",
		Topic:       "TWK",
		IsCorrect:   &correct,
		TimeSpentMs: 40000,
		Difficulty:  string(shared.DifficultyMedium),
	}
}

func TestEventBus_PublishReturnsEnvelope(t *testing.T) {
	bus := newTestBus(nil, nil)

	event := bus.Publish(context.Background(), attempted("u1"))

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, shared.EventQuestionAttempted, event.Type)
	assert.Equal(t, "att-1", event.AggregateID)
	assert.False(t, event.Timestamp.IsZero())
	require.NoError(t, bus.Close(context.Background()))
}

func TestEventBus_PublishNilPayload(t *testing.T) {
	bus := newTestBus(nil, nil)
	assert.NotPanics(t, func() {
		event := bus.Publish(context.Background(), nil)
		assert.Empty(t, event.ID)
	})
}

func TestEventBus_FailingHandlerIsolated(t *testing.T) {
	audit := &memAudit{}
	bus := newTestBus(audit, NewMetrics(nil))

	var siblingRan, otherTypeRan atomic.Bool

	require.NoError(t, bus.Subscribe(shared.EventQuestionAttempted, "failing", func(context.Context, shared.Event) error {
		return errors.New("scoring failed")
	}))
	require.NoError(t, bus.Subscribe(shared.EventQuestionAttempted, "panicking", func(context.Context, shared.Event) error {
		panic("nil map")
	}))
	require.NoError(t, bus.Subscribe(shared.EventQuestionAttempted, "sibling", func(context.Context, shared.Event) error {
		siblingRan.Store(true)
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventContentViewed, "other", func(context.Context, shared.Event) error {
		otherTypeRan.Store(true)
		return nil
	}))

	bus.Publish(context.Background(), attempted("u1"))
	bus.Publish(context.Background(), shared.ContentViewedPayload{UserID: "u1", ContentID: "c1"})

	require.NoError(t, bus.Close(context.Background()))

	assert.True(t, siblingRan.Load())
	assert.True(t, otherTypeRan.Load())

	byHandler := map[string]eventlog.Entry{}
	for _, e := range audit.snapshot() {
		byHandler[e.Handler] = e
	}
	require.Len(t, byHandler, 4)

	assert.Equal(t, eventlog.StatusFailed, byHandler["failing"].Status)
	assert.Equal(t, "scoring failed", byHandler["failing"].ErrorMessage)
	assert.Equal(t, eventlog.StatusFailed, byHandler["panicking"].Status)
	assert.Contains(t, byHandler["panicking"].ErrorMessage, "panic")
	assert.Equal(t, eventlog.StatusProcessed, byHandler["sibling"].Status)
	assert.Equal(t, "att-1", byHandler["sibling"].AggregateID)
	assert.Equal(t, eventlog.StatusProcessed, byHandler["other"].Status)
	assert.Equal(t, "u1", byHandler["other"].AggregateID)
}

func TestEventBus_AuditFailureDoesNotPropagate(t *testing.T) {
	audit := &memAudit{err: errors.New("connection refused")}
	metrics := NewMetrics(prometheus.NewRegistry())
	bus := newTestBus(audit, metrics)

	done := make(chan struct{})
	require.NoError(t, bus.Subscribe(shared.EventContentViewed, "streak", func(context.Context, shared.Event) error {
		close(done)
		return nil
	}))

	bus.Publish(context.Background(), shared.ContentViewedPayload{UserID: "u1"})
	require.NoError(t, bus.Close(context.Background()))

	<-done
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.auditWriteErrors))
}

func TestEventBus_PublishDoesNotWaitForHandlers(t *testing.T) {
	bus := newTestBus(nil, nil)
	release := make(chan struct{})

	require.NoError(t, bus.Subscribe(shared.EventContentViewed, "slow", func(context.Context, shared.Event) error {
		<-release
		return nil
	}))

	returned := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), shared.ContentViewedPayload{UserID: "u1"})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on handler")
	}

	close(release)
	require.NoError(t, bus.Close(context.Background()))
}

func TestEventBus_Subscribe(t *testing.T) {
	bus := newTestBus(nil, nil)

	assert.ErrorIs(t, bus.Subscribe(shared.EventSkillUpdated, "nil", nil), ErrNilHandler)

	noop := func(context.Context, shared.Event) error { return nil }
	require.NoError(t, bus.Subscribe(shared.EventSkillUpdated, "recommendation", noop))
	require.NoError(t, bus.Subscribe(shared.EventSkillUpdated, "", noop))
	assert.Equal(t, []string{"recommendation", "skill.updated#2"}, bus.Handlers(shared.EventSkillUpdated))

	require.NoError(t, bus.Close(context.Background()))
	assert.ErrorIs(t, bus.Subscribe(shared.EventSkillUpdated, "late", noop), ErrEventBusClosed)
}

func TestEventBus_MetricsObserveHandlers(t *testing.T) {
	metrics := NewMetrics(nil)
	bus := newTestBus(nil, metrics)

	require.NoError(t, bus.Subscribe(shared.EventContentViewed, "ok", func(context.Context, shared.Event) error { return nil }))
	bus.Publish(context.Background(), shared.ContentViewedPayload{UserID: "u1"})
	require.NoError(t, bus.Close(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventsPublished.WithLabelValues(string(shared.EventContentViewed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.handlerRuns.WithLabelValues(string(shared.EventContentViewed), "ok", "success")))
}
