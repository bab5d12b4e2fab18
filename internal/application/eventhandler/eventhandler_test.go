package eventhandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryouthub/learning-pipeline/internal/application/command"
	"github.com/tryouthub/learning-pipeline/internal/domain/eventlog"
	"github.com/tryouthub/learning-pipeline/internal/domain/recommendation"
	"github.com/tryouthub/learning-pipeline/internal/domain/retention"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/messaging"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/persistence/memory"
)

// recordingPublisher captures follow-on events without dispatching them.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(_ context.Context, payload shared.Payload) shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := shared.NewEvent(payload)
	p.events = append(p.events, e)
	return e
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func depsFor(store *memory.Store) Dependencies {
	return Dependencies{
		Skills:          store.Skills(),
		Performance:     store.Performance(),
		Recommendations: store.Recommendations(),
		History:         store.History(),
		Progress:        store.Progress(),
		Gamification:    store.Gamification(),
		Summaries:       store.Summaries(),
	}
}

func newPipeline(t *testing.T, store *memory.Store, pipelines Pipelines) *messaging.EventBus {
	t.Helper()
	bus := messaging.NewEventBus(messaging.Config{
		Audit: command.NewAuditLog(store.EventLog(), nil),
	})
	require.NoError(t, Register(bus, depsFor(store), pipelines))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bus.Close(ctx)
	})
	return bus
}

func boolPtr(b bool) *bool { return &b }

func auditedBy(t *testing.T, store *memory.Store, status eventlog.Status) map[string]int {
	t.Helper()
	entries, err := store.EventLog().List(context.Background(), eventlog.ListFilter{Status: status, Limit: eventlog.MaxLimit})
	require.NoError(t, err)
	out := map[string]int{}
	for _, e := range entries {
		out[e.Handler]++
	}
	return out
}

func TestRegister_Subscriptions(t *testing.T) {
	t.Run("all pipelines", func(t *testing.T) {
		bus := newPipeline(t, memory.NewStore(), AllPipelines())

		assert.Equal(t, []string{SubscriberSkillEngine, SubscriberTopicPerformance}, bus.Handlers(shared.EventQuestionAttempted))
		assert.Equal(t, []string{SubscriberRecommendationEngine}, bus.Handlers(shared.EventSkillUpdated))
		assert.Equal(t, []string{SubscriberRetentionPipeline}, bus.Handlers(shared.EventAttemptCompleted))
		assert.Equal(t, []string{SubscriberRetentionPipeline}, bus.Handlers(shared.EventTestSubmitted))
		assert.Equal(t, []string{SubscriberRetentionPipeline}, bus.Handlers(shared.EventAttemptSubmitted))
		assert.Equal(t, []string{SubscriberActivityStreak}, bus.Handlers(shared.EventContentViewed))
	})

	t.Run("disabled pipelines are not subscribed", func(t *testing.T) {
		bus := newPipeline(t, memory.NewStore(), Pipelines{Retention: true})

		assert.Empty(t, bus.Handlers(shared.EventQuestionAttempted))
		assert.Empty(t, bus.Handlers(shared.EventSkillUpdated))
		assert.NotEmpty(t, bus.Handlers(shared.EventAttemptCompleted))
	})
}

func TestPipeline_QuestionAttemptedToRecommendation(t *testing.T) {
	store := memory.NewStore()
	bus := newPipeline(t, store, AllPipelines())

	bus.Publish(context.Background(), shared.QuestionAttemptedPayload{
		UserID:      "user-1",
		AttemptID:   "att-1",
		Topic:       "twk",
		IsCorrect:   boolPtr(true),
		TimeSpentMs: 40000,
		Difficulty:  "medium",
	})

	require.Eventually(t, func() bool {
		return len(store.AllRecommendations("user-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := store.AllRecommendations("user-1")[0]
	assert.Equal(t, recommendation.TypeReview, rec.Type)
	assert.Equal(t, recommendation.SourceSkillEngine, rec.Source)
	assert.Equal(t, shared.Topic("TWK"), rec.Topic)

	record, err := store.Skills().Get(context.Background(), "user-1", "TWK")
	require.NoError(t, err)
	assert.InDelta(t, 62.12, record.SkillScore, 0.001)

	require.Eventually(t, func() bool {
		_, ok := store.TopicPerformance("user-1", "TWK")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		processed := auditedBy(t, store, eventlog.StatusProcessed)
		return processed[SubscriberSkillEngine] == 1 &&
			processed[SubscriberTopicPerformance] == 1 &&
			processed[SubscriberRecommendationEngine] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPipeline_InvalidAnswerIsAuditedAsFailed(t *testing.T) {
	store := memory.NewStore()
	bus := newPipeline(t, store, AllPipelines())

	event := bus.Publish(context.Background(), shared.QuestionAttemptedPayload{
		UserID:      "user-1",
		Topic:       "TWK",
		TimeSpentMs: 1000,
	})
	assert.Equal(t, "user-1", event.AggregateID)

	require.Eventually(t, func() bool {
		failed := auditedBy(t, store, eventlog.StatusFailed)
		return failed[SubscriberSkillEngine] == 1 && failed[SubscriberTopicPerformance] == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, store.AllRecommendations("user-1"))
}

func TestPipeline_AttemptCompletedRunsRetention(t *testing.T) {
	store := memory.NewStore()
	store.AddAttempt(retention.Attempt{ID: "att-1", UserID: "user-1", Score: 350, Passed: true, CompletedAt: time.Now().UTC()})
	store.AddAnswer("att-1", "TWK", false)
	bus := newPipeline(t, store, AllPipelines())

	bus.Publish(context.Background(), shared.AttemptCompletedPayload{AttemptPayload: shared.AttemptPayload{
		UserID: "user-1", AttemptID: "att-1", Score: 350, Passed: true,
	}})

	require.Eventually(t, func() bool {
		return len(store.SummariesFor("user-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	progress, ok := store.UserProgress("user-1")
	require.True(t, ok)
	assert.Equal(t, 350.0, progress.LatestScore)
	assert.ElementsMatch(t, []retention.BadgeCode{retention.BadgeFirstAttempt, retention.BadgeFirstPass}, store.Badges("user-1"))
}

func TestOnAttemptFinishedHandler_PublishesFollowOnEvents(t *testing.T) {
	store := memory.NewStore()
	deps := depsFor(store)
	run := command.NewRunRetentionUpdateHandler(command.RetentionRepositories{
		History:         deps.History,
		Progress:        deps.Progress,
		Gamification:    deps.Gamification,
		Summaries:       deps.Summaries,
		Recommendations: deps.Recommendations,
	}, nil, nil)
	pub := &recordingPublisher{}
	h := NewOnAttemptFinishedHandler(run, pub, nil)

	for _, payload := range []shared.Payload{
		shared.TestSubmittedPayload{AttemptPayload: shared.AttemptPayload{UserID: "u", AttemptID: "a1", Score: 100}},
		shared.AttemptSubmittedPayload{AttemptPayload: shared.AttemptPayload{UserID: "u", AttemptID: "a2", Score: 100}},
	} {
		require.NoError(t, h.Handle(context.Background(), shared.NewEvent(payload)))
	}

	types := pub.types()
	assert.Equal(t, []shared.EventType{
		shared.EventScoreUpdated,
		shared.EventXPUpdated,
		shared.EventStreakUpdated,
		shared.EventScoreUpdated,
		shared.EventXPUpdated,
	}, types)
}

func TestOnAttemptFinishedHandler_RejectsForeignPayload(t *testing.T) {
	h := NewOnAttemptFinishedHandler(nil, &recordingPublisher{}, nil)

	err := h.Handle(context.Background(), shared.NewEvent(shared.ContentViewedPayload{UserID: "u"}))

	assert.Error(t, err)
}

func TestOnQuestionAttemptedHandler_GenericPayload(t *testing.T) {
	store := memory.NewStore()
	pub := &recordingPublisher{}
	h := NewOnQuestionAttemptedHandler(command.NewUpdateSkillHandler(store.Skills(), nil), pub, nil)

	event := shared.NewEvent(shared.NewGenericPayload(shared.EventQuestionAttempted, map[string]any{
		"user_id":       "u",
		"topic":         "tiu",
		"is_correct":    false,
		"time_spent_ms": 1000,
	}))

	require.NoError(t, h.Handle(context.Background(), event))

	record, err := store.Skills().Get(context.Background(), "u", "TIU")
	require.NoError(t, err)
	assert.Equal(t, 1, record.TotalAnswered)
	assert.Equal(t, []shared.EventType{shared.EventSkillUpdated}, pub.types())
}

func TestOnQuestionAttemptedHandler_CamelCasePayload(t *testing.T) {
	store := memory.NewStore()
	pub := &recordingPublisher{}
	h := NewOnQuestionAttemptedHandler(command.NewUpdateSkillHandler(store.Skills(), nil), pub, nil)

	event := shared.NewEvent(shared.NewGenericPayload(shared.EventQuestionAttempted, map[string]any{
		"userId":      "u1",
		"attemptId":   "a1",
		"topic":       "twk",
		"isCorrect":   true,
		"timeSpentMs": 40000,
	}))
	assert.Equal(t, "a1", event.AggregateID)

	p, err := payloadAs[shared.QuestionAttemptedPayload](event)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "a1", p.AttemptID)
	require.NotNil(t, p.IsCorrect)
	assert.True(t, *p.IsCorrect)
	assert.Equal(t, int64(40000), p.TimeSpentMs)

	require.NoError(t, h.Handle(context.Background(), event))

	record, err := store.Skills().Get(context.Background(), "u1", "TWK")
	require.NoError(t, err)
	assert.Equal(t, 1, record.TotalAnswered)
}

func TestOnContentViewedHandler(t *testing.T) {
	store := memory.NewStore()
	pub := &recordingPublisher{}
	h := NewOnContentViewedHandler(command.NewTouchStreakHandler(store.Gamification(), nil, nil), pub, nil)
	ctx := context.Background()

	view := shared.NewEvent(shared.ContentViewedPayload{UserID: "u", ContentID: "c-1"})

	require.NoError(t, h.Handle(ctx, view))
	require.NoError(t, h.Handle(ctx, view))

	assert.Equal(t, []shared.EventType{shared.EventStreakUpdated}, pub.types(), "same-day view does not change the streak")

	t.Run("missing streak table", func(t *testing.T) {
		store := memory.NewStore()
		store.Unprovision(memory.TableUserStreaks)
		pub := &recordingPublisher{}
		h := NewOnContentViewedHandler(command.NewTouchStreakHandler(store.Gamification(), nil, nil), pub, nil)

		require.NoError(t, h.Handle(ctx, view))
		assert.Empty(t, pub.types())
	})
}
