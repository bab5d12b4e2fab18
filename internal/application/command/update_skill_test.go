package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryouthub/learning-pipeline/internal/domain/recommendation"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/domain/skill"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/persistence/memory"
)

func boolPtr(b bool) *bool { return &b }

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
}

func TestUpdateSkillHandler_FirstAnswer(t *testing.T) {
	store := memory.NewStore()
	h := NewUpdateSkillHandler(store.Skills(), nil)
	h.now = fixedNow

	res, err := h.Handle(context.Background(), UpdateSkillCommand{
		UserID:      "user-1",
		Topic:       " twk ",
		IsCorrect:   boolPtr(true),
		TimeSpentMs: 40000,
		Difficulty:  "medium",
	})
	require.NoError(t, err)

	assert.Equal(t, shared.Topic("TWK"), res.Topic)
	assert.Equal(t, 100.0, res.AccuracyPct)
	assert.Equal(t, 40000.0, res.AvgTimeMs)
	assert.InDelta(t, 90.4, res.RawScore, 0.001)
	assert.InDelta(t, 62.12, res.SkillScore, 0.001)
	assert.Equal(t, skill.WeaknessMedium, res.WeaknessLevel)
	assert.Equal(t, shared.DifficultyMedium, res.NextDifficulty)
	assert.Equal(t, 1, res.TotalAnswered)
	assert.InDelta(t, 0.1, res.Confidence, 0.0001)

	stored, err := store.Skills().Get(context.Background(), "user-1", "TWK")
	require.NoError(t, err)
	assert.InDelta(t, 62.12, stored.SkillScore, 0.001)
	assert.Equal(t, fixedNow(), stored.UpdatedAt)

	assert.Equal(t, recommendation.TypeReview, recommendation.Classify(res.SkillScore).Type)
}

func TestUpdateSkillHandler_RunningMeans(t *testing.T) {
	store := memory.NewStore()
	h := NewUpdateSkillHandler(store.Skills(), nil)
	ctx := context.Background()

	_, err := h.Handle(ctx, UpdateSkillCommand{UserID: "u", Topic: "TIU", IsCorrect: boolPtr(true), TimeSpentMs: 30000})
	require.NoError(t, err)

	res, err := h.Handle(ctx, UpdateSkillCommand{UserID: "u", Topic: "tiu", IsCorrect: boolPtr(false), TimeSpentMs: 50000})
	require.NoError(t, err)

	assert.Equal(t, 2, res.TotalAnswered)
	assert.Equal(t, 50.0, res.AccuracyPct)
	assert.Equal(t, 40000.0, res.AvgTimeMs)
	assert.GreaterOrEqual(t, res.SkillScore, 0.0)
	assert.LessOrEqual(t, res.SkillScore, 100.0)
}

func TestUpdateSkillHandler_Validation(t *testing.T) {
	tests := []struct {
		name string
		cmd  UpdateSkillCommand
	}{
		{"missing user", UpdateSkillCommand{Topic: "TWK", IsCorrect: boolPtr(true), TimeSpentMs: 1}},
		{"blank topic", UpdateSkillCommand{UserID: "u", Topic: "   ", IsCorrect: boolPtr(true), TimeSpentMs: 1}},
		{"ungraded answer", UpdateSkillCommand{UserID: "u", Topic: "TWK", TimeSpentMs: 1}},
		{"zero time", UpdateSkillCommand{UserID: "u", Topic: "TWK", IsCorrect: boolPtr(false)}},
		{"negative time", UpdateSkillCommand{UserID: "u", Topic: "TWK", IsCorrect: boolPtr(false), TimeSpentMs: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			h := NewUpdateSkillHandler(store.Skills(), nil)

			res, err := h.Handle(context.Background(), tt.cmd)

			assert.Nil(t, res)
			assert.True(t, shared.IsValidation(err))

			records, listErr := store.Skills().ListByUser(context.Background(), "u")
			require.NoError(t, listErr)
			assert.Empty(t, records)
		})
	}
}

func TestRecordTopicPerformanceHandler(t *testing.T) {
	store := memory.NewStore()
	h := NewRecordTopicPerformanceHandler(store.Performance())
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, RecordTopicPerformanceCommand{UserID: "u", Topic: "tkp", IsCorrect: boolPtr(true), AnsweredAt: fixedNow()}))
	require.NoError(t, h.Handle(ctx, RecordTopicPerformanceCommand{UserID: "u", Topic: "TKP", IsCorrect: boolPtr(false), AnsweredAt: fixedNow()}))

	perf, ok := store.TopicPerformance("u", "TKP")
	require.True(t, ok)
	assert.Equal(t, 1, perf.Correct)
	assert.Equal(t, 2, perf.Total)
	assert.Equal(t, 0.5, perf.Accuracy())

	err := h.Handle(ctx, RecordTopicPerformanceCommand{UserID: "u", Topic: "TKP"})
	assert.True(t, shared.IsValidation(err))
}

func TestGenerateRecommendationHandler(t *testing.T) {
	tests := []struct {
		score    float64
		wantType recommendation.Type
		wantPrio int
	}{
		{54.99, recommendation.TypePractice, recommendation.PriorityHigh},
		{55, recommendation.TypeReview, recommendation.PriorityMedium},
		{74.99, recommendation.TypeReview, recommendation.PriorityMedium},
		{75, recommendation.TypeChallenge, recommendation.PriorityLow},
	}

	for _, tt := range tests {
		store := memory.NewStore()
		h := NewGenerateRecommendationHandler(store.Recommendations(), nil)

		rec, err := h.Handle(context.Background(), GenerateRecommendationCommand{
			UserID: "u", Topic: "twk", SkillScore: tt.score, Accuracy: 80,
		})
		require.NoError(t, err)

		assert.Equal(t, tt.wantType, rec.Type, "score %.2f", tt.score)
		assert.Equal(t, tt.wantPrio, rec.Priority, "score %.2f", tt.score)
		assert.Equal(t, recommendation.StatusActive, rec.Status)
		assert.Equal(t, recommendation.SourceSkillEngine, rec.Source)
		assert.Equal(t, shared.Topic("TWK"), rec.Topic)
	}
}

func TestGenerateRecommendationHandler_AppendsHistory(t *testing.T) {
	store := memory.NewStore()
	h := NewGenerateRecommendationHandler(store.Recommendations(), nil)
	ctx := context.Background()

	for _, score := range []float64{40, 60, 90} {
		_, err := h.Handle(ctx, GenerateRecommendationCommand{UserID: "u", Topic: "TWK", SkillScore: score})
		require.NoError(t, err)
	}

	assert.Len(t, store.AllRecommendations("u"), 3)
}
