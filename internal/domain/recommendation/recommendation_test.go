package recommendation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  Tier
	}{
		{0, Tier{Type: TypePractice, Priority: PriorityHigh}},
		{54.99, Tier{Type: TypePractice, Priority: PriorityHigh}},
		{55, Tier{Type: TypeReview, Priority: PriorityMedium}},
		{74.99, Tier{Type: TypeReview, Priority: PriorityMedium}},
		{75, Tier{Type: TypeChallenge, Priority: PriorityLow}},
		{100, Tier{Type: TypeChallenge, Priority: PriorityLow}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score %.2f", tt.score)
	}
}

func TestForSkill(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		score      float64
		wantType   Type
		wantReason string
	}{
		{"weak", 42, TypePractice, "Skill score 42.0 in TWK is below 55, focus practice on the basics"},
		{"middling", 60.5, TypeReview, "Skill score 60.5 in TWK is below 75, review recent mistakes"},
		{"strong", 88, TypeChallenge, "Skill score 88.0 in TWK is strong, try harder questions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ForSkill("u1", "TWK", tt.score, 70, now)

			require.NotNil(t, rec)
			assert.NotEmpty(t, rec.ID)
			assert.Equal(t, tt.wantType, rec.Type)
			assert.Equal(t, tt.wantReason, rec.Reason)
			assert.Equal(t, StatusActive, rec.Status)
			assert.Equal(t, SourceSkillEngine, rec.Source)
			assert.Equal(t, tt.score, rec.Metadata["skill_score"])
			assert.Equal(t, 70.0, rec.Metadata["accuracy"])
			assert.Equal(t, now, rec.CreatedAt)
		})
	}
}

func TestSortFeed(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	recs := []*Recommendation{
		{ID: "low-new", Priority: PriorityLow, CreatedAt: base.Add(3 * time.Minute)},
		{ID: "high-old", Priority: PriorityHigh, CreatedAt: base},
		{ID: "medium", Priority: PriorityMedium, CreatedAt: base.Add(time.Minute)},
		{ID: "high-new", Priority: PriorityHigh, CreatedAt: base.Add(2 * time.Minute)},
	}

	SortFeed(recs)

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"high-new", "high-old", "medium", "low-new"}, ids)
}
