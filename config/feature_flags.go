package config

import (
	"sort"
)

// FeatureFlags toggles the event pipelines. Each flag is set from
// FEATURE_<NAME>=true|false or the features section of the YAML file.
type FeatureFlags struct {
	SkillScoring     bool `koanf:"skill_scoring"`
	TopicPerformance bool `koanf:"topic_performance"`
	Recommendations  bool `koanf:"recommendations"`
	Retention        bool `koanf:"retention"`
	ActivityStreak   bool `koanf:"activity_streak"`
}

// Predefined feature flag names.
const (
	FeatureSkillScoring     = "skill_scoring"     // question.attempted -> user_skills
	FeatureTopicPerformance = "topic_performance" // question.attempted -> topic_performance
	FeatureRecommendations  = "recommendations"   // skill.updated -> recommendations
	FeatureRetention        = "retention"         // attempt.completed|submitted|finished
	FeatureActivityStreak   = "activity_streak"   // content.viewed -> user_streaks
)

const featureEnvPrefix = "FEATURE_"

// DefaultFeatureFlags enables every pipeline.
func DefaultFeatureFlags() FeatureFlags {
	return FeatureFlags{
		SkillScoring:     true,
		TopicPerformance: true,
		Recommendations:  true,
		Retention:        true,
		ActivityStreak:   true,
	}
}

func (ff *FeatureFlags) field(name string) (*bool, bool) {
	switch name {
	case FeatureSkillScoring:
		return &ff.SkillScoring, true
	case FeatureTopicPerformance:
		return &ff.TopicPerformance, true
	case FeatureRecommendations:
		return &ff.Recommendations, true
	case FeatureRetention:
		return &ff.Retention, true
	case FeatureActivityStreak:
		return &ff.ActivityStreak, true
	}
	return nil, false
}

// IsEnabled reports whether the named feature is on. Unknown names are off.
func (ff FeatureFlags) IsEnabled(name string) bool {
	f, ok := ff.field(name)
	return ok && *f
}

// Set switches a feature on or off.
func (ff *FeatureFlags) Set(name string, enabled bool) error {
	f, ok := ff.field(name)
	if !ok {
		return ErrFeatureNotFound
	}
	*f = enabled
	return nil
}

// Enabled returns the sorted names of the features that are on.
func (ff FeatureFlags) Enabled() []string {
	names := make([]string, 0, 5)
	for _, name := range []string{
		FeatureSkillScoring,
		FeatureTopicPerformance,
		FeatureRecommendations,
		FeatureRetention,
		FeatureActivityStreak,
	} {
		if ff.IsEnabled(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// --- Errors ---

var ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
