// Package memory is an in-process datastore implementing every repository of
// the pipeline. It backs development runs without DATABASE_URL and the
// application tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/eventlog"
	"github.com/tryouthub/learning-pipeline/internal/domain/recommendation"
	"github.com/tryouthub/learning-pipeline/internal/domain/retention"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/domain/skill"
)

// Table names, matching the postgres schema.
const (
	TableUserSkills       = "user_skills"
	TableTopicPerformance = "topic_performance"
	TableRecommendations  = "recommendations"
	TableEventLog         = "event_log"
	TableUserProgress     = "user_progress"
	TableTopicMastery     = "topic_mastery"
	TableUserXP           = "user_xp"
	TableUserStreaks      = "user_streaks"
	TableUserBadges       = "user_badges"
	TableAnalyticsSummary = "analytics_summary"
)

type userTopic struct {
	userID string
	topic  shared.Topic
}

type badgeKey struct {
	userID string
	code   retention.BadgeCode
}

type answer struct {
	attemptID string
	topic     shared.Topic
	correct   bool
}

type attemptRow struct {
	retention.Attempt
	completed bool
}

// Store holds every table in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	missing map[string]bool

	skills      map[userTopic]skill.Record
	performance map[userTopic]skill.TopicPerformance
	recs        []recommendation.Recommendation
	eventLog    []eventlog.Entry
	nextLogID   int64
	progress    map[string]retention.UserProgress
	mastery     map[userTopic]retention.TopicMastery
	xp          map[string]retention.XPRecord
	streaks     map[string]retention.StreakRecord
	badges      map[badgeKey]retention.Badge
	summaries   []retention.AnalyticsSummary
	attempts    []attemptRow
	answers     []answer
}

// NewStore creates an empty store with every table provisioned.
func NewStore() *Store {
	return &Store{
		missing:     make(map[string]bool),
		skills:      make(map[userTopic]skill.Record),
		performance: make(map[userTopic]skill.TopicPerformance),
		progress:    make(map[string]retention.UserProgress),
		mastery:     make(map[userTopic]retention.TopicMastery),
		xp:          make(map[string]retention.XPRecord),
		streaks:     make(map[string]retention.StreakRecord),
		badges:      make(map[badgeKey]retention.Badge),
	}
}

// Unprovision makes every access to the named tables fail with
// shared.ErrFeatureUnavailable.
func (s *Store) Unprovision(tables ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tables {
		s.missing[t] = true
	}
}

func (s *Store) check(table string) error {
	if s.missing[table] {
		return shared.NewFeatureUnavailable(table, nil)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY SEEDING
// ══════════════════════════════════════════════════════════════════════════════

// AddAttempt records an attempt. Attempts with a zero CompletedAt count as
// started only.
func (s *Store) AddAttempt(a retention.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attemptRow{Attempt: a, completed: !a.CompletedAt.IsZero()})
}

// AddAnswer records one answered question of an attempt.
func (s *Store) AddAnswer(attemptID, topic string, correct bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, answer{attemptID: attemptID, topic: shared.NewTopic(topic), correct: correct})
}

// ══════════════════════════════════════════════════════════════════════════════
// skill.Repository / skill.PerformanceRepository
// ══════════════════════════════════════════════════════════════════════════════

// Skills exposes skill.Repository.
func (s *Store) Skills() skill.Repository { return skillRepo{s} }

// Performance exposes skill.PerformanceRepository.
func (s *Store) Performance() skill.PerformanceRepository { return performanceRepo{s} }

type skillRepo struct{ s *Store }

func (r skillRepo) Get(_ context.Context, userID string, topic shared.Topic) (*skill.Record, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(TableUserSkills); err != nil {
		return nil, err
	}
	rec, ok := r.s.skills[userTopic{userID, topic}]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &rec, nil
}

func (r skillRepo) Upsert(_ context.Context, rec *skill.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(TableUserSkills); err != nil {
		return err
	}
	r.s.skills[userTopic{rec.UserID, rec.Topic}] = *rec
	return nil
}

func (r skillRepo) ListByUser(_ context.Context, userID string) ([]*skill.Record, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(TableUserSkills); err != nil {
		return nil, err
	}

	out := make([]*skill.Record, 0)
	for k, rec := range r.s.skills {
		if k.userID == userID {
			rec := rec
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SkillScore != out[j].SkillScore {
			return out[i].SkillScore < out[j].SkillScore
		}
		return out[i].Topic < out[j].Topic
	})
	return out, nil
}

type performanceRepo struct{ s *Store }

func (r performanceRepo) Increment(_ context.Context, userID string, topic shared.Topic, correct bool, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(TableTopicPerformance); err != nil {
		return err
	}

	key := userTopic{userID, topic}
	p := r.s.performance[key]
	p.UserID, p.Topic = userID, topic
	p.Total++
	if correct {
		p.Correct++
	}
	if at.After(p.LastAnsweredAt) {
		p.LastAnsweredAt = at
	}
	r.s.performance[key] = p
	return nil
}

// TopicPerformance returns the counter for (user, topic).
func (s *Store) TopicPerformance(userID string, topic shared.Topic) (skill.TopicPerformance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.performance[userTopic{userID, topic}]
	return p, ok
}

// ══════════════════════════════════════════════════════════════════════════════
// recommendation.Repository
// ══════════════════════════════════════════════════════════════════════════════

// Recommendations exposes recommendation.Repository.
func (s *Store) Recommendations() recommendation.Repository { return recommendationRepo{s} }

type recommendationRepo struct{ s *Store }

func (r recommendationRepo) Insert(_ context.Context, rec *recommendation.Recommendation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(TableRecommendations); err != nil {
		return err
	}
	r.s.recs = append(r.s.recs, *rec)
	return nil
}

func (r recommendationRepo) ListActive(_ context.Context, userID string, limit int) ([]*recommendation.Recommendation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(TableRecommendations); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = recommendation.DefaultFeedSize
	}

	out := make([]*recommendation.Recommendation, 0)
	// newest first so that the stable sort keeps insertion recency on ties
	for i := len(r.s.recs) - 1; i >= 0; i-- {
		rec := r.s.recs[i]
		if rec.UserID == userID && rec.Status == recommendation.StatusActive {
			out = append(out, &rec)
		}
	}
	recommendation.SortFeed(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r recommendationRepo) DeactivateBySource(_ context.Context, userID string, source recommendation.Source) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(TableRecommendations); err != nil {
		return 0, err
	}

	n := 0
	for i := range r.s.recs {
		rec := &r.s.recs[i]
		if rec.UserID == userID && rec.Source == source && rec.Status == recommendation.StatusActive {
			rec.Status = recommendation.StatusInactive
			n++
		}
	}
	return n, nil
}

// AllRecommendations returns every stored row of a user, active or not, in
// insertion order.
func (s *Store) AllRecommendations(userID string) []recommendation.Recommendation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []recommendation.Recommendation
	for _, rec := range s.recs {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// eventlog.Repository
// ══════════════════════════════════════════════════════════════════════════════

// EventLog exposes eventlog.Repository.
func (s *Store) EventLog() eventlog.Repository { return eventLogRepo{s} }

type eventLogRepo struct{ s *Store }

func (r eventLogRepo) Append(_ context.Context, e eventlog.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(TableEventLog); err != nil {
		return err
	}
	r.s.nextLogID++
	e.ID = r.s.nextLogID
	r.s.eventLog = append(r.s.eventLog, e)
	return nil
}

func (r eventLogRepo) List(_ context.Context, f eventlog.ListFilter) ([]eventlog.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(TableEventLog); err != nil {
		return nil, err
	}

	limit := eventlog.ClampLimit(f.Limit, eventlog.DefaultListLimit)
	out := make([]eventlog.Entry, 0, limit)
	for i := len(r.s.eventLog) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.s.eventLog[i]
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// retention repositories
// ══════════════════════════════════════════════════════════════════════════════

// History exposes retention.HistoryReader.
func (s *Store) History() retention.HistoryReader { return historyRepo{s} }

// Progress exposes retention.ProgressRepository.
func (s *Store) Progress() retention.ProgressRepository { return progressRepo{s} }

// Gamification exposes retention.GamificationRepository.
func (s *Store) Gamification() retention.GamificationRepository { return gamificationRepo{s} }

// Summaries exposes retention.SummaryRepository.
func (s *Store) Summaries() retention.SummaryRepository { return summaryRepo{s} }

type historyRepo struct{ s *Store }

func (r historyRepo) CompletedAttempts(_ context.Context, userID string) ([]retention.Attempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]retention.Attempt, 0)
	for _, a := range r.s.attempts {
		if a.UserID == userID && a.completed {
			out = append(out, a.Attempt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out, nil
}

func (r historyRepo) StartedAttemptCount(_ context.Context, userID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, a := range r.s.attempts {
		if a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r historyRepo) TopicStats(_ context.Context, userID string) ([]retention.TopicStat, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	owned := make(map[string]bool)
	for _, a := range r.s.attempts {
		if a.UserID == userID && a.completed {
			owned[a.ID] = true
		}
	}

	byTopic := make(map[shared.Topic]*retention.TopicStat)
	for _, ans := range r.s.answers {
		if !owned[ans.attemptID] || strings.TrimSpace(string(ans.topic)) == "" {
			continue
		}
		st, ok := byTopic[ans.topic]
		if !ok {
			st = &retention.TopicStat{Topic: ans.topic}
			byTopic[ans.topic] = st
		}
		st.Total++
		if ans.correct {
			st.Correct++
		}
	}

	out := make([]retention.TopicStat, 0, len(byTopic))
	for _, st := range byTopic {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

type progressRepo struct{ s *Store }

func (r progressRepo) UpsertProgress(_ context.Context, p retention.UserProgress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(TableUserProgress); err != nil {
		return err
	}
	r.s.progress[p.UserID] = p
	return nil
}

func (r progressRepo) UpsertMastery(_ context.Context, rows []retention.TopicMastery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(TableTopicMastery); err != nil {
		return err
	}
	for _, m := range rows {
		r.s.mastery[userTopic{m.UserID, m.Topic}] = m
	}
	return nil
}

// UserProgress returns the stored progress row.
func (s *Store) UserProgress(userID string) (retention.UserProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[userID]
	return p, ok
}

// Mastery returns the stored mastery rows of a user sorted by topic.
func (s *Store) Mastery(userID string) []retention.TopicMastery {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []retention.TopicMastery
	for k, m := range s.mastery {
		if k.userID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

type gamificationRepo struct{ s *Store }

func (r gamificationRepo) GetXP(_ context.Context, userID string) (retention.XPRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(TableUserXP); err != nil {
		return retention.XPRecord{UserID: userID}, err
	}
	rec, ok := r.s.xp[userID]
	if !ok {
		return retention.XPRecord{UserID: userID}, nil
	}
	return rec, nil
}

func (r gamificationRepo) UpsertXP(_ context.Context, rec retention.XPRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(TableUserXP); err != nil {
		return err
	}
	r.s.xp[rec.UserID] = rec
	return nil
}

func (r gamificationRepo) GetStreak(_ context.Context, userID string) (retention.StreakRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(TableUserStreaks); err != nil {
		return retention.StreakRecord{UserID: userID}, err
	}
	rec, ok := r.s.streaks[userID]
	if !ok {
		return retention.StreakRecord{UserID: userID}, nil
	}
	return rec, nil
}

func (r gamificationRepo) UpsertStreak(_ context.Context, rec retention.StreakRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(TableUserStreaks); err != nil {
		return err
	}
	r.s.streaks[rec.UserID] = rec
	return nil
}

func (r gamificationRepo) InsertBadge(_ context.Context, b retention.Badge) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(TableUserBadges); err != nil {
		return false, err
	}
	key := badgeKey{b.UserID, b.Code}
	if _, ok := r.s.badges[key]; ok {
		return false, nil
	}
	r.s.badges[key] = b
	return true, nil
}

// Badges returns the unlocked badge codes of a user, sorted.
func (s *Store) Badges(userID string) []retention.BadgeCode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []retention.BadgeCode
	for k := range s.badges {
		if k.userID == userID {
			out = append(out, k.code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type summaryRepo struct{ s *Store }

func (r summaryRepo) InsertSummary(_ context.Context, sum retention.AnalyticsSummary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(TableAnalyticsSummary); err != nil {
		return err
	}
	r.s.summaries = append(r.s.summaries, sum)
	return nil
}

// SummariesFor returns every analytics summary of a user in insertion order.
func (s *Store) SummariesFor(userID string) []retention.AnalyticsSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []retention.AnalyticsSummary
	for _, sum := range s.summaries {
		if sum.UserID == userID {
			out = append(out, sum)
		}
	}
	return out
}
