package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryouthub/learning-pipeline/config"
	"github.com/tryouthub/learning-pipeline/internal/application/eventhandler"
	"github.com/tryouthub/learning-pipeline/internal/application/query"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/messaging/queue"
	"github.com/tryouthub/learning-pipeline/pkg/logger"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *app {
	t.Helper()

	cfg := config.Default()
	cfg.Scheduler.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := newApp(context.Background(), &cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}

func TestApp_QuestionFlowReachesFeedAndAudit(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	assert.Equal(t, queue.ModeImmediate, a.bus.QueueMode())
	assert.Equal(t,
		[]string{eventhandler.SubscriberSkillEngine, eventhandler.SubscriberTopicPerformance},
		a.bus.Handlers(shared.EventQuestionAttempted),
	)

	event, err := publishEvent(ctx, a, "question.attempted",
		`{"user_id":"u-1","attempt_id":"att-1","topic":"TWK","is_correct":false,"time_spent_ms":45000}`)
	require.NoError(t, err)
	assert.Equal(t, shared.EventQuestionAttempted, event.Type)

	require.Eventually(t, func() bool {
		var buf bytes.Buffer
		if err := writeRecommendations(ctx, a, &buf, "u-1"); err != nil {
			return false
		}
		var feed []query.RecommendationDTO
		return json.Unmarshal(buf.Bytes(), &feed) == nil && len(feed) == 1 && feed[0].Topic == "TWK"
	}, 2*time.Second, 10*time.Millisecond)

	// question.attempted x2 handlers + skill.updated x1
	require.Eventually(t, func() bool {
		entries, err := a.auditLog.List(ctx, query.ListEventLogQuery{})
		return err == nil && len(entries) == 3
	}, 2*time.Second, 10*time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, writeAuditList(ctx, a, &buf, query.ListEventLogQuery{Status: "processed"}))
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	assert.Len(t, rows, 3)

	buf.Reset()
	require.NoError(t, writeAuditSummary(ctx, a, &buf, 0))
	var summary struct {
		Scanned int              `json:"scanned"`
		ByType  []map[string]any `json:"by_type"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &summary))
	assert.Equal(t, 3, summary.Scanned)
	assert.Len(t, summary.ByType, 2)
}

func TestPublishEvent_Errors(t *testing.T) {
	a := newTestApp(t, nil)

	_, err := publishEvent(context.Background(), a, "", "{}")
	assert.True(t, shared.IsValidation(err))

	_, err = publishEvent(context.Background(), a, "question.attempted", "not json")
	assert.Error(t, err)
}

func TestWriteAuditList_RejectsUnknownStatus(t *testing.T) {
	a := newTestApp(t, nil)

	err := writeAuditList(context.Background(), a, &bytes.Buffer{}, query.ListEventLogQuery{Status: "pending"})
	assert.True(t, shared.IsValidation(err))
}

func TestFeatureFlagsDisablePipelines(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Features.Retention = false
		c.Features.TopicPerformance = false
	})

	assert.Equal(t, []string{eventhandler.SubscriberSkillEngine}, a.bus.Handlers(shared.EventQuestionAttempted))
	assert.Empty(t, a.bus.Handlers(shared.EventAttemptCompleted))
}

func TestNewQueue_DurableWithBadURLStaysImmediate(t *testing.T) {
	cfg := config.Default().Queue
	cfg.Durable = true
	cfg.BrokerURL = "ftp://nowhere"

	q := newQueue(cfg, logger.Discard(), nil)
	assert.Equal(t, queue.ModeImmediate, q.Mode())
	require.NoError(t, q.Close(context.Background()))
}

func TestServe_StopsOnCancel(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Scheduler.Enabled = true
		c.Observability.MetricsAddr = "127.0.0.1:0"
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, a) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestOpsServer_ReportsHealth(t *testing.T) {
	a := newTestApp(t, nil)

	srv := a.newOpsServer("127.0.0.1:0")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Healthy bool                       `json:"healthy"`
		Checks  map[string]json.RawMessage `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)
	assert.Contains(t, status.Checks, "datastore")
	assert.Contains(t, status.Checks, "queue")
}
