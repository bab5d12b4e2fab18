package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/messaging/queue"
)

func setupJobQueue(t *testing.T, mutate func(*JobQueueConfig)) (*JobQueue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := DefaultJobQueueConfig("test-queue")
	cfg.Backoff = 5 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	q := NewJobQueue(client, cfg, nil)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func testJob(id string) queue.Job {
	return queue.Job{
		ID:   id,
		Name: "question.attempted:skill_engine",
		Event: shared.NewEvent(shared.QuestionAttemptedPayload{
			UserID:      "user-1",
			AttemptID:   "att-1",
			Topic:       "TWK",
			TimeSpentMs: 1200,
		}),
		EnqueuedAt: time.Now().UTC(),
		Attempt:    1,
	}
}

// consume runs Consume in the background until the test ends.
func consume(t *testing.T, q *JobQueue, fn func(ctx context.Context, job queue.Job) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, fn)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestJobQueue_DeliversDecodedJob(t *testing.T) {
	q, mr := setupJobQueue(t, nil)
	job := testJob("job-1")

	require.NoError(t, q.Enqueue(context.Background(), job))
	assert.True(t, mr.Exists("test-queue:wait"))

	got := make(chan queue.Job, 1)
	consume(t, q, func(_ context.Context, j queue.Job) error {
		got <- j
		return nil
	})

	select {
	case j := <-got:
		assert.Equal(t, "job-1", j.ID)
		assert.Equal(t, job.Name, j.Name)
		assert.Equal(t, 1, j.Attempt)
		assert.Equal(t, job.Event.ID, j.Event.ID)
		assert.Equal(t, "att-1", j.Event.AggregateID)

		payload, ok := j.Event.Payload.(shared.QuestionAttemptedPayload)
		require.True(t, ok)
		assert.Equal(t, "TWK", payload.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not delivered")
	}

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats == (Stats{})
	}, time.Second, 5*time.Millisecond, "completed jobs are not kept")
}

func TestJobQueue_RetriesThenFails(t *testing.T) {
	q, _ := setupJobQueue(t, nil)
	require.NoError(t, q.Enqueue(context.Background(), testJob("job-1")))

	var (
		mu       sync.Mutex
		attempts []int
	)
	consume(t, q, func(_ context.Context, j queue.Job) error {
		mu.Lock()
		attempts = append(attempts, j.Attempt)
		mu.Unlock()
		return errors.New("handler down")
	})

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.Failed == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	mu.Unlock()

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting)
	assert.Zero(t, stats.Delayed)
}

func TestJobQueue_FailedListIsTrimmed(t *testing.T) {
	q, _ := setupJobQueue(t, func(c *JobQueueConfig) {
		c.MaxAttempts = 1
		c.FailedRetention = 2
	})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), testJob(id)))
	}

	var (
		mu   sync.Mutex
		seen int
	)
	consume(t, q, func(context.Context, queue.Job) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return errors.New("boom")
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.Waiting == 0 && stats.Failed == 2
	}, time.Second, 5*time.Millisecond)
}

func TestJobQueue_UndecodableJobGoesToFailed(t *testing.T) {
	q, mr := setupJobQueue(t, nil)
	_, err := mr.Lpush("test-queue:wait", "not json")
	require.NoError(t, err)

	called := false
	consume(t, q, func(context.Context, queue.Job) error {
		called = true
		return nil
	})

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.Failed == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, called)
}

func TestConnector(t *testing.T) {
	mr := miniredis.RunT(t)

	t.Run("connects", func(t *testing.T) {
		connect := Connector(ClientConfig{URL: "redis://" + mr.Addr() + "/0"}, DefaultJobQueueConfig("q"), nil)
		broker, err := connect(context.Background())
		require.NoError(t, err)
		assert.NoError(t, broker.Close())
	})

	t.Run("bad url", func(t *testing.T) {
		connect := Connector(ClientConfig{URL: "http://nope"}, DefaultJobQueueConfig("q"), nil)
		_, err := connect(context.Background())
		assert.Error(t, err)
	})

	t.Run("addr from url", func(t *testing.T) {
		addr, err := AddrFromURL("redis://:secret@cache.internal:6380/2")
		require.NoError(t, err)
		assert.Equal(t, "cache.internal:6380", addr)
	})
}

func TestDurableQueueOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := queue.DefaultConfig()
	cfg.Durable = true
	cfg.BrokerURL = "redis://" + mr.Addr()
	cfg.BrokerAddr = mr.Addr()
	cfg.QueueName = "pipeline"

	jobCfg := DefaultJobQueueConfig(cfg.QueueName)
	jobCfg.PollInterval = 5 * time.Millisecond

	adapter := queue.New(cfg, Connector(ClientConfig{URL: cfg.BrokerURL}, jobCfg, nil), nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = adapter.Close(ctx)
	})

	ran := make(chan string, 1)
	job := testJob("")
	adapter.Enqueue(context.Background(), job.Name, job.Event, func(_ context.Context, e shared.Event) error {
		ran <- e.ID
		return nil
	})

	select {
	case id := <-ran:
		assert.Equal(t, job.Event.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not run")
	}
	assert.Equal(t, queue.ModeReady, adapter.Mode())
}
