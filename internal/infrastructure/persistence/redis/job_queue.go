package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/messaging/queue"
	"github.com/tryouthub/learning-pipeline/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB QUEUE
// Keys per queue name:
//
//	<name>:wait     list, LPUSH on enqueue, RPOP by the consumer
//	<name>:delayed  sorted set of jobs waiting for a retry, scored by due time (ms)
//	<name>:failed   list of jobs that exhausted their attempts, newest first
//
// Completed jobs are not kept.
// ══════════════════════════════════════════════════════════════════════════════

// JobQueueConfig tunes the job queue.
type JobQueueConfig struct {
	// Name prefixes every key.
	Name string

	// MaxAttempts is the delivery attempt limit per job.
	MaxAttempts int

	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration

	// FailedRetention is the number of failed jobs kept.
	FailedRetention int

	// PollInterval is the idle wait between empty polls.
	PollInterval time.Duration
}

// DefaultJobQueueConfig returns 3 attempts, 1s exponential backoff and the
// last 100 failures retained.
func DefaultJobQueueConfig(name string) JobQueueConfig {
	return JobQueueConfig{
		Name:            name,
		MaxAttempts:     3,
		Backoff:         time.Second,
		FailedRetention: 100,
		PollInterval:    250 * time.Millisecond,
	}
}

func (c JobQueueConfig) waitKey() string    { return c.Name + ":wait" }
func (c JobQueueConfig) delayedKey() string { return c.Name + ":delayed" }
func (c JobQueueConfig) failedKey() string  { return c.Name + ":failed" }

// jobRecord is the stored form of a job.
type jobRecord struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Envelope   shared.EventEnvelope `json:"envelope"`
	Attempt    int                  `json:"attempt"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
	LastError  string               `json:"last_error,omitempty"`
}

// JobQueue is a queue.Broker on Redis.
type JobQueue struct {
	client  *redis.Client
	cfg     JobQueueConfig
	retrier *retry.Retrier
	logger  *slog.Logger
}

// NewJobQueue wraps an open client.
func NewJobQueue(client *redis.Client, cfg JobQueueConfig, logger *slog.Logger) *JobQueue {
	defaults := DefaultJobQueueConfig(cfg.Name)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaults.Backoff
	}
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = defaults.FailedRetention
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &JobQueue{
		client: client,
		cfg:    cfg,
		retrier: retry.New(
			retry.WithMaxAttempts(cfg.MaxAttempts),
			retry.WithInitialDelay(cfg.Backoff),
			retry.WithMaxDelay(cfg.Backoff*64),
		),
		logger: logger.With("component", "redis_job_queue", "queue", cfg.Name),
	}
}

// Connector returns a queue.Connector that opens a client and wraps it in a
// JobQueue.
func Connector(client ClientConfig, cfg JobQueueConfig, logger *slog.Logger) queue.Connector {
	return func(ctx context.Context) (queue.Broker, error) {
		c, err := NewClient(ctx, client)
		if err != nil {
			return nil, err
		}
		return NewJobQueue(c, cfg, logger), nil
	}
}

// Enqueue implements queue.Broker.
func (q *JobQueue) Enqueue(ctx context.Context, job queue.Job) error {
	env, err := job.Event.Envelope()
	if err != nil {
		return err
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	data, err := json.Marshal(jobRecord{
		ID:         job.ID,
		Name:       job.Name,
		Envelope:   env,
		Attempt:    attempt,
		EnqueuedAt: job.EnqueuedAt,
	})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	return q.client.LPush(ctx, q.cfg.waitKey(), data).Err()
}

// Consume implements queue.Broker. It returns nil once ctx is cancelled.
func (q *JobQueue) Consume(ctx context.Context, fn func(ctx context.Context, job queue.Job) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := q.promoteDue(ctx); err != nil && !q.idle(ctx, err) {
			return nil
		}

		data, err := q.client.RPop(ctx, q.cfg.waitKey()).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if !q.sleep(ctx, q.cfg.PollInterval) {
				return nil
			}
			continue
		case errors.Is(err, redis.ErrClosed):
			return err
		case err != nil:
			if !q.idle(ctx, err) {
				return nil
			}
			continue
		}

		q.process(ctx, data, fn)
	}
}

// Close implements queue.Broker.
func (q *JobQueue) Close() error {
	return q.client.Close()
}

// process runs one job and schedules a retry or moves it to the failed list.
func (q *JobQueue) process(ctx context.Context, data []byte, fn func(ctx context.Context, job queue.Job) error) {
	var rec jobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		q.logger.Error("undecodable job moved to failed list", "error", err)
		q.fail(ctx, data)
		return
	}

	event, err := rec.Envelope.Event()
	if err != nil {
		q.logger.Error("undecodable event moved to failed list", "job_id", rec.ID, "error", err)
		rec.LastError = err.Error()
		q.failRecord(ctx, rec)
		return
	}

	runErr := fn(ctx, queue.Job{
		ID:         rec.ID,
		Name:       rec.Name,
		Event:      event,
		EnqueuedAt: rec.EnqueuedAt,
		Attempt:    rec.Attempt,
	})
	if runErr == nil {
		return
	}

	rec.LastError = runErr.Error()
	if !q.retrier.ShouldRetry(rec.Attempt, runErr) {
		q.logger.Warn("job failed permanently",
			"job_id", rec.ID,
			"job", rec.Name,
			"attempt", rec.Attempt,
			"error", runErr,
		)
		q.failRecord(ctx, rec)
		return
	}

	delay := q.retrier.Backoff(rec.Attempt)
	rec.Attempt++
	if err := q.schedule(ctx, rec, time.Now().Add(delay)); err != nil {
		q.logger.Error("failed to schedule retry", "job_id", rec.ID, "error", err)
		q.failRecord(ctx, rec)
	}
}

func (q *JobQueue) schedule(ctx context.Context, rec jobRecord, due time.Time) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.cfg.delayedKey(), redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: data,
	}).Err()
}

// promoteDue moves delayed jobs whose due time has passed back to the wait
// list. ZREM guards against two consumers promoting the same job.
func (q *JobQueue) promoteDue(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.cfg.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range due {
		removed, err := q.client.ZRem(ctx, q.cfg.delayedKey(), member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.cfg.waitKey(), member).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *JobQueue) failRecord(ctx context.Context, rec jobRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		q.logger.Error("failed to encode failed job", "job_id", rec.ID, "error", err)
		return
	}
	q.fail(ctx, data)
}

func (q *JobQueue) fail(ctx context.Context, data []byte) {
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.cfg.failedKey(), data)
	pipe.LTrim(ctx, q.cfg.failedKey(), 0, int64(q.cfg.FailedRetention-1))
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("failed to record failed job", "error", err)
	}
}

// idle logs a transient error and waits one poll interval. It reports false
// when ctx ended while waiting.
func (q *JobQueue) idle(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	q.logger.Warn("job queue poll failed", "error", err)
	return q.sleep(ctx, q.cfg.PollInterval)
}

func (q *JobQueue) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// Stats is a point-in-time view of the queue keys.
type Stats struct {
	Waiting int64
	Delayed int64
	Failed  int64
}

// Stats returns the current key sizes.
func (q *JobQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	wait := pipe.LLen(ctx, q.cfg.waitKey())
	delayed := pipe.ZCard(ctx, q.cfg.delayedKey())
	failed := pipe.LLen(ctx, q.cfg.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{Waiting: wait.Val(), Delayed: delayed.Val(), Failed: failed.Val()}, nil
}

var _ queue.Broker = (*JobQueue)(nil)
