package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent() shared.Event {
	return shared.NewEvent(shared.ContentViewedPayload{UserID: "u1", ContentID: "c1"})
}

// memBroker is an in-process Broker used to drive the durable consumer.
type memBroker struct {
	jobs       chan Job
	enqueueErr error
	closed     atomic.Bool
}

func newMemBroker() *memBroker {
	return &memBroker{jobs: make(chan Job, 64)}
}

func (b *memBroker) Enqueue(_ context.Context, job Job) error {
	if b.enqueueErr != nil {
		return b.enqueueErr
	}
	b.jobs <- job
	return nil
}

func (b *memBroker) Consume(ctx context.Context, fn func(context.Context, Job) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-b.jobs:
			_ = fn(ctx, job)
		}
	}
}

func (b *memBroker) Close() error {
	b.closed.Store(true)
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	modes    []Mode
	fallback int
	dropped  map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{dropped: make(map[string]int)}
}

func (o *countingObserver) JobEnqueued(Mode) {}

func (o *countingObserver) JobFallback(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallback++
}

func (o *countingObserver) JobDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped[reason]++
}

func (o *countingObserver) ModeChanged(m Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.modes = append(o.modes, m)
}

func (o *countingObserver) droppedCount(reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped[reason]
}

// refusedAddr returns an address on which nothing listens.
func refusedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func durableConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Durable = true
	cfg.BrokerURL = "redis://" + addr
	cfg.BrokerAddr = addr
	return cfg
}

// ══════════════════════════════════════════════════════════════════════════════
// IMMEDIATE
// ══════════════════════════════════════════════════════════════════════════════

func TestImmediate_RunsHandlerAsynchronously(t *testing.T) {
	q := NewImmediate(testLogger(), nil)
	release := make(chan struct{})
	done := make(chan shared.Event, 1)

	job := q.Enqueue(context.Background(), "test", testEvent(), func(_ context.Context, e shared.Event) error {
		<-release
		done <- e
		return nil
	})

	// Enqueue returned before the handler could finish.
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 1, job.Attempt)
	close(release)

	select {
	case e := <-done:
		assert.Equal(t, job.Event.ID, e.ID)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	require.NoError(t, q.Close(context.Background()))
}

func TestImmediate_PanicDoesNotEscape(t *testing.T) {
	q := NewImmediate(testLogger(), nil)
	var ran atomic.Bool

	q.Enqueue(context.Background(), "boom", testEvent(), func(context.Context, shared.Event) error {
		panic("boom")
	})
	q.Enqueue(context.Background(), "ok", testEvent(), func(context.Context, shared.Event) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, q.Close(context.Background()))
	assert.True(t, ran.Load())
}

func TestImmediate_CloseCancelsAfterDeadline(t *testing.T) {
	q := NewImmediate(testLogger(), nil)
	cancelled := make(chan struct{})

	q.Enqueue(context.Background(), "slow", testEvent(), func(ctx context.Context, _ shared.Event) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight job was not cancelled")
	}
}

func TestImmediate_DropsAfterClose(t *testing.T) {
	obs := newCountingObserver()
	q := NewImmediate(testLogger(), obs)
	require.NoError(t, q.Close(context.Background()))

	var ran atomic.Bool
	q.Enqueue(context.Background(), "late", testEvent(), func(context.Context, shared.Event) error {
		ran.Store(true)
		return nil
	})

	assert.False(t, ran.Load())
	assert.Equal(t, 1, obs.droppedCount("closed"))
}

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY
// ══════════════════════════════════════════════════════════════════════════════

func TestNew_SelectsStrategy(t *testing.T) {
	connect := func(context.Context) (Broker, error) { return newMemBroker(), nil }

	t.Run("durable off", func(t *testing.T) {
		a := New(DefaultConfig(), connect, testLogger(), nil)
		assert.Equal(t, ModeImmediate, a.Mode())
	})

	t.Run("durable without broker url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Durable = true
		a := New(cfg, connect, testLogger(), nil)
		assert.Equal(t, ModeImmediate, a.Mode())
	})

	t.Run("durable without queue name", func(t *testing.T) {
		cfg := durableConfig("127.0.0.1:6379")
		cfg.QueueName = ""
		a := New(cfg, connect, testLogger(), nil)
		assert.Equal(t, ModeImmediate, a.Mode())
	})

	t.Run("durable configured", func(t *testing.T) {
		a := New(durableConfig("127.0.0.1:6379"), connect, testLogger(), nil)
		assert.Equal(t, ModeUninitialized, a.Mode())
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// DURABLE
// ══════════════════════════════════════════════════════════════════════════════

func TestDurable_RefusedBrokerFallsBackToImmediate(t *testing.T) {
	obs := newCountingObserver()
	var connects atomic.Int32
	connect := func(context.Context) (Broker, error) {
		connects.Add(1)
		return newMemBroker(), nil
	}

	q := NewDurable(durableConfig(refusedAddr(t)), connect, nil, testLogger(), obs)

	done := make(chan struct{}, 2)
	handler := func(context.Context, shared.Event) error {
		done <- struct{}{}
		return nil
	}

	assert.NotPanics(t, func() {
		q.Enqueue(context.Background(), "first", testEvent(), handler)
		q.Enqueue(context.Background(), "second", testEvent(), handler)
	})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("fallback did not invoke handler")
		}
	}

	assert.Equal(t, ModeDisabled, q.Mode())
	assert.Zero(t, connects.Load(), "connect must not run when probe fails")
	assert.Equal(t, 2, obs.fallback)
	require.NoError(t, q.Close(context.Background()))
}

func TestDurable_ProbesOnlyOnce(t *testing.T) {
	var probes atomic.Int32
	probe := func(context.Context, string) error {
		probes.Add(1)
		return errors.New("unreachable")
	}

	q := NewDurable(durableConfig("broker:6379"), nil, nil, testLogger(), nil, WithProber(probe))
	for i := 0; i < 5; i++ {
		q.Enqueue(context.Background(), "job", testEvent(), func(context.Context, shared.Event) error { return nil })
	}

	assert.Equal(t, int32(1), probes.Load())
	assert.Equal(t, ModeDisabled, q.Mode())
	require.NoError(t, q.Close(context.Background()))
}

func TestDurable_ModeReadableDuringInit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var checks atomic.Int32
	reachable := func(context.Context, string) error {
		if checks.Add(1) == 1 {
			close(entered)
		}
		<-release
		return errors.New("unreachable")
	}

	q := NewDurable(durableConfig("broker:6379"), nil, nil, testLogger(), nil, WithProber(reachable))
	noop := func(context.Context, shared.Event) error { return nil }

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(context.Background(), "job", testEvent(), noop)
		}()
	}

	<-entered
	modeCh := make(chan Mode, 1)
	go func() { modeCh <- q.Mode() }()

	select {
	case m := <-modeCh:
		assert.Equal(t, ModeUninitialized, m)
	case <-time.After(time.Second):
		t.Fatal("Mode blocked during broker initialization")
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), checks.Load())
	assert.Equal(t, ModeDisabled, q.Mode())
	require.NoError(t, q.Close(context.Background()))
}

func TestDurable_CloseDuringConnect(t *testing.T) {
	reachable := func(context.Context, string) error { return nil }
	entered := make(chan struct{})
	release := make(chan struct{})
	broker := newMemBroker()
	connect := func(context.Context) (Broker, error) {
		close(entered)
		<-release
		return broker, nil
	}

	q := NewDurable(durableConfig("broker:6379"), connect, nil, testLogger(), nil, WithProber(reachable))

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Enqueue(context.Background(), "job", testEvent(), func(context.Context, shared.Event) error { return nil })
	}()

	<-entered
	require.NoError(t, q.Close(context.Background()))
	close(release)
	<-done

	assert.True(t, broker.closed.Load())
	assert.Equal(t, ModeDisabled, q.Mode())
}

func TestDurable_ConnectFailureDisables(t *testing.T) {
	probe := func(context.Context, string) error { return nil }
	connect := func(context.Context) (Broker, error) { return nil, errors.New("auth failed") }

	q := NewDurable(durableConfig("broker:6379"), connect, nil, testLogger(), nil, WithProber(probe))

	done := make(chan struct{}, 1)
	q.Enqueue(context.Background(), "job", testEvent(), func(context.Context, shared.Event) error {
		done <- struct{}{}
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fallback did not invoke handler")
	}
	assert.Equal(t, ModeDisabled, q.Mode())
	require.NoError(t, q.Close(context.Background()))
}

func TestDurable_DeliversThroughBroker(t *testing.T) {
	broker := newMemBroker()
	probe := func(context.Context, string) error { return nil }
	connect := func(context.Context) (Broker, error) { return broker, nil }

	q := NewDurable(durableConfig("broker:6379"), connect, nil, testLogger(), nil, WithProber(probe))

	done := make(chan string, 1)
	job := q.Enqueue(context.Background(), "job", testEvent(), func(_ context.Context, e shared.Event) error {
		done <- e.ID
		return errors.New("handler failure still clears the registry")
	})

	select {
	case id := <-done:
		assert.Equal(t, job.Event.ID, id)
	case <-time.After(time.Second):
		t.Fatal("broker consumer did not invoke handler")
	}

	assert.Equal(t, ModeReady, q.Mode())
	assert.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Close(context.Background()))
	assert.True(t, broker.closed.Load())
}

func TestDurable_EnqueueFailureDisablesPermanently(t *testing.T) {
	broker := newMemBroker()
	broker.enqueueErr = errors.New("connection reset")
	obs := newCountingObserver()

	probe := func(context.Context, string) error { return nil }
	connect := func(context.Context) (Broker, error) { return broker, nil }

	q := NewDurable(durableConfig("broker:6379"), connect, nil, testLogger(), obs, WithProber(probe))

	var calls atomic.Int32
	handler := func(context.Context, shared.Event) error {
		calls.Add(1)
		return nil
	}

	q.Enqueue(context.Background(), "a", testEvent(), handler)
	broker.enqueueErr = nil
	q.Enqueue(context.Background(), "b", testEvent(), handler)

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ModeDisabled, q.Mode())
	assert.Zero(t, q.Pending())
	assert.Empty(t, broker.jobs, "no job reaches the broker once disabled")
	assert.Equal(t, []Mode{ModeReady, ModeDisabled}, obs.modes)

	require.NoError(t, q.Close(context.Background()))
}

func TestDurable_UnknownJobIsDropped(t *testing.T) {
	obs := newCountingObserver()
	q := NewDurable(durableConfig("broker:6379"), nil, nil, testLogger(), obs)

	err := q.process(context.Background(), Job{ID: "missing", Name: "ghost", Event: testEvent()})
	assert.NoError(t, err)
	assert.Equal(t, 1, obs.droppedCount("handler_not_found"))
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

func TestRegistry_EvictsOldest(t *testing.T) {
	var evicted []string
	r := newRegistry(2, func(id string) { evicted = append(evicted, id) })
	noop := func(context.Context, shared.Event) error { return nil }

	r.Put("a", noop)
	r.Put("b", noop)
	r.Put("c", noop)

	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, 2, r.Len())

	_, ok := r.Get("a")
	assert.False(t, ok)
	_, ok = r.Get("c")
	assert.True(t, ok)

	r.Remove("b")
	r.Remove("b")
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"a"}, evicted, "removal is not reported as eviction")
}

func TestRegistry_ReplaceKeepsSingleEntry(t *testing.T) {
	var evicted []string
	r := newRegistry(2, func(id string) { evicted = append(evicted, id) })
	calls := 0
	first := func(context.Context, shared.Event) error { return nil }
	second := func(context.Context, shared.Event) error { calls++; return nil }

	r.Put("a", first)
	r.Put("a", second)

	h, ok := r.Get("a")
	require.True(t, ok)
	require.NoError(t, h(context.Background(), testEvent()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, r.Len())
	assert.Empty(t, evicted)
}
