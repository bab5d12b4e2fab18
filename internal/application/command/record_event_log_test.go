package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryouthub/learning-pipeline/internal/domain/eventlog"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/persistence/memory"
	"github.com/tryouthub/learning-pipeline/pkg/circuitbreaker"
)

type failingLogRepo struct {
	err   error
	calls *int
}

func (r failingLogRepo) Append(context.Context, eventlog.Entry) error {
	if r.calls != nil {
		*r.calls++
	}
	return r.err
}

func (r failingLogRepo) List(context.Context, eventlog.ListFilter) ([]eventlog.Entry, error) {
	return nil, r.err
}

func TestAuditLog_Append(t *testing.T) {
	event := shared.Event{ID: "evt-1", Type: shared.EventSkillUpdated, AggregateID: "u"}
	entry := eventlog.NewEntry(event, "recommendation", nil, fixedNow())

	t.Run("stores entry", func(t *testing.T) {
		store := memory.NewStore()
		audit := NewAuditLog(store.EventLog(), nil)

		require.NoError(t, audit.Append(context.Background(), entry))

		rows, err := store.EventLog().List(context.Background(), eventlog.ListFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, eventlog.StatusProcessed, rows[0].Status)
	})

	t.Run("missing table is swallowed", func(t *testing.T) {
		store := memory.NewStore()
		store.Unprovision(memory.TableEventLog)
		audit := NewAuditLog(store.EventLog(), nil)

		assert.NoError(t, audit.Append(context.Background(), entry))
	})

	t.Run("other errors are returned", func(t *testing.T) {
		boom := errors.New("connection reset")
		audit := NewAuditLog(failingLogRepo{err: boom}, nil)

		err := audit.Append(context.Background(), entry)

		assert.ErrorIs(t, err, boom)
	})
}

func TestAuditLog_Breaker(t *testing.T) {
	event := shared.Event{ID: "evt-1", Type: shared.EventSkillUpdated, AggregateID: "u"}
	entry := eventlog.NewEntry(event, "recommendation", nil, fixedNow())

	t.Run("open circuit skips the repository", func(t *testing.T) {
		calls := 0
		repo := failingLogRepo{err: errors.New("connection reset"), calls: &calls}
		cb := circuitbreaker.New("audit_log",
			circuitbreaker.WithFailureThreshold(2),
			circuitbreaker.WithTimeout(time.Hour),
		)
		audit := NewAuditLog(repo, nil, WithBreaker(cb))

		for i := 0; i < 2; i++ {
			assert.Error(t, audit.Append(context.Background(), entry))
		}
		require.Equal(t, circuitbreaker.StateOpen, cb.State())

		err := audit.Append(context.Background(), entry)

		assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
		assert.Equal(t, 2, calls)
	})

	t.Run("missing table does not trip the circuit", func(t *testing.T) {
		store := memory.NewStore()
		store.Unprovision(memory.TableEventLog)
		cb := circuitbreaker.New("audit_log", circuitbreaker.WithFailureThreshold(1))
		audit := NewAuditLog(store.EventLog(), nil, WithBreaker(cb))

		for i := 0; i < 3; i++ {
			require.NoError(t, audit.Append(context.Background(), entry))
		}
		assert.Equal(t, circuitbreaker.StateClosed, cb.State())
	})
}
