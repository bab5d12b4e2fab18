package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

func TestClassify(t *testing.T) {
	undefined := &pgconn.PgError{Code: "42P01", Message: `relation "event_log" does not exist`}

	t.Run("undefined table becomes feature unavailable", func(t *testing.T) {
		err := classify(tableEventLog, fmt.Errorf("exec: %w", undefined))

		assert.True(t, shared.IsFeatureUnavailable(err))
		assert.Equal(t, tableEventLog, shared.UnavailableTable(err))

		var pgErr *pgconn.PgError
		assert.True(t, errors.As(err, &pgErr), "driver error stays reachable")
	})

	t.Run("other driver errors pass through", func(t *testing.T) {
		unique := &pgconn.PgError{Code: "23505"}
		err := classify(tableUserBadges, unique)

		assert.False(t, shared.IsFeatureUnavailable(err))
		assert.True(t, IsUniqueViolation(err))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, classify(tableUserXP, nil))
	})
}

func TestIsNoRows(t *testing.T) {
	assert.True(t, IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)))
	assert.False(t, IsNoRows(errors.New("boom")))
}
