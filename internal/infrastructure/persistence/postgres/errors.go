package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// SQLSTATE codes the pipeline reacts to.
const (
	codeUndefinedTable  = "42P01"
	codeUniqueViolation = "23505"
)

// IsUndefinedTable checks if the error is an undefined_table error.
func IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.TrimSpace(pgErr.Code) == codeUndefinedTable
	}
	return false
}

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUniqueViolation
	}
	return false
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// classify maps driver errors for table onto domain errors. A missing
// relation becomes a *shared.FeatureUnavailableError; everything else is
// returned unchanged.
func classify(table string, err error) error {
	if err == nil {
		return nil
	}
	if IsUndefinedTable(err) {
		return shared.NewFeatureUnavailable(table, err)
	}
	return err
}
