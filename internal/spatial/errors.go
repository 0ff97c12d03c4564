package spatial

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrPersistence covers an unreachable store, violated constraints other
	// than uniqueness and I/O failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrConflict reports a duplicate where uniqueness is required. It never
	// matches ErrPersistence.
	ErrConflict = errors.New("conflict")
)

const uniqueViolation = "23505"

// classify maps a driver error onto ErrConflict or ErrPersistence.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.Detail != "" {
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.Detail)
		}
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
