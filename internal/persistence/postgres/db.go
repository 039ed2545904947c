package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/trialgate/trialgate/internal/persistence"
)

// DefaultTimeout bounds a single statement round trip.
const DefaultTimeout = 10 * time.Second

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// mapPQ translates Postgres error codes into the persistence error taxonomy.
// 23505 unique_violation, 23503 foreign_key_violation.
func mapPQ(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23505", "23503", "23514":
			return fmt.Errorf("%w: %s", persistence.ErrIntegrity, pqErr.Message)
		}
	}
	return err
}

// WithSavepoint runs fn inside a savepoint on tx. On error the savepoint is
// rolled back and the enclosing transaction stays usable, so one bad trial
// does not poison the batch.
func WithSavepoint(ctx context.Context, tx *sqlx.Tx, name string, fn func(tx *sqlx.Tx) error) error {
	sp := pq.QuoteIdentifier(name)
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(tx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
			return fmt.Errorf("savepoint rollback failed after %v: %w", err, rbErr)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// WithTx runs fn inside a top-level transaction with commit/rollback handling.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
