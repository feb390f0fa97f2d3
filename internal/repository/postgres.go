package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aadvita/dues-engine/internal/config"
	customError "github.com/aadvita/dues-engine/pkg/errors"
)

const pqUniqueViolation = "23505"

// translateUniqueViolation maps Postgres unique violations to domain sentinels.
func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case "members_national_id_key":
		return customError.ErrDuplicateNationalID
	default:
		return customError.ErrConflict
	}
}

// Connect opens the Postgres pool, retrying with a linearly growing delay while the
// database is still coming up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sqlx.DB, error) {
	attempts := cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
		if err == nil {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(cfg.MaxIdleConns)
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
			return db, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		delay := cfg.RetryDelay * time.Duration(attempt)
		logger.Warn("database not ready, retrying", "attempt", attempt, "of", attempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("connect to database after %d attempts: %w", attempts, lastErr)
}
