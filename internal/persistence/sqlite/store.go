// Package sqlite implements persistence.Store on top of modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store implements every persistence repository against one SQLite database.
type Store struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	retry  *RetryHelper
	logger *slog.Logger
}

var _ persistence.Store = (*Store)(nil)

// Open connects to the database identified by dsn. Call Migrate before use.
func Open(dsn string) (*Store, error) {
	return OpenWithConfig(Config{DSN: dsn}, nil)
}

// OpenWithConfig connects using cfg and logs migrations through logger.
func OpenWithConfig(cfg Config, logger *slog.Logger) (*Store, error) {
	pool, err := NewConnectionPool(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:   pool,
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
		logger: logger,
	}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	manager := migration.NewManager(
		migration.NewScanner(migrationFiles, "migrations"),
		migration.NewExecutor(s.pool.DB()),
		s.logger,
	)
	if err := manager.Run(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// exec runs a write with lock retries and returns the affected row count.
func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := s.retry.WithRetry(ctx, func() error {
		result, err := s.pool.DB().ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	return affected, err
}

// inTx runs fn in a transaction with lock retries and mapped errors.
func (s *Store) inTx(ctx context.Context, fn TransactionFunc) error {
	return s.retry.WithRetry(ctx, func() error {
		return s.pool.WithTransaction(ctx, fn)
	})
}

// exists reports whether query returns at least one row.
func exists(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
