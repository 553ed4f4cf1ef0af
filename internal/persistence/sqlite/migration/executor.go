package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Executor applies migrations and records them in schema_migrations.
type Executor struct {
	db  *sql.DB
	now func() time.Time
}

// NewExecutor creates a migration executor for db.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db, now: time.Now}
}

// InitializeVersionTable creates the schema_migrations table if it doesn't exist.
func (e *Executor) InitializeVersionTable(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TEXT NOT NULL,
			execution_ms INTEGER NOT NULL DEFAULT 0
		)`
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// Applied returns every recorded migration ordered by version.
func (e *Executor) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT version, applied_at, execution_ms FROM schema_migrations ORDER BY CAST(version AS INTEGER)`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			record    AppliedMigration
			appliedAt string
			millis    int64
		)
		if err := rows.Scan(&record.Version, &appliedAt, &millis); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		record.AppliedAt, _ = time.Parse(time.RFC3339Nano, appliedAt)
		record.ExecutionTime = time.Duration(millis) * time.Millisecond
		applied = append(applied, record)
	}
	return applied, rows.Err()
}

// Execute runs a single migration and records it within one transaction.
func (e *Executor) Execute(ctx context.Context, migration Migration) (err error) {
	started := e.now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return newMigrationError(migration.Version, migration.FilePath, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	statements := splitStatements(migration.SQL)
	if len(statements) == 0 {
		return newMigrationError(migration.Version, migration.FilePath, "parse SQL",
			fmt.Errorf("%w: no SQL statements found", ErrInvalidMigrationFile))
	}
	for i, stmt := range statements {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return newMigrationError(migration.Version, migration.FilePath,
				fmt.Sprintf("execute statement %d", i+1), fmt.Errorf("%w: %v", ErrMigrationFailed, execErr))
		}
	}

	elapsed := e.now().Sub(started)
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)`,
		migration.Version, migration.Checksum, e.now().UTC().Format(time.RFC3339Nano), elapsed.Milliseconds(),
	); err != nil {
		return newMigrationError(migration.Version, migration.FilePath, "record version", err)
	}

	if err = tx.Commit(); err != nil {
		return newMigrationError(migration.Version, migration.FilePath, "commit", err)
	}
	return nil
}

// splitStatements breaks a script on semicolons, dropping comment-only lines.
// Migration files must not place semicolons inside string literals or triggers.
func splitStatements(script string) []string {
	var cleaned strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		cleaned.WriteString(line)
		cleaned.WriteString("\n")
	}

	var statements []string
	for _, part := range strings.Split(cleaned.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
