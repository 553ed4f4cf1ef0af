package migration

import (
	"context"
	"fmt"
	"log/slog"
)

// Manager applies pending migrations in version order.
type Manager struct {
	scanner  *Scanner
	executor *Executor
	logger   *slog.Logger
}

// NewManager wires a scanner and executor together.
func NewManager(scanner *Scanner, executor *Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scanner: scanner, executor: executor, logger: logger.With("component", "migration")}
}

// Run executes all pending migrations, stopping at the first failure.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return fmt.Errorf("failed to initialize version table: %w", err)
	}

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(status.Pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return nil
	}

	m.logger.InfoContext(ctx, "applying migrations", "current_version", status.CurrentVersion, "pending", len(status.Pending))
	for i, migration := range status.Pending {
		if err := m.executor.Execute(ctx, migration); err != nil {
			m.logger.ErrorContext(ctx, "migration failed", "version", migration.Version, "error", err)
			return err
		}
		m.logger.InfoContext(ctx, "migration applied",
			"version", migration.Version,
			"description", migration.Description,
			"step", fmt.Sprintf("%d/%d", i+1, len(status.Pending)),
		)
	}
	return nil
}

// Status reports applied and pending migrations.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	available, err := m.scanner.Scan()
	if err != nil {
		return Status{}, fmt.Errorf("failed to scan migrations: %w", err)
	}
	applied, err := m.executor.Applied(ctx)
	if err != nil {
		return Status{}, err
	}

	done := make(map[string]bool, len(applied))
	status := Status{Applied: applied}
	for _, record := range applied {
		done[record.Version] = true
		status.CurrentVersion = record.Version
	}
	for _, migration := range available {
		if !done[migration.Version] {
			status.Pending = append(status.Pending, migration)
		}
	}
	return status, nil
}
