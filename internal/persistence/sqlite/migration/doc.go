// Package migration applies versioned SQL schema changes to a SQLite database.
//
// Migration files live in an fs.FS (normally an embedded directory) and follow
// the naming convention {version}_{description}.sql, e.g. "001_initial_schema.sql".
// Applied versions are tracked in the schema_migrations table so each file runs
// exactly once, inside its own transaction.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewExecutor(db), logger)
//	if err := manager.Run(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
