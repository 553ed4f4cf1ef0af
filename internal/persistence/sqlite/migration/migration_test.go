package migration

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrations.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestScannerOrdersAndDescribes(t *testing.T) {
	t.Parallel()

	files := fstest.MapFS{
		"migrations/010_add_index.sql":     {Data: []byte("CREATE INDEX idx_things_name ON things(name);")},
		"migrations/002_create_things.sql": {Data: []byte("-- Description: Create things table\nCREATE TABLE things (id TEXT PRIMARY KEY, name TEXT);")},
		"migrations/README.md":             {Data: []byte("ignored")},
	}

	migrations, err := NewScanner(files, "migrations").Scan()
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != "002" || migrations[1].Version != "010" {
		t.Fatalf("unexpected order: %s, %s", migrations[0].Version, migrations[1].Version)
	}
	if migrations[0].Description != "Create things table" {
		t.Fatalf("expected description from comment, got %q", migrations[0].Description)
	}
	if migrations[1].Description != "add index" {
		t.Fatalf("expected description from filename, got %q", migrations[1].Description)
	}
	if migrations[0].Checksum == "" {
		t.Fatalf("expected checksum to be populated")
	}
}

func TestScannerRejectsMalformedFiles(t *testing.T) {
	t.Parallel()

	cases := map[string]fstest.MapFS{
		"bad name":  {"m/initial.sql": {Data: []byte("SELECT 1;")}},
		"empty":     {"m/001_empty.sql": {Data: []byte("   ")}},
		"duplicate": {"m/001_a.sql": {Data: []byte("SELECT 1;")}, "m/01_b.sql": {Data: []byte("SELECT 1;")}},
	}
	for name, files := range cases {
		files := files
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := NewScanner(files, "m").Scan()
			var migErr *MigrationError
			if !errors.As(err, &migErr) {
				t.Fatalf("expected MigrationError, got %v", err)
			}
		})
	}
}

func TestManagerAppliesPendingOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	files := fstest.MapFS{
		"m/001_create.sql": {Data: []byte("CREATE TABLE things (id TEXT PRIMARY KEY);\n-- seed\nINSERT INTO things (id) VALUES ('a');")},
		"m/002_more.sql":   {Data: []byte("INSERT INTO things (id) VALUES ('b');")},
	}
	manager := NewManager(NewScanner(files, "m"), NewExecutor(db), nil)

	if err := manager.Run(ctx); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	if err := manager.Run(ctx); err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM things`).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows after idempotent runs, got %d", count)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.CurrentVersion != "002" || len(status.Pending) != 0 || len(status.Applied) != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestManagerRollsBackFailedMigration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	files := fstest.MapFS{
		"m/001_create.sql": {Data: []byte("CREATE TABLE things (id TEXT PRIMARY KEY);")},
		"m/002_broken.sql": {Data: []byte("INSERT INTO things (id) VALUES ('x');\nINSERT INTO missing_table VALUES (1);")},
	}
	manager := NewManager(NewScanner(files, "m"), NewExecutor(db), nil)

	err := manager.Run(ctx)
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM things`).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected failed migration to roll back, found %d rows", count)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.CurrentVersion != "001" || len(status.Pending) != 1 {
		t.Fatalf("unexpected status after failure: %+v", status)
	}
}
