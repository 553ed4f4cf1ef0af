package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/persistence/memory"
	"github.com/example/secret-coffee/internal/persistence/sqlite"
)

// StoreFactory builds a fresh, migrated store for one test.
type StoreFactory func(tb testing.TB) persistence.Store

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore(tb testing.TB) persistence.Store {
	tb.Helper()
	return memory.New()
}

// NewSQLiteStore returns a migrated SQLite store in a temporary directory.
// It is closed automatically when the test ends.
func NewSQLiteStore(tb testing.TB) persistence.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "secretcoffee.db")
	store, err := sqlite.Open("file:" + path)
	if err != nil {
		tb.Fatalf("failed to open sqlite store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate sqlite store: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// StoreFactories lists every store implementation, keyed by name, so tests
// can assert identical behaviour across them.
func StoreFactories() map[string]StoreFactory {
	return map[string]StoreFactory{
		"memory": NewMemoryStore,
		"sqlite": NewSQLiteStore,
	}
}
