package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"tollgate.io/tollgate/internal/repository/sqlite"
)

// OpenSQLiteStore returns a migrated SQLite store in a per-test temp dir.
func OpenSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "tollgate.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate sqlite store: %v", err)
	}
	return s
}
