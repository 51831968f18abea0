package testutil

import (
	"testing"

	"cms-go/internal/database"
)

// NewTestDatabase creates a new in-memory state store with schema applied.
// The store is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteStore {
	t.Helper()

	db, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open state store: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
