package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/banshee-data/scanground/internal/db"
	"github.com/banshee-data/scanground/internal/monitoring"
)

// setupGroundPassTestDB opens a migrated database in a temp directory so
// tests run against the same schema as production.
func setupGroundPassTestDB(t *testing.T) *sql.DB {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database.DB
}
