// Package testing provides database and collaborator helpers shared by package tests.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/networth/internal/database"
)

// profiles mirrors the production profile of each named database
var profiles = map[string]database.DatabaseProfile{
	database.NameSnapshots:  database.ProfileLedger,
	database.NameClientData: database.ProfileCache,
}

// NewTestDB creates a file-backed SQLite database in a temporary directory and
// applies the embedded schema for name ("snapshots", "client_data"). Unknown
// names get an empty database. The database is closed when the test ends;
// the returned cleanup func may also be called earlier and is idempotent.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	profile, ok := profiles[name]
	if !ok {
		profile = database.ProfileStandard
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "test_"+name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	cleanup := func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
	t.Cleanup(cleanup)

	return db, cleanup
}
