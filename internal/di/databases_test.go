package di

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/networth/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDatabases(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.Config{DataDir: tmpDir}

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, container)
	defer container.Close()

	assert.NotNil(t, container.SnapshotsDB)
	assert.NotNil(t, container.ClientDataDB)
	assert.Len(t, container.Databases(), 2)

	assert.FileExists(t, filepath.Join(tmpDir, "snapshots.db"))
	assert.FileExists(t, filepath.Join(tmpDir, "client_data.db"))

	// Schemas are applied
	var n int
	require.NoError(t, container.SnapshotsDB.Conn().QueryRow("SELECT COUNT(*) FROM asset_snapshots").Scan(&n))
	assert.Zero(t, n)
}

func TestInitializeDatabases_InvalidPath(t *testing.T) {
	// A regular file where the data directory should be
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	cfg := &config.Config{DataDir: filepath.Join(blocker, "data")}

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, container)
}
