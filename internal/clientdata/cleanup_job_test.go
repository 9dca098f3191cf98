package clientdata

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/networth/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCleanup(t *testing.T, repo *Repository) *scheduler.Result {
	t.Helper()
	tc := scheduler.NewContext(TaskCleanup, "exec", nil, nil, zerolog.Nop())
	return scheduler.Invoke(context.Background(), NewCleanupTask(repo), tc)
}

func TestCleanupTask_Run(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, TableExchangeRate, "USD", cachedQuote{}, -time.Hour))
	require.NoError(t, repo.Store(ctx, TableExchangeRate, "EUR", cachedQuote{}, time.Hour))
	require.NoError(t, repo.Store(ctx, TableNAVQuotes, "110011", cachedQuote{}, -time.Hour))

	res := runCleanup(t, repo)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int64(2), res.Data["total_deleted"])

	n, err := repo.Count(ctx, TableExchangeRate)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCleanupTask_EmptyTables(t *testing.T) {
	res := runCleanup(t, NewRepository(setupTestDB(t)))
	require.True(t, res.Success)
	assert.Equal(t, int64(0), res.Data["total_deleted"])
}

func TestCleanupTask_DatabaseErrorFailsTask(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	require.NoError(t, db.Close())

	res := runCleanup(t, repo)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}
