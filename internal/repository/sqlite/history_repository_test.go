package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipsync/internal/domain"
	"clipsync/internal/repository"
)

func testHistoryRepo(t *testing.T) repository.HistoryRepository {
	t.Helper()
	repo := NewHistoryRepository(testDB(t))
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestHistoryAppendAndListNewestFirst(t *testing.T) {
	repo := testHistoryRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := repo.Append(ctx, &domain.HistoryEntry{
			Title:      fmt.Sprintf("Video %d", i),
			URL:        fmt.Sprintf("https://example.com/v%d", i),
			OutputPath: fmt.Sprintf("/out/v%d.mp4", i),
		})
		require.NoError(t, err)
	}

	entries, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Video 2", entries[0].Title)
	assert.Equal(t, "Video 0", entries[2].Title)

	limited, err := repo.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestHistoryClear(t *testing.T) {
	repo := testHistoryRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, &domain.HistoryEntry{URL: "https://example.com/v", OutputPath: "/out/v.mp4"}))
	require.NoError(t, repo.Clear(ctx))

	entries, err := repo.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
