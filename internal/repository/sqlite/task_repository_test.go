package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipsync/internal/domain"
	"clipsync/internal/repository"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testTaskRepo(t *testing.T) repository.TaskRepository {
	t.Helper()
	repo := NewTaskRepository(testDB(t))
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func sampleTask() *domain.Task {
	return &domain.Task{
		URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Options: domain.DownloadOptions{
			Format:        "best",
			AudioOnly:     true,
			AudioFormat:   "mp3",
			EmbedMetadata: true,
			Trim:          &domain.TrimRange{Start: 10, End: 90},
		},
		Status:     domain.TaskStatusPending,
		ETASec:     -1,
		StagingDir: "/tmp/staging/task-x",
	}
}

func TestTaskRepositoryRoundTrip(t *testing.T) {
	repo := testTaskRepo(t)
	ctx := context.Background()

	task := sampleTask()
	id, err := repo.Create(ctx, task)
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.URL, got.URL)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, -1, got.ETASec)
	assert.Equal(t, "mp3", got.Options.AudioFormat)
	require.NotNil(t, got.Options.Trim)
	assert.InDelta(t, 10, got.Options.Trim.Start, 0.001)
	assert.InDelta(t, 90, got.Options.Trim.End, 0.001)
	assert.Nil(t, got.NextRetryAt)
	assert.Nil(t, got.StartedAt)
}

func TestTaskRepositoryGetMissing(t *testing.T) {
	repo := testTaskRepo(t)
	_, err := repo.Get(context.Background(), 12345)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestTaskRepositoryLifecycleMarks(t *testing.T) {
	repo := testTaskRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, sampleTask())
	require.NoError(t, err)

	started := time.Now()
	require.NoError(t, repo.MarkRunning(ctx, id, 1, started))
	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.StartedAt)

	retryAt := time.Now().Add(4 * time.Second)
	require.NoError(t, repo.MarkRetrying(ctx, id, retryAt, "connection reset"))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRetrying, got.Status)
	assert.Equal(t, "connection reset", got.ErrorMessage)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, retryAt, *got.NextRetryAt, time.Second)

	// a new attempt clears the retry bookkeeping
	require.NoError(t, repo.MarkRunning(ctx, id, 2, time.Now()))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.NextRetryAt)
	assert.Empty(t, got.ErrorMessage)

	require.NoError(t, repo.MarkCompleted(ctx, id, "/out/video.mp4", time.Now()))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, "/out/video.mp4", got.OutputPath)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.FinishedAt)
}

func TestTaskRepositoryListByStatuses(t *testing.T) {
	repo := testTaskRepo(t)
	ctx := context.Background()

	for i, status := range []domain.TaskStatus{
		domain.TaskStatusPending,
		domain.TaskStatusRunning,
		domain.TaskStatusCompleted,
		domain.TaskStatusRetrying,
	} {
		task := sampleTask()
		id, err := repo.Create(ctx, task)
		require.NoError(t, err, "task %d", i)
		require.NoError(t, repo.UpdateStatus(ctx, id, status, nil))
	}

	waiting, err := repo.ListByStatuses(ctx,
		domain.TaskStatusPending, domain.TaskStatusRunning, domain.TaskStatusRetrying)
	require.NoError(t, err)
	assert.Len(t, waiting, 3)
	// id order, so resume keeps the original FIFO ordering
	assert.Equal(t, domain.TaskStatusPending, waiting[0].Status)
	assert.Equal(t, domain.TaskStatusRunning, waiting[1].Status)
	assert.Equal(t, domain.TaskStatusRetrying, waiting[2].Status)

	none, err := repo.ListByStatuses(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTaskRepositoryProgressAndWarning(t *testing.T) {
	repo := testTaskRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, sampleTask())
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProgress(ctx, id, 42, 1<<20, 4200, 10000, 17))
	require.NoError(t, repo.UpdateMediaInfo(ctx, id, "A Title", "A Channel", 321.5))
	require.NoError(t, repo.SetWarning(ctx, id, "metadata embedding failed"))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Progress)
	assert.Equal(t, int64(1<<20), got.Speed)
	assert.Equal(t, int64(4200), got.DownloadedBytes)
	assert.Equal(t, int64(10000), got.TotalBytes)
	assert.Equal(t, 17, got.ETASec)
	assert.Equal(t, "A Title", got.Title)
	assert.Equal(t, "A Channel", got.Channel)
	assert.InDelta(t, 321.5, got.DurationSeconds, 0.001)
	assert.Equal(t, "metadata embedding failed", got.Warning)
}

func TestTaskRepositoryDelete(t *testing.T) {
	repo := testTaskRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, sampleTask())
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, id))

	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}
