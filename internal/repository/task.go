package repository

import (
	"context"
	"time"

	"clipsync/internal/domain"
)

// TaskRepository exposes persistence operations for download tasks.
// Persisted state is what makes task-level resume across restarts possible.
type TaskRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, task *domain.Task) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Task, error)
	List(ctx context.Context) ([]domain.Task, error)
	ListByStatuses(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.Task, error)
	Delete(ctx context.Context, id int64) error

	UpdateStatus(ctx context.Context, id int64, status domain.TaskStatus, errorMessage *string) error
	UpdateProgress(ctx context.Context, id int64, progress int, speed, downloaded, total int64, etaSec int) error
	UpdateMediaInfo(ctx context.Context, id int64, title, channel string, durationSeconds float64) error
	SetWarning(ctx context.Context, id int64, warning string) error

	MarkRunning(ctx context.Context, id int64, attempts int, startedAt time.Time) error
	MarkRetrying(ctx context.Context, id int64, nextRetryAt time.Time, errorMessage string) error
	MarkCompleted(ctx context.Context, id int64, outputPath string, finishedAt time.Time) error
}

// HistoryRepository records completed downloads, newest first.
type HistoryRepository interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, entry *domain.HistoryEntry) error
	List(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	Clear(ctx context.Context) error
}
