package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"clipsync/internal/domain"
	"clipsync/internal/platform"
	"clipsync/internal/repository"
)

// TaskService validates and persists tasks on top of the repositories.
// It owns no scheduling; the downloader manager drives state transitions
// through the update methods.
type TaskService interface {
	CreateTask(ctx context.Context, url string, opts domain.DownloadOptions, stagingRoot string) (*domain.Task, error)
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	ListTasks(ctx context.Context) ([]domain.Task, error)
	ListByStatuses(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.Task, error)
	DeleteTask(ctx context.Context, id int64) error

	UpdateStatus(ctx context.Context, id int64, status domain.TaskStatus, errMsg *string) error
	UpdateProgress(ctx context.Context, id int64, progress int, speed, downloaded, total int64, etaSec int) error
	UpdateMediaInfo(ctx context.Context, id int64, title, channel string, durationSeconds float64) error
	SetWarning(ctx context.Context, id int64, warning string) error
	MarkRunning(ctx context.Context, id int64, attempts int) error
	MarkRetrying(ctx context.Context, id int64, nextRetryAt time.Time, errMsg string) error
	MarkCompleted(ctx context.Context, id int64, outputPath string) error

	RecordHistory(ctx context.Context, task *domain.Task) error
	ListHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	ClearHistory(ctx context.Context) error
}

type taskService struct {
	tasks   repository.TaskRepository
	history repository.HistoryRepository
}

func NewTaskService(tasks repository.TaskRepository, history repository.HistoryRepository) TaskService {
	return &taskService{tasks: tasks, history: history}
}

// CreateTask validates the request and persists a Pending task. Invalid
// input is rejected with an InvalidRequest error and never enqueued.
func (s *taskService) CreateTask(ctx context.Context, url string, opts domain.DownloadOptions, stagingRoot string) (*domain.Task, error) {
	if url == "" {
		return nil, domain.InvalidRequestError("source URL is required")
	}
	if !platform.IsValidURL(url) {
		return nil, domain.InvalidRequestError("source URL %q is not an http(s) URL", url)
	}
	if opts.Trim != nil {
		if opts.Trim.Start < 0 {
			return nil, domain.InvalidRequestError("trim start must not be negative")
		}
		if opts.Trim.Inverted() {
			return nil, domain.InvalidRequestError("trim range is inverted: end %.3f before start %.3f", opts.Trim.End, opts.Trim.Start)
		}
	}

	task := &domain.Task{
		URL:        url,
		Options:    opts,
		Status:     domain.TaskStatusPending,
		ETASec:     -1,
		StagingDir: filepath.Join(stagingRoot, fmt.Sprintf("task-%s", uuid.NewString())),
	}
	if opts.NotBefore != nil {
		t := *opts.NotBefore
		task.NextRetryAt = &t
	}

	if _, err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *taskService) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	return s.tasks.Get(ctx, id)
}

func (s *taskService) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.tasks.List(ctx)
}

func (s *taskService) ListByStatuses(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.Task, error) {
	return s.tasks.ListByStatuses(ctx, statuses...)
}

func (s *taskService) DeleteTask(ctx context.Context, id int64) error {
	return s.tasks.Delete(ctx, id)
}

func (s *taskService) UpdateStatus(ctx context.Context, id int64, status domain.TaskStatus, errMsg *string) error {
	return s.tasks.UpdateStatus(ctx, id, status, errMsg)
}

func (s *taskService) UpdateProgress(ctx context.Context, id int64, progress int, speed, downloaded, total int64, etaSec int) error {
	return s.tasks.UpdateProgress(ctx, id, progress, speed, downloaded, total, etaSec)
}

func (s *taskService) UpdateMediaInfo(ctx context.Context, id int64, title, channel string, durationSeconds float64) error {
	return s.tasks.UpdateMediaInfo(ctx, id, title, channel, durationSeconds)
}

func (s *taskService) SetWarning(ctx context.Context, id int64, warning string) error {
	return s.tasks.SetWarning(ctx, id, warning)
}

func (s *taskService) MarkRunning(ctx context.Context, id int64, attempts int) error {
	return s.tasks.MarkRunning(ctx, id, attempts, time.Now())
}

func (s *taskService) MarkRetrying(ctx context.Context, id int64, nextRetryAt time.Time, errMsg string) error {
	return s.tasks.MarkRetrying(ctx, id, nextRetryAt, errMsg)
}

func (s *taskService) MarkCompleted(ctx context.Context, id int64, outputPath string) error {
	return s.tasks.MarkCompleted(ctx, id, outputPath, time.Now())
}

func (s *taskService) RecordHistory(ctx context.Context, task *domain.Task) error {
	return s.history.Append(ctx, &domain.HistoryEntry{
		Title:      task.Title,
		URL:        task.URL,
		OutputPath: task.OutputPath,
	})
}

func (s *taskService) ListHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	return s.history.List(ctx, limit)
}

func (s *taskService) ClearHistory(ctx context.Context) error {
	return s.history.Clear(ctx)
}
