package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"clipsync/internal/domain"
	"clipsync/internal/repository"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	options TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	speed INTEGER NOT NULL DEFAULT 0,
	eta_sec INTEGER NOT NULL DEFAULT -1,
	downloaded_bytes INTEGER NOT NULL DEFAULT 0,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL DEFAULT '',
	duration_seconds REAL NOT NULL DEFAULT 0,
	staging_dir TEXT NOT NULL DEFAULT '',
	output_path TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	next_retry_at DATETIME NULL,
	error_message TEXT NOT NULL DEFAULT '',
	warning TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	started_at DATETIME NULL,
	finished_at DATETIME NULL
);
`

const taskColumns = `id, url, options, status, progress, speed, eta_sec,
downloaded_bytes, total_bytes, title, channel, duration_seconds,
staging_dir, output_path, attempts, next_retry_at, error_message, warning,
created_at, updated_at, started_at, finished_at`

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) repository.TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTasksTable); err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}
	return nil
}

func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) (int64, error) {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	opts, err := json.Marshal(task.Options)
	if err != nil {
		return 0, fmt.Errorf("marshal task options: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (url, options, status, progress, speed, eta_sec, downloaded_bytes, total_bytes, title, channel, duration_seconds, staging_dir, output_path, attempts, next_retry_at, error_message, warning, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.URL,
		string(opts),
		string(task.Status),
		task.Progress,
		task.Speed,
		task.ETASec,
		task.DownloadedBytes,
		task.TotalBytes,
		task.Title,
		task.Channel,
		task.DurationSeconds,
		task.StagingDir,
		task.OutputPath,
		task.Attempts,
		nullTime(task.NextRetryAt),
		task.ErrorMessage,
		task.Warning,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	task.ID = id
	return id, nil
}

func (r *TaskRepository) Get(ctx context.Context, id int64) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return task, nil
}

func (r *TaskRepository) List(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepository) ListByStatuses(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (r *TaskRepository) UpdateStatus(ctx context.Context, id int64, status domain.TaskStatus, errorMessage *string) error {
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks SET status=?, error_message=?, updated_at=? WHERE id=?`,
		string(status), msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (r *TaskRepository) UpdateProgress(ctx context.Context, id int64, progress int, speed, downloaded, total int64, etaSec int) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks SET progress=?, speed=?, downloaded_bytes=?, total_bytes=?, eta_sec=?, updated_at=? WHERE id=?`,
		progress, speed, downloaded, total, etaSec, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

func (r *TaskRepository) UpdateMediaInfo(ctx context.Context, id int64, title, channel string, durationSeconds float64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks SET title=?, channel=?, duration_seconds=?, updated_at=? WHERE id=?`,
		title, channel, durationSeconds, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update media info: %w", err)
	}
	return nil
}

func (r *TaskRepository) SetWarning(ctx context.Context, id int64, warning string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks SET warning=?, updated_at=? WHERE id=?`,
		warning, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set task warning: %w", err)
	}
	return nil
}

func (r *TaskRepository) MarkRunning(ctx context.Context, id int64, attempts int, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks SET status=?, attempts=?, started_at=?, next_retry_at=NULL, error_message='', updated_at=? WHERE id=?`,
		string(domain.TaskStatusRunning), attempts, startedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	return nil
}

func (r *TaskRepository) MarkRetrying(ctx context.Context, id int64, nextRetryAt time.Time, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks SET status=?, next_retry_at=?, error_message=?, updated_at=? WHERE id=?`,
		string(domain.TaskStatusRetrying), nextRetryAt.UTC(), errorMessage, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark task retrying: %w", err)
	}
	return nil
}

func (r *TaskRepository) MarkCompleted(ctx context.Context, id int64, outputPath string, finishedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks SET status=?, output_path=?, progress=100, finished_at=?, updated_at=? WHERE id=?`,
		string(domain.TaskStatusCompleted), outputPath, finishedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task        domain.Task
		options     string
		status      string
		nextRetryAt sql.NullTime
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
	)
	err := row.Scan(
		&task.ID,
		&task.URL,
		&options,
		&status,
		&task.Progress,
		&task.Speed,
		&task.ETASec,
		&task.DownloadedBytes,
		&task.TotalBytes,
		&task.Title,
		&task.Channel,
		&task.DurationSeconds,
		&task.StagingDir,
		&task.OutputPath,
		&task.Attempts,
		&nextRetryAt,
		&task.ErrorMessage,
		&task.Warning,
		&task.CreatedAt,
		&task.UpdatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	if err := json.Unmarshal([]byte(options), &task.Options); err != nil {
		return nil, fmt.Errorf("unmarshal task options: %w", err)
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		task.NextRetryAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		task.FinishedAt = &t
	}
	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
