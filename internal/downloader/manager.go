package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"clipsync/internal/domain"
	"clipsync/internal/media"
	"clipsync/internal/platform"
	"clipsync/internal/service"
)

// Manager coordinates the download queue: FIFO dispatch onto a bounded
// worker pool, cooperative cancellation, retry with backoff, and resume of
// persisted tasks after a restart.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Enqueue(ctx context.Context, taskID int64) error
	Cancel(ctx context.Context, taskID int64) error
	Resume(ctx context.Context) error
	Reporter() *Reporter
}

type Config struct {
	StagingRoot   string
	OutputDir     string
	MaxConcurrent int
	MaxAttempts   int
	RetryBase     time.Duration
	// MinFreeDisk refuses to start a download when the staging filesystem
	// has less free space than this, in bytes. 0 disables the check.
	MinFreeDisk uint64
	// PersistInterval throttles progress writes to the database; the
	// reporter still sees every sample.
	PersistInterval time.Duration
	Logger          *logrus.Logger
}

type manager struct {
	cfg      Config
	tasks    service.TaskService
	resolver media.Resolver
	fetcher  media.Fetcher
	proc     media.Processor
	tagger   media.Tagger
	retry    *RetryPolicy
	reporter *Reporter

	mu      sync.Mutex
	queue   []*queuedTask
	running map[int64]*taskHandle
	wake    chan struct{}

	sem    chan struct{}
	wg     sync.WaitGroup
	loopWg sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type queuedTask struct {
	id        int64
	notBefore time.Time
}

type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, tasks service.TaskService, resolver media.Resolver, fetcher media.Fetcher, proc media.Processor, tagger media.Tagger, reporter *Reporter) Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if reporter == nil {
		reporter = NewReporter(nil)
	}
	return &manager{
		cfg:      cfg,
		tasks:    tasks,
		resolver: resolver,
		fetcher:  fetcher,
		proc:     proc,
		tagger:   tagger,
		retry:    NewRetryPolicy(cfg.MaxAttempts, cfg.RetryBase),
		reporter: reporter,
		running:  make(map[int64]*taskHandle),
		wake:     make(chan struct{}, 1),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
	}
}

func (m *manager) Start(ctx context.Context) error {
	if err := platform.EnsureDir(m.cfg.StagingRoot); err != nil {
		return err
	}
	if err := platform.EnsureDir(m.cfg.OutputDir); err != nil {
		return err
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.loopWg.Add(1)
	go m.dispatchLoop()

	m.cfg.Logger.Infof("download manager started, staging: %s, output: %s, slots: %d",
		m.cfg.StagingRoot, m.cfg.OutputDir, m.cfg.MaxConcurrent)
	return nil
}

func (m *manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.loopWg.Wait()
	m.wg.Wait()
	m.cfg.Logger.Info("download manager stopped")
}

func (m *manager) Reporter() *Reporter {
	return m.reporter
}

// Enqueue appends a persisted task to the in-memory FIFO queue.
func (m *manager) Enqueue(ctx context.Context, taskID int64) error {
	task, err := m.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.Status.Waiting() {
		return fmt.Errorf("task %d is not pending (state %s)", taskID, task.Status)
	}

	var notBefore time.Time
	if task.NextRetryAt != nil {
		notBefore = *task.NextRetryAt
	}

	m.mu.Lock()
	m.queue = append(m.queue, &queuedTask{id: taskID, notBefore: notBefore})
	m.mu.Unlock()

	m.reporter.TaskChanged(task)
	m.signalWake()
	return nil
}

// Resume re-enqueues tasks persisted as non-terminal. Tasks interrupted
// mid-run restart from the top of the pipeline (task-level resume); bytes
// already fetched are reused through yt-dlp's own partial-file continue.
func (m *manager) Resume(ctx context.Context) error {
	tasks, err := m.tasks.ListByStatuses(ctx,
		domain.TaskStatusPending,
		domain.TaskStatusRunning,
		domain.TaskStatusRetrying,
	)
	if err != nil {
		return err
	}

	for i := range tasks {
		task := &tasks[i]
		if task.Status == domain.TaskStatusRunning {
			if err := m.tasks.UpdateStatus(ctx, task.ID, domain.TaskStatusPending, nil); err != nil {
				m.cfg.Logger.WithField("task_id", task.ID).Warnf("reset interrupted task: %v", err)
				continue
			}
			task.Status = domain.TaskStatusPending
		}
		if err := m.Enqueue(ctx, task.ID); err != nil {
			m.cfg.Logger.WithField("task_id", task.ID).Warnf("resume task: %v", err)
		}
	}
	if len(tasks) > 0 {
		m.cfg.Logger.Infof("resumed %d unfinished tasks", len(tasks))
	}
	return nil
}

// Cancel transitions a task to Cancelled. Pending tasks are removed from
// the queue immediately; running tasks are cancelled cooperatively and
// Cancel waits until the worker has observed it (or ctx expires).
func (m *manager) Cancel(ctx context.Context, taskID int64) error {
	m.mu.Lock()
	for i, q := range m.queue {
		if q.id != taskID {
			continue
		}
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		m.mu.Unlock()
		return m.finalizeCancel(taskID)
	}
	if handle, ok := m.running[taskID]; ok {
		m.mu.Unlock()
		handle.cancel()
		select {
		case <-handle.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Unlock()

	task, err := m.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("cannot cancel task in state %s", task.Status)
	}
	// Persisted as waiting but not enqueued with this manager instance.
	return m.finalizeCancel(taskID)
}

func (m *manager) finalizeCancel(taskID int64) error {
	if err := m.tasks.UpdateStatus(context.Background(), taskID, domain.TaskStatusCancelled, nil); err != nil {
		return err
	}
	task, err := m.tasks.GetTask(context.Background(), taskID)
	if err == nil {
		m.cleanupStaging(task)
		m.reporter.TaskChanged(task)
	}
	m.cfg.Logger.WithField("task_id", taskID).Info("task cancelled")
	return nil
}

// dispatchLoop owns the pending queue: it dispatches the first eligible
// task in FIFO order whenever a worker slot is free.
func (m *manager) dispatchLoop() {
	defer m.loopWg.Done()

	for {
		id, wait, ok := m.nextEligible()
		if !ok {
			select {
			case <-m.ctx.Done():
				return
			case <-m.wake:
				continue
			}
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-m.ctx.Done():
				timer.Stop()
				return
			case <-m.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		select {
		case <-m.ctx.Done():
			return
		case m.sem <- struct{}{}:
		}
		if !m.launch(id) {
			// task was cancelled while we waited for a slot
			<-m.sem
		}
	}
}

// nextEligible returns the first queued task whose not-before time has
// passed. When the queue holds only future-eligible tasks it returns the
// shortest wait instead.
func (m *manager) nextEligible() (id int64, wait time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return 0, 0, false
	}
	now := time.Now()
	minWait := time.Duration(-1)
	for _, q := range m.queue {
		if !q.notBefore.After(now) {
			return q.id, 0, true
		}
		if w := q.notBefore.Sub(now); minWait < 0 || w < minWait {
			minWait = w
		}
	}
	return 0, minWait, true
}

// launch removes the task from the queue and runs it on the acquired slot.
// Returns false when the task is no longer queued.
func (m *manager) launch(taskID int64) bool {
	m.mu.Lock()
	idx := -1
	for i, q := range m.queue {
		if q.id == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue[:idx], m.queue[idx+1:]...)

	taskCtx, cancel := context.WithCancel(m.ctx)
	handle := &taskHandle{cancel: cancel, done: make(chan struct{})}
	m.running[taskID] = handle
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.running, taskID)
			m.mu.Unlock()
			close(handle.done)
			<-m.sem
			m.signalWake()
		}()
		m.execute(taskCtx, taskID)
	}()
	return true
}

// execute runs one attempt of a task and applies the outcome: completion,
// cancellation, retry with backoff, or terminal failure. A task's failure
// is confined to that task.
func (m *manager) execute(taskCtx context.Context, taskID int64) {
	logger := m.cfg.Logger.WithField("task_id", taskID)

	task, err := m.tasks.GetTask(context.Background(), taskID)
	if err != nil {
		logger.Errorf("load task: %v", err)
		return
	}

	attempts := task.Attempts + 1
	if err := m.tasks.MarkRunning(context.Background(), taskID, attempts); err != nil {
		logger.Errorf("mark running: %v", err)
		return
	}
	task.Status = domain.TaskStatusRunning
	task.Attempts = attempts
	task.ErrorMessage = ""
	m.reporter.TaskChanged(task)
	logger.Infof("attempt %d started: %s", attempts, task.URL)

	w := &worker{
		cfg:      m.cfg,
		tasks:    m.tasks,
		resolver: m.resolver,
		fetcher:  m.fetcher,
		proc:     m.proc,
		tagger:   m.tagger,
		reporter: m.reporter,
		logger:   logger,
	}
	outputPath, warning, runErr := w.run(taskCtx, task)

	switch {
	case runErr == nil:
		task.OutputPath = outputPath
		task.Warning = warning
		if warning != "" {
			if err := m.tasks.SetWarning(context.Background(), taskID, warning); err != nil {
				logger.Warnf("persist warning: %v", err)
			}
		}
		if err := m.tasks.MarkCompleted(context.Background(), taskID, outputPath); err != nil {
			logger.Errorf("mark completed: %v", err)
		}
		task.Status = domain.TaskStatusCompleted
		m.reporter.TaskChanged(task)
		if err := m.tasks.RecordHistory(context.Background(), task); err != nil {
			logger.Warnf("record history: %v", err)
		}
		logger.Infof("completed: %s", outputPath)

	case taskCtx.Err() != nil || errors.Is(runErr, context.Canceled):
		if m.ctx.Err() != nil {
			// shutdown, not a user cancel: the persisted running state
			// lets Resume pick the task up on the next start
			logger.Info("attempt interrupted by shutdown")
			return
		}
		m.cleanupStaging(task)
		if err := m.tasks.UpdateStatus(context.Background(), taskID, domain.TaskStatusCancelled, nil); err != nil {
			logger.Errorf("mark cancelled: %v", err)
		}
		task.Status = domain.TaskStatusCancelled
		m.reporter.TaskChanged(task)
		logger.Info("task cancelled")

	default:
		m.handleFailure(task, attempts, runErr, logger)
	}
}

func (m *manager) handleFailure(task *domain.Task, attempts int, runErr error, logger *logrus.Entry) {
	msg := failureMessage(runErr)
	task.ErrorMessage = msg

	retry, delay := m.retry.Decide(attempts, runErr)
	if !retry {
		m.cleanupStaging(task)
		if err := m.tasks.UpdateStatus(context.Background(), task.ID, domain.TaskStatusFailed, &msg); err != nil {
			logger.Errorf("persist failure: %v", err)
		}
		task.Status = domain.TaskStatusFailed
		m.reporter.TaskChanged(task)
		logger.Errorf("failed permanently after %d attempt(s): %s", attempts, msg)
		return
	}

	// Staging is kept so partial files survive for the next attempt.
	nextAt := time.Now().Add(delay)
	if err := m.tasks.MarkRetrying(context.Background(), task.ID, nextAt, msg); err != nil {
		logger.Errorf("persist retry state: %v", err)
	}
	task.Status = domain.TaskStatusRetrying
	task.NextRetryAt = &nextAt
	m.reporter.TaskChanged(task)

	m.mu.Lock()
	m.queue = append(m.queue, &queuedTask{id: task.ID, notBefore: nextAt})
	m.mu.Unlock()
	m.signalWake()

	logger.Warnf("attempt %d failed, retrying in %s: %s", attempts, delay, msg)
}

func (m *manager) cleanupStaging(task *domain.Task) {
	if task.StagingDir == "" {
		return
	}
	if err := os.RemoveAll(task.StagingDir); err != nil && !os.IsNotExist(err) {
		m.cfg.Logger.WithField("task_id", task.ID).Warnf("cleanup staging dir: %v", err)
	}
}

func (m *manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// failureMessage builds the user-facing error text, including the
// remediation hint carried by the error class when present.
func failureMessage(err error) string {
	msg := err.Error()
	var te *domain.TaskError
	if errors.As(err, &te) {
		if te.Err != nil {
			msg = media.FriendlyMessage(te.Err.Error())
		}
		if te.Hint != "" {
			msg = fmt.Sprintf("%s (%s)", msg, te.Hint)
		}
	}
	return msg
}

var _ Manager = (*manager)(nil)
