package downloader

import (
	"sync"

	"clipsync/internal/domain"
	"clipsync/internal/media"
)

// TaskView is the read-only presentation of one task.
type TaskView struct {
	ID         int64             `json:"id"`
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Status     domain.TaskStatus `json:"status"`
	Percent    float64           `json:"percent"`
	Speed      int64             `json:"speed"`
	ETASeconds int               `json:"eta_seconds"`
	Attempts   int               `json:"attempts"`
	OutputPath string            `json:"output_path,omitempty"`
	Error      string            `json:"error,omitempty"`
	Warning    string            `json:"warning,omitempty"`
}

// QueueSnapshot aggregates the queue for presentation.
type QueueSnapshot struct {
	Tasks          []TaskView                `json:"tasks"`
	Counts         map[domain.TaskStatus]int `json:"counts"`
	OverallPercent float64                   `json:"overall_percent"`
}

// Reporter aggregates state-change and progress events into a read-only
// view. It never mutates task state; it is a pure observer. An optional
// subscriber callback receives every event for push-style consumers.
type Reporter struct {
	mu      sync.RWMutex
	tasks   map[int64]*TaskView
	order   []int64
	onEvent func(TaskView)
}

func NewReporter(onEvent func(TaskView)) *Reporter {
	return &Reporter{
		tasks:   make(map[int64]*TaskView),
		onEvent: onEvent,
	}
}

// TaskChanged records a state transition.
func (r *Reporter) TaskChanged(task *domain.Task) {
	r.mu.Lock()
	view, ok := r.tasks[task.ID]
	if !ok {
		view = &TaskView{ID: task.ID, ETASeconds: -1}
		r.tasks[task.ID] = view
		r.order = append(r.order, task.ID)
	}
	view.URL = task.URL
	view.Title = task.Title
	view.Status = task.Status
	view.Attempts = task.Attempts
	view.OutputPath = task.OutputPath
	view.Error = task.ErrorMessage
	view.Warning = task.Warning
	if task.Status == domain.TaskStatusCompleted {
		view.Percent = 100
		view.Speed = 0
		view.ETASeconds = 0
	}
	event := *view
	r.mu.Unlock()

	r.emit(event)
}

// Progress records a progress sample for a running task.
func (r *Reporter) Progress(id int64, p media.Progress) {
	r.mu.Lock()
	view, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	view.Percent = p.Percent
	view.Speed = p.Speed
	view.ETASeconds = p.ETASeconds
	event := *view
	r.mu.Unlock()

	r.emit(event)
}

// Remove drops a task from the view (explicit queue removal).
func (r *Reporter) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return
	}
	delete(r.tasks, id)
	for i, taskID := range r.order {
		if taskID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns the aggregated queue view in insertion order.
func (r *Reporter) Snapshot() QueueSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := QueueSnapshot{
		Tasks:  make([]TaskView, 0, len(r.order)),
		Counts: make(map[domain.TaskStatus]int),
	}
	var sum float64
	for _, id := range r.order {
		view := r.tasks[id]
		snap.Tasks = append(snap.Tasks, *view)
		snap.Counts[view.Status]++
		sum += view.Percent
	}
	if len(snap.Tasks) > 0 {
		snap.OverallPercent = sum / float64(len(snap.Tasks))
	}
	return snap
}

func (r *Reporter) emit(event TaskView) {
	if r.onEvent != nil {
		r.onEvent(event)
	}
}
