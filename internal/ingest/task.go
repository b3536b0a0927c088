package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/materium/paperbase/internal/log"
)

// Status is the lifecycle state of an ingestion task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is a point-in-time snapshot of one ingestion batch, safe to hand to
// callers. Polling is side-effect-free.
type Task struct {
	ID        uuid.UUID    `json:"task_id"`
	Status    Status       `json:"status"`
	Progress  int          `json:"progress_percent"` // [0,100], monotonic while running
	Message   string       `json:"message"`
	Result    *BatchResult `json:"result,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type taskState struct {
	task            Task
	cancelRequested bool
}

const gcInterval = time.Minute

// Tracker is the in-memory map from task id to ingestion state. Terminal
// tasks are kept for the configured TTL so clients can collect the result,
// then garbage-collected.
type Tracker struct {
	mu     sync.RWMutex
	tasks  map[uuid.UUID]*taskState
	ttl    time.Duration
	done   chan struct{}
	logger log.Logger
}

// NewTracker starts a tracker with the given retention for terminal tasks.
// Call Close to stop the background sweeper.
func NewTracker(ttl time.Duration, logger log.Logger) *Tracker {
	if logger == nil {
		logger = log.NewNop()
	}
	t := &Tracker{
		tasks:  make(map[uuid.UUID]*taskState),
		ttl:    ttl,
		done:   make(chan struct{}),
		logger: logger,
	}
	go t.sweep()
	return t
}

// Close stops the sweeper goroutine.
func (t *Tracker) Close() {
	close(t.done)
}

// Create registers a new pending task and returns its id.
func (t *Tracker) Create() uuid.UUID {
	id := uuid.New()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[id] = &taskState{task: Task{
		ID:        id,
		Status:    StatusPending,
		Message:   "queued",
		UpdatedAt: time.Now(),
	}}
	return id
}

// Get returns a snapshot of the task, or false if unknown or collected.
func (t *Tracker) Get(id uuid.UUID) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return state.task, true
}

// Cancel requests cancellation. The pipeline honors it at the next
// checkpoint between stages; cancelling a terminal task is a no-op.
func (t *Tracker) Cancel(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.tasks[id]
	if !ok || state.task.Status.Terminal() {
		return false
	}
	state.cancelRequested = true
	return true
}

// cancelRequested is polled by the pipeline at stage boundaries.
func (t *Tracker) cancelRequested(id uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.tasks[id]
	return ok && state.cancelRequested
}

// update applies fn to the task unless it is already terminal. Progress is
// clamped so successive polls never observe a decrease.
func (t *Tracker) update(id uuid.UUID, fn func(*Task)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.tasks[id]
	if !ok || state.task.Status.Terminal() {
		return
	}
	prev := state.task.Progress
	fn(&state.task)
	if state.task.Progress < prev {
		state.task.Progress = prev
	}
	if state.task.Progress > 100 {
		state.task.Progress = 100
	}
	state.task.UpdatedAt = time.Now()
}

func (t *Tracker) setRunning(id uuid.UUID, progress int, message string) {
	t.update(id, func(task *Task) {
		task.Status = StatusRunning
		task.Progress = progress
		task.Message = message
	})
}

func (t *Tracker) complete(id uuid.UUID, result *BatchResult) {
	t.update(id, func(task *Task) {
		task.Status = StatusCompleted
		task.Progress = 100
		task.Message = "ingestion complete"
		task.Result = result
	})
}

// fail records a terminal failure. message must be plain language, never a
// stack trace.
func (t *Tracker) fail(id uuid.UUID, message string) {
	t.update(id, func(task *Task) {
		task.Status = StatusFailed
		task.Message = message
	})
}

func (t *Tracker) cancelled(id uuid.UUID) {
	t.update(id, func(task *Task) {
		task.Status = StatusCancelled
		task.Message = "cancelled by request"
	})
}

// sweep drops terminal tasks older than the TTL.
func (t *Tracker) sweep() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-t.ttl)
			t.mu.Lock()
			for id, state := range t.tasks {
				if state.task.Status.Terminal() && state.task.UpdatedAt.Before(cutoff) {
					delete(t.tasks, id)
					t.logger.Debug("task collected", "task_id", id)
				}
			}
			t.mu.Unlock()
		}
	}
}
