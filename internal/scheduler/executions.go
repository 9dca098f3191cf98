package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit is the number of finished execution records kept.
const DefaultHistoryLimit = 200

// Outcome of an execution record
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Trigger sources recorded on an execution
const (
	SourceSchedule = "schedule"
	SourceManual   = "manual"
)

// ExecutionRecord tracks one execution (or skipped firing) of a task.
type ExecutionRecord struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    Outcome    `json:"outcome"`
	Error      string     `json:"error,omitempty"`
}

// Open reports whether the execution has not finished yet.
func (r ExecutionRecord) Open() bool {
	return r.FinishedAt == nil
}

// Duration returns the run time of a finished record.
func (r ExecutionRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExecutionTracker holds open execution records and a bounded history of
// finished ones. At most one record per task id, and per exclusive group, is
// open at any time.
type ExecutionTracker struct {
	open    map[string]*ExecutionRecord
	groups  map[string]string // group -> task id holding it
	history []ExecutionRecord // oldest first
	limit   int
	now     func() time.Time
	mu      sync.Mutex
}

// NewExecutionTracker creates a tracker keeping up to limit finished records.
func NewExecutionTracker(limit int) *ExecutionTracker {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &ExecutionTracker{
		open:   make(map[string]*ExecutionRecord),
		groups: make(map[string]string),
		limit:  limit,
		now:   time.Now,
	}
}

// Begin opens a record for taskID. It returns false, and the open record,
// when an execution of the same task is still running.
func (t *ExecutionTracker) Begin(taskID, source string) (ExecutionRecord, bool) {
	return t.BeginInGroup(taskID, "", source)
}

// BeginInGroup is Begin for a task that shares an exclusive group with other
// tasks. It also returns false, and the blocking record, while any task of
// group is running. An empty group behaves like Begin.
func (t *ExecutionTracker) BeginInGroup(taskID, group, source string) (ExecutionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, running := t.open[taskID]; running {
		return *rec, false
	}
	if group != "" {
		if holder, held := t.groups[group]; held {
			return *t.open[holder], false
		}
	}

	rec := &ExecutionRecord{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Source:    source,
		StartedAt: t.now(),
		Outcome:   OutcomeRunning,
	}
	t.open[taskID] = rec
	if group != "" {
		t.groups[group] = taskID
	}
	return *rec, true
}

// Finish closes the open record for taskID with the outcome of result.
func (t *ExecutionTracker) Finish(taskID string, result *Result) ExecutionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.open[taskID]
	if !ok {
		return ExecutionRecord{}
	}
	delete(t.open, taskID)
	for group, holder := range t.groups {
		if holder == taskID {
			delete(t.groups, group)
		}
	}

	finished := t.now()
	rec.FinishedAt = &finished
	if result != nil && result.Success {
		rec.Outcome = OutcomeSucceeded
	} else {
		rec.Outcome = OutcomeFailed
		if result != nil {
			rec.Error = result.Error
		}
	}
	t.append(*rec)
	return *rec
}

// Skip records a firing that was dropped because the task, or another task
// of its group, was running.
func (t *ExecutionTracker) Skip(taskID, source string) ExecutionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec := ExecutionRecord{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		Source:     source,
		StartedAt:  now,
		FinishedAt: &now,
		Outcome:    OutcomeSkipped,
		Error:      ErrAlreadyRunning.Error(),
	}
	t.append(rec)
	return rec
}

func (t *ExecutionTracker) append(rec ExecutionRecord) {
	t.history = append(t.history, rec)
	if over := len(t.history) - t.limit; over > 0 {
		t.history = append(t.history[:0:0], t.history[over:]...)
	}
}

// Running returns the open record for taskID, if any.
func (t *ExecutionTracker) Running(taskID string) (ExecutionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.open[taskID]
	if !ok {
		return ExecutionRecord{}, false
	}
	return *rec, true
}

// OpenCount returns the number of open records.
func (t *ExecutionTracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// Recent returns up to limit finished records, newest first.
func (t *ExecutionTracker) Recent(limit int) []ExecutionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}
	out := make([]ExecutionRecord, 0, limit)
	for i := len(t.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t.history[i])
	}
	return out
}

// Last returns the most recent finished record of taskID.
func (t *ExecutionTracker) Last(taskID string) (ExecutionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].TaskID == taskID {
			return t.history[i], true
		}
	}
	return ExecutionRecord{}, false
}
