package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/networth/internal/events"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler fires registered tasks on their triggers and runs manual
// executions, allowing at most one concurrent execution per task id.
type Scheduler struct {
	cron       *cron.Cron
	registry   *Registry
	executions *ExecutionTracker
	bus        Publisher
	log        zerolog.Logger

	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
	started bool
	mu      sync.Mutex
}

// New creates a new scheduler. bus may be nil.
func New(registry *Registry, bus Publisher, log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(cron.WithParser(cronParser)),
		registry:   registry,
		executions: NewExecutionTracker(DefaultHistoryLimit),
		bus:        bus,
		log:        log.With().Str("component", "scheduler").Logger(),
		entries:    make(map[string]cron.EntryID),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start schedules every definition with a trigger and starts the cron loop.
// Scheduled runs use a context derived from parent.
func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerClosed
	}
	if s.started {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(parent)

	for _, def := range s.registry.All() {
		if err := s.scheduleLocked(def); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.started = true
	s.log.Info().Int("tasks", len(s.entries)).Msg("Scheduler started")
	return nil
}

// scheduleLocked replaces the cron entry for def. Caller holds s.mu.
func (s *Scheduler) scheduleLocked(def Definition) error {
	sched, err := def.Trigger.Schedule()
	if err != nil {
		return fmt.Errorf("task %s: %w", def.TaskID, err)
	}

	taskID := def.TaskID
	if id, ok := s.entries[taskID]; ok {
		s.cron.Remove(id)
		delete(s.entries, taskID)
	}
	if sched == nil {
		return nil
	}

	s.entries[taskID] = s.cron.Schedule(sched, cron.FuncJob(func() {
		s.fire(taskID)
	}))

	s.log.Info().
		Str("task", taskID).
		Str("trigger", def.Trigger.String()).
		Msg("Task scheduled")
	return nil
}

// fire is the cron callback.
func (s *Scheduler) fire(taskID string) {
	s.log.Debug().Str("task", taskID).Msg("Trigger fired")

	def, ok := s.registry.Get(taskID)
	if !ok {
		s.log.Error().Str("task", taskID).Msg("Scheduled task no longer registered")
		return
	}

	// overlap is logged by execute
	_, _, _ = s.execute(s.ctx, def, def.Config, SourceSchedule, false)
}

// Stop stops firing triggers, cancels the scheduled-run context and waits for
// in-flight executions to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.log.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.log.Warn().Int("in_flight", s.executions.OpenCount()).Msg("Scheduler stop timed out")
		return ctx.Err()
	}
}

// RunNow executes a task immediately and waits for its result. Non-empty cfg
// is merged over the definition's config and checked by ValidateConfig when
// the task implements it.
func (s *Scheduler) RunNow(ctx context.Context, taskID string, cfg Config) (ExecutionRecord, *Result, error) {
	def, ok := s.registry.Get(taskID)
	if !ok {
		return ExecutionRecord{}, nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	s.log.Info().
		Str("task", taskID).
		Strs("config_keys", sortedKeys(cfg)).
		Msg("Running task immediately")

	return s.execute(ctx, def, def.Config.Merge(cfg), SourceManual, len(cfg) > 0)
}

// execute runs one execution of def under the no-overlap rule.
func (s *Scheduler) execute(ctx context.Context, def Definition, cfg Config, source string, validate bool) (ExecutionRecord, *Result, error) {
	task := def.Factory()

	if validate {
		if v, ok := task.(ConfigValidator); ok {
			if err := v.ValidateConfig(cfg); err != nil {
				return ExecutionRecord{}, nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, def.TaskID, err)
			}
		}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ExecutionRecord{}, nil, ErrSchedulerClosed
	}
	rec, ok := s.executions.BeginInGroup(def.TaskID, def.Group, source)
	if ok {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if !ok {
		skipped := s.executions.Skip(def.TaskID, source)
		s.log.Warn().
			Str("task", def.TaskID).
			Str("source", source).
			Str("running_task", rec.TaskID).
			Str("running_execution", rec.ID).
			Time("running_since", rec.StartedAt).
			Msg("Task still running, skipping firing")
		s.publish(ctx, skipped)
		return skipped, nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, def.TaskID)
	}
	defer s.wg.Done()

	tc := NewContext(def.TaskID, rec.ID, cfg, s.bus, s.log)
	tc.Log.Info().Str("source", source).Msg("Task started")

	result := Invoke(ctx, task, tc)
	finished := s.executions.Finish(def.TaskID, result)

	if result.Success {
		tc.Log.Info().Dur("duration", finished.Duration()).Msg("Task completed")
	} else {
		tc.Log.Error().
			Str("error", result.Error).
			Dur("duration", finished.Duration()).
			Msg("Task failed")
	}

	s.publish(ctx, finished)
	return finished, result, nil
}

func (s *Scheduler) publish(ctx context.Context, rec ExecutionRecord) {
	if s.bus == nil {
		return
	}
	data := &events.TaskOutcomeData{
		TaskID:      rec.TaskID,
		ExecutionID: rec.ID,
		Outcome:     string(rec.Outcome),
		Error:       rec.Error,
		Duration:    rec.Duration(),
	}
	s.bus.Publish(ctx, data.EventType(), "scheduler", data)
}

// Reconfigure replaces a task's trigger and config and reschedules it.
// A nil cfg keeps the current config. Before Start only the registry is
// updated; Start schedules the new trigger.
func (s *Scheduler) Reconfigure(taskID string, trigger Trigger, cfg Config) error {
	if cfg != nil {
		def, ok := s.registry.Get(taskID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
		}
		if v, ok := def.Factory().(ConfigValidator); ok {
			if err := v.ValidateConfig(cfg); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, taskID, err)
			}
		}
	}

	def, err := s.registry.update(taskID, trigger, cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		if err := s.scheduleLocked(def); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("task", taskID).
		Str("trigger", trigger.String()).
		Msg("Task reconfigured")
	return nil
}

// TaskStatus is a definition with its runtime state.
type TaskStatus struct {
	Definition
	NextRun       *time.Time       `json:"next_run,omitempty"`
	Running       *ExecutionRecord `json:"running,omitempty"`
	LastExecution *ExecutionRecord `json:"last_execution,omitempty"`
}

// Definitions lists every task with its next fire time and execution state.
func (s *Scheduler) Definitions() []TaskStatus {
	s.mu.Lock()
	entries := make(map[string]cron.EntryID, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v
	}
	s.mu.Unlock()

	defs := s.registry.All()
	out := make([]TaskStatus, 0, len(defs))
	for _, def := range defs {
		status := TaskStatus{Definition: def}
		if id, ok := entries[def.TaskID]; ok {
			if next := s.cron.Entry(id).Next; !next.IsZero() {
				status.NextRun = &next
			}
		}
		if rec, ok := s.executions.Running(def.TaskID); ok {
			status.Running = &rec
		}
		if rec, ok := s.executions.Last(def.TaskID); ok {
			status.LastExecution = &rec
		}
		out = append(out, status)
	}
	return out
}

// Executions returns up to limit finished execution records, newest first.
func (s *Scheduler) Executions(limit int) []ExecutionRecord {
	return s.executions.Recent(limit)
}

// IsRunning reports whether taskID has an open execution.
func (s *Scheduler) IsRunning(taskID string) bool {
	_, ok := s.executions.Running(taskID)
	return ok
}
