package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sentinel errors returned by the registry and scheduler
var (
	ErrUnknownTask     = errors.New("unknown task")
	ErrAlreadyRunning  = errors.New("task already running")
	ErrInvalidConfig   = errors.New("invalid task config")
	ErrInvalidTrigger  = errors.New("invalid trigger")
	ErrSchedulerClosed = errors.New("scheduler stopped")
)

// TriggerKind selects how a task is fired
type TriggerKind string

const (
	TriggerNone     TriggerKind = ""
	TriggerInterval TriggerKind = "interval"
	TriggerCron     TriggerKind = "cron"
)

// cronParser accepts 5-field expressions, an optional leading seconds field
// and descriptors such as @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Trigger describes when a task fires.
type Trigger struct {
	Kind  TriggerKind   `json:"kind"`
	Every time.Duration `json:"every,omitempty"`
	Cron  string        `json:"cron,omitempty"`
}

// Every returns an interval trigger.
func Every(d time.Duration) Trigger {
	return Trigger{Kind: TriggerInterval, Every: d}
}

// CronTrigger returns a cron trigger.
func CronTrigger(expr string) Trigger {
	return Trigger{Kind: TriggerCron, Cron: expr}
}

// Manual returns a trigger that never fires on its own.
func Manual() Trigger {
	return Trigger{Kind: TriggerNone}
}

// Schedule converts the trigger into a cron schedule.
// Manual triggers return a nil schedule.
func (t Trigger) Schedule() (cron.Schedule, error) {
	switch t.Kind {
	case TriggerNone:
		return nil, nil
	case TriggerInterval:
		if t.Every < time.Second {
			return nil, fmt.Errorf("%w: interval must be at least 1s, got %s", ErrInvalidTrigger, t.Every)
		}
		return cron.Every(t.Every), nil
	case TriggerCron:
		sched, err := cronParser.Parse(t.Cron)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTrigger, t.Cron, err)
		}
		return sched, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidTrigger, t.Kind)
	}
}

func (t Trigger) String() string {
	switch t.Kind {
	case TriggerInterval:
		return "every " + t.Every.String()
	case TriggerCron:
		return "cron " + t.Cron
	default:
		return "manual"
	}
}

// Factory builds a fresh task instance for one execution.
type Factory func() Task

// Definition is one entry of the static task table.
type Definition struct {
	TaskID      string  `json:"task_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Trigger     Trigger `json:"trigger"`
	Config      Config  `json:"config,omitempty"`
	Group       string  `json:"group,omitempty"` // at most one task of a group runs at a time
	Factory     Factory `json:"-"`
}

// Registry holds the task definitions, keyed by task id.
type Registry struct {
	defs  map[string]*Definition
	order []string // registration order
	mu    sync.RWMutex
}

// NewRegistry builds a registry from a static table.
func NewRegistry(table []Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(table))}
	for _, def := range table {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition. Duplicate ids are rejected.
func (r *Registry) Register(def Definition) error {
	if def.TaskID == "" {
		return fmt.Errorf("task definition has no id")
	}
	if def.Factory == nil {
		return fmt.Errorf("task %s has no factory", def.TaskID)
	}
	if _, err := def.Trigger.Schedule(); err != nil {
		return fmt.Errorf("task %s: %w", def.TaskID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.TaskID]; exists {
		return fmt.Errorf("task %s registered twice", def.TaskID)
	}
	if def.Config == nil {
		def.Config = Config{}
	}
	r.defs[def.TaskID] = &def
	r.order = append(r.order, def.TaskID)
	return nil
}

// Get returns a copy of a definition.
func (r *Registry) Get(taskID string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[taskID]
	if !ok {
		return Definition{}, false
	}
	return *def, true
}

// Has returns true if taskID is registered.
func (r *Registry) Has(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[taskID]
	return ok
}

// IDs returns the task ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns copies of every definition in registration order.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.defs[id])
	}
	return out
}

// update replaces the trigger and config of a definition.
func (r *Registry) update(taskID string, trigger Trigger, cfg Config) (Definition, error) {
	if _, err := trigger.Schedule(); err != nil {
		return Definition{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs[taskID]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	def.Trigger = trigger
	if cfg != nil {
		def.Config = cfg
	}
	return *def, nil
}

// sortedKeys is used for deterministic log output.
func sortedKeys(cfg Config) []string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
