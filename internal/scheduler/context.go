package scheduler

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/networth/internal/events"
	"github.com/rs/zerolog"
)

// Publisher is the part of the event bus a task can see.
type Publisher interface {
	Publish(ctx context.Context, eventType events.EventType, source string, data any) events.Event
}

// runState is shared by a context and the child contexts derived from it.
type runState struct {
	mu      sync.Mutex
	vars    map[string]any
	emitted []string
}

// Context is the per-execution state handed to a task.
type Context struct {
	TaskID      string
	ExecutionID string
	Config      Config
	Log         zerolog.Logger

	bus   Publisher
	state *runState
}

// NewContext creates a context for one execution of taskID.
// bus may be nil, in which case Emit only records the event name.
func NewContext(taskID, executionID string, cfg Config, bus Publisher, log zerolog.Logger) *Context {
	if cfg == nil {
		cfg = Config{}
	}
	return &Context{
		TaskID:      taskID,
		ExecutionID: executionID,
		Config:      cfg,
		Log: log.With().
			Str("task", taskID).
			Str("execution_id", executionID).
			Logger(),
		bus:   bus,
		state: &runState{vars: make(map[string]any)},
	}
}

// Child derives a context for a sub-task run inside the same execution.
// It shares the variable bag, the bus and the emitted event list.
func (tc *Context) Child(taskID string, cfg Config) *Context {
	if cfg == nil {
		cfg = Config{}
	}
	return &Context{
		TaskID:      taskID,
		ExecutionID: tc.ExecutionID,
		Config:      cfg,
		Log:         tc.Log.With().Str("subtask", taskID).Logger(),
		bus:         tc.bus,
		state:       tc.state,
	}
}

// Set stores a run-scoped variable.
func (tc *Context) Set(key string, value any) {
	tc.state.mu.Lock()
	defer tc.state.mu.Unlock()
	tc.state.vars[key] = value
}

// Get returns a run-scoped variable.
func (tc *Context) Get(key string) (any, bool) {
	tc.state.mu.Lock()
	defer tc.state.mu.Unlock()
	v, ok := tc.state.vars[key]
	return v, ok
}

// Emit publishes an event on the bus and records its name on the result.
func (tc *Context) Emit(ctx context.Context, eventType events.EventType, data any) {
	tc.state.mu.Lock()
	tc.state.emitted = append(tc.state.emitted, string(eventType))
	tc.state.mu.Unlock()

	if tc.bus != nil {
		tc.bus.Publish(ctx, eventType, tc.TaskID, data)
	}
}

// Emitted returns the event names emitted so far in this execution.
func (tc *Context) Emitted() []string {
	tc.state.mu.Lock()
	defer tc.state.mu.Unlock()
	if len(tc.state.emitted) == 0 {
		return nil
	}
	out := make([]string, len(tc.state.emitted))
	copy(out, tc.state.emitted)
	return out
}

// ConfigValue returns the config value for key as T, or def when the key is
// missing or holds another type.
func ConfigValue[T any](tc *Context, key string, def T) T {
	raw, ok := tc.Config[key]
	if !ok || raw == nil {
		return def
	}
	v, ok := raw.(T)
	if !ok {
		tc.Log.Warn().
			Str("key", key).
			Interface("value", raw).
			Msg("Config value has unexpected type, using default")
		return def
	}
	return v
}

// String returns a string config value.
func (tc *Context) String(key, def string) string {
	return ConfigValue(tc, key, def)
}

// Bool returns a boolean config value. "true"/"false" strings are accepted.
func (tc *Context) Bool(key string, def bool) bool {
	switch v := tc.Config[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Int returns an integer config value. JSON numbers and numeric strings are accepted.
func (tc *Context) Int(key string, def int) int {
	switch v := tc.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Duration returns a duration config value. Strings use time.ParseDuration
// syntax; bare numbers are seconds.
func (tc *Context) Duration(key string, def time.Duration) time.Duration {
	switch v := tc.Config[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Strings returns a string list config value. Comma separated strings are split.
func (tc *Context) Strings(key string, def []string) []string {
	switch v := tc.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return def
			}
			out = append(out, s)
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
