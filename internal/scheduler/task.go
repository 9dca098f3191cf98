// Package scheduler holds the task contract, the static task registry and the
// cron-driven scheduler that runs tasks without overlap.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Config is the key/value configuration a task runs with.
type Config map[string]any

// Merge returns a copy of c with overrides applied on top.
func (c Config) Merge(overrides Config) Config {
	out := make(Config, len(c)+len(overrides))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Task is a unit of scheduled work.
type Task interface {
	Execute(ctx context.Context, tc *Context) (*Result, error)
}

// ConfigValidator is implemented by tasks that check ad-hoc configuration
// before a run with non-default config is allowed to start.
type ConfigValidator interface {
	ValidateConfig(cfg Config) error
}

// Result is the outcome of one task execution.
type Result struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	EmittedEvents []string       `json:"emitted_events,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(data map[string]any) *Result {
	return &Result{Success: true, Data: data}
}

// Failed builds a failed result carrying msg.
func Failed(msg string, data map[string]any) *Result {
	return &Result{Success: false, Error: msg, Data: data}
}

// Invoke runs a task and converts any returned error or panic into a failed
// Result. It never panics and never returns nil.
func Invoke(ctx context.Context, task Task, tc *Context) (result *Result) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			tc.Log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Task panicked")
			result = Failed(fmt.Sprintf("task panicked: %v", r), nil)
		}
		result.EmittedEvents = tc.Emitted()
		tc.Log.Debug().
			Bool("success", result.Success).
			Dur("duration", time.Since(start)).
			Msg("Task returned")
	}()

	res, err := task.Execute(ctx, tc)
	if err != nil {
		var data map[string]any
		if res != nil {
			data = res.Data
		}
		return Failed(err.Error(), data)
	}
	if res == nil {
		return Succeeded(nil)
	}
	return res
}
