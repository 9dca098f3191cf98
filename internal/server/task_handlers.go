package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/networth/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxRunBody bounds the JSON config of a manual run
const maxRunBody = 64 << 10

// TaskHandlers exposes the scheduler: definitions, history and manual runs
type TaskHandlers struct {
	scheduler *scheduler.Scheduler
	log       zerolog.Logger
}

// NewTaskHandlers creates task handlers
func NewTaskHandlers(s *scheduler.Scheduler, log zerolog.Logger) *TaskHandlers {
	return &TaskHandlers{
		scheduler: s,
		log:       log.With().Str("handler", "tasks").Logger(),
	}
}

// RunResponse is returned by a manual run
type RunResponse struct {
	Execution scheduler.ExecutionRecord `json:"execution"`
	Result    *scheduler.Result         `json:"result,omitempty"`
}

// HandleList handles GET /api/tasks
func (h *TaskHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.log, http.StatusOK, h.scheduler.Definitions())
}

// HandleExecutions handles GET /api/tasks/executions?limit=50
func (h *TaskHandlers) HandleExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, h.log, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeData(w, h.log, http.StatusOK, h.scheduler.Executions(limit))
}

// HandleRun handles POST /api/tasks/{id}/run with an optional JSON config body.
// The request waits for the run to finish; a failed run answers 200 with
// success=false in the result.
func (h *TaskHandlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	var cfg scheduler.Config
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRunBody))
	if err != nil {
		writeError(w, h.log, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &cfg); err != nil {
			writeError(w, h.log, http.StatusBadRequest, "config must be a JSON object")
			return
		}
	}

	rec, result, err := h.scheduler.RunNow(r.Context(), taskID, cfg)
	switch {
	case errors.Is(err, scheduler.ErrUnknownTask):
		writeError(w, h.log, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, scheduler.ErrInvalidConfig):
		writeError(w, h.log, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeData(w, h.log, http.StatusConflict, RunResponse{Execution: rec})
		return
	case errors.Is(err, scheduler.ErrSchedulerClosed):
		writeError(w, h.log, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.log.Error().Err(err).Str("task", taskID).Msg("Manual run failed")
		writeError(w, h.log, http.StatusInternalServerError, err.Error())
		return
	}

	writeData(w, h.log, http.StatusOK, RunResponse{Execution: rec, Result: result})
}

// ReconfigureRequest replaces a task's trigger. Exactly one of Every, Cron
// and Manual must be set. A non-nil Config replaces the task's config.
type ReconfigureRequest struct {
	Every  string           `json:"every,omitempty"`
	Cron   string           `json:"cron,omitempty"`
	Manual bool             `json:"manual,omitempty"`
	Config scheduler.Config `json:"config,omitempty"`
}

func (req ReconfigureRequest) trigger() (scheduler.Trigger, error) {
	set := 0
	for _, ok := range []bool{req.Every != "", req.Cron != "", req.Manual} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return scheduler.Trigger{}, errors.New("exactly one of every, cron or manual is required")
	}

	switch {
	case req.Every != "":
		d, err := time.ParseDuration(req.Every)
		if err != nil {
			return scheduler.Trigger{}, errors.New("every must be a duration such as 30m")
		}
		return scheduler.Every(d), nil
	case req.Cron != "":
		return scheduler.CronTrigger(req.Cron), nil
	default:
		return scheduler.Manual(), nil
	}
}

// HandleReconfigure handles PUT /api/tasks/{id}/trigger and answers with the
// task's updated status.
func (h *TaskHandlers) HandleReconfigure(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	var req ReconfigureRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRunBody)).Decode(&req); err != nil {
		writeError(w, h.log, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	trigger, err := req.trigger()
	if err != nil {
		writeError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}

	err = h.scheduler.Reconfigure(taskID, trigger, req.Config)
	switch {
	case errors.Is(err, scheduler.ErrUnknownTask):
		writeError(w, h.log, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, scheduler.ErrInvalidTrigger), errors.Is(err, scheduler.ErrInvalidConfig):
		writeError(w, h.log, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error().Err(err).Str("task", taskID).Msg("Reconfigure failed")
		writeError(w, h.log, http.StatusInternalServerError, err.Error())
		return
	}

	for _, status := range h.scheduler.Definitions() {
		if status.TaskID == taskID {
			writeData(w, h.log, http.StatusOK, status)
			return
		}
	}
	writeError(w, h.log, http.StatusNotFound, "task disappeared after reconfigure")
}
