package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/aristath/networth/internal/database"
	"github.com/aristath/networth/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers reports process, host and database state
type SystemHandlers struct {
	databases []*database.DB
	scheduler *scheduler.Scheduler
	startedAt time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(databases []*database.DB, s *scheduler.Scheduler, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		databases: databases,
		scheduler: s,
		startedAt: time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Goroutines    int               `json:"goroutines"`
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryPercent float64           `json:"memory_percent"`
	RunningTasks  []string          `json:"running_tasks"`
	Databases     []*database.Stats `json:"databases"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		RunningTasks:  []string{},
		Databases:     make([]*database.Stats, 0, len(h.databases)),
	}

	if h.scheduler != nil {
		for _, status := range h.scheduler.Definitions() {
			if status.Running != nil {
				response.RunningTasks = append(response.RunningTasks, status.TaskID)
			}
		}
	}

	for _, db := range h.databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			response.Status = "degraded"
		}
		stats, err := db.GetStats(r.Context())
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			response.Status = "degraded"
			continue
		}
		response.Databases = append(response.Databases, stats)
	}

	writeData(w, h.log, http.StatusOK, response)
}

// getSystemStats returns CPU and memory utilisation, zero when unavailable
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	var cpuPercent, memPercent float64

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	} else if err != nil {
		h.log.Debug().Err(err).Msg("Failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	} else {
		h.log.Debug().Err(err).Msg("Failed to read memory usage")
	}

	return cpuPercent, memPercent
}
