package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/avramides/folio/internal/database"
	"github.com/avramides/folio/internal/reliability"
	"github.com/avramides/folio/internal/scheduler"
)

// SystemHandlers serves health, status and operational endpoints.
type SystemHandlers struct {
	log       zerolog.Logger
	databases []*database.DB
	backups   *reliability.BackupService
	history   *scheduler.HistoryRepository
	startTime time.Time
}

// NewSystemHandlers creates the system handlers
func NewSystemHandlers(databases []*database.DB, backups *reliability.BackupService, history *scheduler.HistoryRepository, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		databases: databases,
		backups:   backups,
		history:   history,
		startTime: time.Now(),
	}
}

// HandleHealth handles GET /health
// Pings every database and runs an integrity check; any failure degrades
// the overall status to 503.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	databases := map[string]string{}
	for _, db := range h.databases {
		if err := db.HealthCheck(ctx); err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			databases[db.Name()] = err.Error()
			status = "degraded"
		} else {
			databases[db.Name()] = "ok"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"databases": databases,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.systemStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPercent,
		"memory_percent": memPercent,
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// HandleJobHistory handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := h.history.Recent(0)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load job history")
		http.Error(w, "Failed to load job history", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []scheduler.Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// HandleTriggerBackup handles POST /api/system/backup
func (h *SystemHandlers) HandleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		http.Error(w, "Backups are not configured", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	location, err := h.backups.Backup(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Manual backup failed")
		http.Error(w, "Backup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"location": location,
	})
}

// HandleListBackups handles GET /api/system/backups
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		http.Error(w, "Backups are not configured", http.StatusServiceUnavailable)
		return
	}

	backups, err := h.backups.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		http.Error(w, "Failed to list backups", http.StatusInternalServerError)
		return
	}
	if backups == nil {
		backups = []reliability.BackupInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"backups": backups,
		"count":   len(backups),
	})
}

// systemStats reads CPU and RAM usage. The 100ms sample keeps the status
// endpoint responsive.
func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuAvg := 0.0
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuAvg, 0
	}

	return cpuAvg, memStat.UsedPercent
}
