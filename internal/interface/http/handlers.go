package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/antbot/course-bot/internal/infrastructure/scheduler"
	"github.com/antbot/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"service": "course-bot",
		"version": s.config.Version,
		"endpoints": []string{
			"GET /healthz", "GET /readyz", "GET /stats", "GET /jobs", "GET /jobs/history",
		},
	})
}

// handleHealth is the liveness probe: the process answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
		"uptime":  s.deps.Health.Uptime().Round(time.Second).String(),
	})
}

// handleReady runs the dependency checks.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Stats())
}

// ══════════════════════════════════════════════════════════════════════════════
// JOBS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Jobs.ListJobs())
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, r, http.StatusOK, s.deps.Jobs.GetHistory(limit))
}

// handleRunJob triggers a job outside its schedule.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	result, err := s.deps.Jobs.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, r, http.StatusNotFound, "job_not_found", err.Error())
	case errors.Is(err, scheduler.ErrJobBusy):
		writeJSONError(w, r, http.StatusConflict, "job_busy", err.Error())
	case err != nil && result == nil:
		s.logger.Error("manual job run failed", "job", name, logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "job_failed", err.Error())
	case err != nil:
		s.logger.Warn("manual job run failed", "job", name, logger.Err(err))
		writeJSON(w, r, http.StatusInternalServerError, result)
	default:
		s.logger.Info("manual job run", "job", name, "duration", result.Duration)
		writeJSON(w, r, http.StatusOK, result)
	}
}
