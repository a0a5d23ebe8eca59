package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"queuectl/internal/models"
	"queuectl/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PoolStatus reports whether a worker pool is running
type PoolStatus interface {
	Running() (int, bool, error)
}

// DashboardHandler serves a read-only JSON view of the queue
type DashboardHandler struct {
	jobService *service.JobService
	pool       PoolStatus
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(jobService *service.JobService, pool PoolStatus) *DashboardHandler {
	return &DashboardHandler{
		jobService: jobService,
		pool:       pool,
	}
}

// Routes builds the dashboard router
func (h *DashboardHandler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware)

	router.Get("/healthz", h.Health)
	router.Route("/api", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/jobs/{state}", h.ListJobs)
		r.Get("/job/{id}", h.GetJob)
	})

	return router
}

// corsMiddleware sets CORS headers for all responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

// Health handles GET /healthz
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// GetStatus handles GET /api/status
func (h *DashboardHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := h.jobService.StatusSummary(r.Context())
	if err != nil {
		log.Printf("error getting status: %v", err)
		http.Error(w, "failed to get status", http.StatusInternalServerError)
		return
	}

	status := make(map[string]int, len(summary)+1)
	for state, count := range summary {
		status[string(state)] = count
	}

	workers := 0
	if _, running, err := h.pool.Running(); err != nil {
		log.Printf("error reading worker pool status: %v", err)
	} else if running {
		workers = 1
	}
	status["WORKERS_RUNNING"] = workers

	writeJSON(w, status)
}

// ListJobs handles GET /api/jobs/{state}
func (h *DashboardHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	state, err := models.ParseState(chi.URLParam(r, "state"))
	if err != nil {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	jobs, err := h.jobService.ListJobsByState(r.Context(), state)
	if err != nil {
		log.Printf("error listing jobs: %v", err)
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	writeJSON(w, jobs)
}

// GetJob handles GET /api/job/{id}
func (h *DashboardHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobService.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		log.Printf("error getting job: %v", err)
		http.Error(w, "failed to retrieve job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, job)
}
