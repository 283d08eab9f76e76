package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/ports"
	"aimx.console/internal/core/services"
)

type Server struct {
	router      *chi.Mux
	httpServer  *http.Server
	workloadSvc *services.WorkloadService
	healthSvc   *services.HealthService
}

func NewServer(workloadSvc *services.WorkloadService, healthSvc *services.HealthService) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		workloadSvc: workloadSvc,
		healthSvc:   healthSvc,
	}
	s.httpServer = &http.Server{Handler: s.router}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(RequestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		MetricsHandler().ServeHTTP(w, r)
	})

	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/health/detailed", s.handleDetailedHealth)

	s.router.Route("/api/workloads", func(r chi.Router) {
		r.Post("/", s.handleCreateWorkload)
		r.Get("/", s.handleListWorkloads)
		r.Get("/{id}", s.handleGetWorkload)
		r.Delete("/{id}", s.handleDeleteWorkload)
		r.Post("/{id}/stop", s.handleStopWorkload)
		r.Post("/{id}/complete", s.handleCompleteWorkload)
		r.Post("/{id}/logs", s.handleIngestLogs)
		r.Get("/{id}/logs", s.handleRecentLogs)
		r.Get("/{id}/logs/stream", s.handleStreamLogsSSE)
		r.Get("/{id}/logs/ws", s.handleStreamLogsWS)
	})
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(addr string) error {
	s.httpServer.Addr = addr
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func errStatus(err error) int {
	if errors.Is(err, ports.ErrWorkloadNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	report := s.healthSvc.CheckHealth(r.Context())

	code := http.StatusOK
	if report.Status == services.HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

type CreateWorkloadRequest struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Image     string `json:"image"`
	ProjectID string `json:"project_id"`
}

func (s *Server) handleCreateWorkload(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Kind == "" {
		req.Kind = "inference"
	}

	workload, err := s.workloadSvc.CreateWorkload(r.Context(), req.Name, req.Kind, req.Image, req.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, workload)
}

func (s *Server) handleListWorkloads(w http.ResponseWriter, r *http.Request) {
	offset, limit := 0, 20
	if o := r.URL.Query().Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil && val >= 0 {
			offset = val
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	result, err := s.workloadSvc.ListWorkloads(r.Context(), r.URL.Query().Get("project_id"), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetWorkload(w http.ResponseWriter, r *http.Request) {
	workload, err := s.workloadSvc.GetWorkload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, workload)
}

func (s *Server) handleDeleteWorkload(w http.ResponseWriter, r *http.Request) {
	if err := s.workloadSvc.DeleteWorkload(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopWorkload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.workloadSvc.StopWorkload(r.Context(), id); err != nil {
		if errors.Is(err, ports.ErrWorkloadNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "workload_id": id})
}

type CompleteWorkloadRequest struct {
	Status domain.WorkloadStatus `json:"status"`
}

func (s *Server) handleCompleteWorkload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CompleteWorkloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.workloadSvc.CompleteWorkload(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, ports.ErrWorkloadNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(req.Status), "workload_id": id})
}

type IngestLogsRequest struct {
	Entries []domain.LogEntry `json:"entries"`
}

func (s *Server) handleIngestLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req IngestLogsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "entries is required")
		return
	}

	if err := s.workloadSvc.IngestLogs(r.Context(), id, req.Entries); err != nil {
		if errors.Is(err, ports.ErrWorkloadNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recordEntriesIngested(len(req.Entries))
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Entries)})
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}

	entries, err := s.workloadSvc.RecentLogs(r.Context(), id, limit)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
