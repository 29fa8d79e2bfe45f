package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loopcoach/programsync/internal/models"
	"github.com/loopcoach/programsync/internal/sync"
)

// Server provides the HTTP API for programsync.
type Server struct {
	service *Service
	addr    string
	secret  string
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new HTTP server. An empty secret disables bearer
// auth on the scheduler endpoints, which is only sensible for local
// development.
func NewServer(service *Service, addr, secret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: service,
		addr:    addr,
		secret:  secret,
		logger:  logger,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Scheduler endpoints
	mux.HandleFunc("/sync/run", s.handleSyncRun)
	mux.HandleFunc("/sync/runs", s.handleSyncRuns)

	// Program endpoints
	mux.HandleFunc("/programs", s.handlePrograms)
	mux.HandleFunc("/programs/", s.handleProgramByID)

	// Enrollment endpoints
	mux.HandleFunc("/enrollments", s.handleEnrollments)
	mux.HandleFunc("/enrollments/", s.handleEnrollmentByID)

	// Cohort endpoints
	mux.HandleFunc("/cohorts/", s.handleCohortByID)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.logger.Info("starting programsync daemon", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authorized checks the bearer token on scheduler endpoints.
func (s *Server) authorized(r *http.Request) bool {
	if s.secret == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) == 1
}

// handleSyncRun handles POST /sync/run
func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}

	summary, err := s.service.RunReconciliation(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// handleSyncRuns handles GET /sync/runs
func (s *Server) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.service.RecentRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// handlePrograms handles POST /programs
func (s *Server) handlePrograms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	p, err := s.service.ImportProgram(r.Context(), r.URL.Query().Get("org_id"), body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidProgram) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

type saveWeekRequest struct {
	Tasks       []models.TaskTemplate `json:"tasks"`
	Mode        string                `json:"mode"`
	HorizonDays int                   `json:"horizonDays"`
}

// handleProgramByID handles /programs/{id}/weeks/{index}/tasks
func (s *Server) handleProgramByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/programs/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "program id required", http.StatusBadRequest)
		return
	}
	programID := parts[0]

	if len(parts) == 4 && parts[1] == "weeks" && parts[3] == "tasks" && r.Method == http.MethodPut {
		weekIndex, err := strconv.Atoi(parts[2])
		if err != nil {
			http.Error(w, "invalid week index", http.StatusBadRequest)
			return
		}
		s.saveWeekTasks(w, r, programID, weekIndex)
		return
	}
	http.Error(w, "not found", http.StatusNotFound)
}

func (s *Server) saveWeekTasks(w http.ResponseWriter, r *http.Request, programID string, weekIndex int) {
	var req saveWeekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	mode := sync.Mode(req.Mode)
	if mode == "" {
		mode = sync.ModeCreateMissing
	}

	result, err := s.service.SaveWeekTasks(r.Context(), programID, weekIndex, req.Tasks, mode, req.HorizonDays)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrProgramNotFound), errors.Is(err, ErrWeekNotFound):
			status = http.StatusNotFound
		case errors.Is(err, ErrInvalidProgram):
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

type createEnrollmentRequest struct {
	UserID    string `json:"user_id"`
	OrgID     string `json:"org_id"`
	ProgramID string `json:"program_id"`
	CohortID  string `json:"cohort_id"`
	StartedAt string `json:"started_at"`
	Timezone  string `json:"timezone"`
}

// handleEnrollments handles POST /enrollments
func (s *Server) handleEnrollments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.ProgramID == "" {
		http.Error(w, "user_id and program_id required", http.StatusBadRequest)
		return
	}

	enr, err := s.service.EnrollUser(r.Context(), req.UserID, req.OrgID, req.ProgramID, req.CohortID, req.StartedAt, req.Timezone)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrProgramNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(enr)
}

type syncEnrollmentRequest struct {
	Mode string `json:"mode"`
}

// handleEnrollmentByID handles /enrollments/{id}/*
func (s *Server) handleEnrollmentByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/enrollments/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "enrollment id required", http.StatusBadRequest)
		return
	}

	enrollmentID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "sync" && r.Method == http.MethodPost:
		s.syncEnrollment(w, r, enrollmentID)
	case action == "clear-tasks" && r.Method == http.MethodPost:
		s.clearEnrollmentTasks(w, r, enrollmentID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) syncEnrollment(w http.ResponseWriter, r *http.Request, enrollmentID string) {
	var req syncEnrollmentRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	mode := sync.Mode(req.Mode)
	if mode == "" {
		mode = sync.ModeCreateMissing
	}

	stats, err := s.service.SyncEnrollment(r.Context(), enrollmentID, mode)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrEnrollmentNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) clearEnrollmentTasks(w http.ResponseWriter, r *http.Request, enrollmentID string) {
	cleared, err := s.service.ClearEnrollmentTasks(r.Context(), enrollmentID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrEnrollmentNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"cleared": cleared})
}

// handleCohortByID handles /cohorts/{id}/clear-tasks
func (s *Server) handleCohortByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/cohorts/")
	parts := strings.Split(path, "/")

	if len(parts) < 2 || parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if parts[1] == "clear-tasks" && r.Method == http.MethodPost {
		cleared, err := s.service.ClearCohortTasks(r.Context(), parts[0])
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrEnrollmentNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"cleared": cleared})
		return
	}
	http.Error(w, "not found", http.StatusNotFound)
}
