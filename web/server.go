package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"epic-repos/analysis"
	"epic-repos/logger"
	"epic-repos/metrics"
	"epic-repos/store"
)

// Runner runs one epic analysis.
type Runner interface {
	Run(ctx context.Context, epicKey string) (*analysis.Result, error)
}

// History is the subset of the run store the API reads and writes.
type History interface {
	Save(ctx context.Context, res *analysis.Result) (int64, error)
	List(ctx context.Context, epicKey string, limit int) ([]store.Run, error)
	Latest(ctx context.Context, epicKey string) (store.Run, metrics.IssueRepoMapping, error)
}

// Server handles HTTP requests
type Server struct {
	Router    *chi.Mux
	newRunner func() Runner
	history   History
	log       *zap.Logger
}

// NewServer creates a new web server. newRunner is called once per analysis
// request; history may be nil, which disables the /api/runs endpoints.
func NewServer(newRunner func() Runner, history History, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		newRunner: newRunner,
		history:   history,
		log:       log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Minute)) // epic analyses retry with multi-second backoff

	// Health check endpoint
	r.Get("/health", s.healthCheck)

	// API endpoints
	r.Route("/api", func(r chi.Router) {
		r.Get("/epics/{epicKey}/repos", s.analyzeEpic)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/latest", s.latestRun)
	})

	s.Router = r
}

// requestLogger attaches a request scoped zap logger to the context and logs
// each finished request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLogger := s.log.With(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLogger)))

		reqLogger.Info("request finished",
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// healthCheck returns server health status
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "epic-repos-api",
	})
}

// analyzeEpic runs an analysis for the epic in the path and returns the
// three mappings.
func (s *Server) analyzeEpic(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	epicKey := chi.URLParam(r, "epicKey")

	res, err := s.newRunner().Run(r.Context(), epicKey)
	if err != nil {
		log.Warn("analysis failed", zap.String("epic", epicKey), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, analysis.ErrIssueFetch) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}

	var runID int64
	if s.history != nil {
		runID, err = s.history.Save(r.Context(), res)
		if err != nil {
			log.Warn("saving run failed", zap.String("epic", epicKey), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"tickets_to_repos":      res.Mapping,
			"tickets_to_repo_count": res.TicketRepoCounts,
			"repos_to_ticket_count": res.RepoTicketCounts,
			"issue_errors":          res.IssueErrors,
		},
		"stats": map[string]int{
			"issues":         res.Mapping.Len(),
			"tracker_errors": res.TrackerErrors,
		},
		"run_id":    runID,
		"timestamp": res.Timestamp,
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := s.history.List(r.Context(), r.URL.Query().Get("epic"), limit)
	if err != nil {
		logger.FromContext(r.Context()).Warn("listing runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "error listing runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   runs,
	})
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	epicKey := r.URL.Query().Get("epic")
	if epicKey == "" {
		writeError(w, http.StatusBadRequest, "query parameter epic is required")
		return
	}

	run, mapping, err := s.history.Latest(r.Context(), epicKey)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Warn("loading latest run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "error loading run")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"run":    run,
		"data": map[string]interface{}{
			"tickets_to_repos":      mapping,
			"tickets_to_repo_count": metrics.TicketToRepoCount(mapping),
			"repos_to_ticket_count": metrics.RepoToTicketCount(mapping),
		},
	})
}

// Start starts the web server
func (s *Server) Start(port string) error {
	s.log.Info("starting epic repos API server", zap.String("port", port))
	s.log.Info("available endpoints",
		zap.Strings("routes", []string{
			"GET /health",
			"GET /api/epics/{epicKey}/repos",
			"GET /api/runs?epic=&limit=",
			"GET /api/runs/latest?epic=",
		}),
	)
	return http.ListenAndServe(":"+port, s.Router)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"status": "error",
		"error":  msg,
	})
}
