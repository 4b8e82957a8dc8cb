// Package api exposes the HTTP interface for the scraper service: job
// submission and inspection, the manual captcha channel, logs, and stats.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlasland/landscraper/internal/captcha"
	"github.com/atlasland/landscraper/internal/metrics"
	"github.com/atlasland/landscraper/internal/scrape"
)

const defaultListLimit = 50

// Server wires HTTP handlers to the job store and the captcha channel.
type Server struct {
	router    chi.Router
	store     scrape.Store
	solutions *captcha.SolutionStore
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store scrape.Store, solutions *captcha.SolutionStore, logger *zap.Logger) *Server {
	s := &Server{
		store:     store,
		solutions: solutions,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
				r.Post("/captcha", s.submitCaptcha)
			})
		})
		r.Get("/logs", s.listLogs)
		r.Get("/stats", s.stats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createJobRequest struct {
	JobType      string `json:"job_type"`
	StateCode    string `json:"state_code"`
	DistrictCode string `json:"district_code"`
	MandalCode   string `json:"mandal_code"`
	VillageCode  string `json:"village_code"`
	SurveyNumber string `json:"survey_number"`
	SearchValue  string `json:"search_value"`
	Priority     int    `json:"priority"`
	MaxAttempts  int    `json:"max_attempts"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !scrape.ValidJobType(scrape.JobType(req.JobType)) {
		writeError(w, http.StatusBadRequest, "unknown job_type "+strconv.Quote(req.JobType))
		return
	}
	if req.DistrictCode == "" || req.MandalCode == "" || req.VillageCode == "" {
		writeError(w, http.StatusBadRequest, "district_code, mandal_code and village_code are required")
		return
	}
	if req.SurveyNumber == "" && req.SearchValue == "" {
		writeError(w, http.StatusBadRequest, "survey_number or search_value is required")
		return
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = 3
	}

	job := scrape.Job{
		ID:           uuid.New(),
		JobType:      scrape.JobType(req.JobType),
		Status:       scrape.JobStatusPending,
		StateCode:    req.StateCode,
		DistrictCode: req.DistrictCode,
		MandalCode:   req.MandalCode,
		VillageCode:  req.VillageCode,
		SurveyNumber: req.SurveyNumber,
		SearchValue:  req.SearchValue,
		Priority:     req.Priority,
		MaxAttempts:  req.MaxAttempts,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.AppendLog(r.Context(), &job.ID, "info", "job queued", nil); err != nil {
		s.logger.Warn("append queue log", zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID.String(),
		"status": string(job.Status),
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := scrape.JobStatus(r.URL.Query().Get("status"))
	limit := queryLimit(r, defaultListLimit)

	jobs, err := s.store.ListJobs(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []scrape.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		var notFound *scrape.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	cancelled, err := s.store.CancelJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !cancelled {
		writeError(w, http.StatusConflict, "job is not cancellable in its current state")
		return
	}
	if err := s.store.AppendLog(r.Context(), &id, "warn", "job cancelled via API", nil); err != nil {
		s.logger.Warn("append cancel log", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id.String(), "status": string(scrape.JobStatusFailed)})
}

type captchaSolutionRequest struct {
	Solution string `json:"solution"`
}

// submitCaptcha stores an operator-supplied captcha answer and returns the
// paused job to the pending queue. The solution is staged before the requeue
// so a fast worker cannot claim the job solution-less.
func (s *Server) submitCaptcha(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req captchaSolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Solution == "" {
		writeError(w, http.StatusBadRequest, "solution is required")
		return
	}

	s.solutions.Put(id, req.Solution)
	requeued, err := s.store.Requeue(r.Context(), id)
	if err != nil {
		s.solutions.Take(id)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !requeued {
		s.solutions.Take(id)
		writeError(w, http.StatusConflict, "job is not waiting for a captcha solution")
		return
	}
	if err := s.store.AppendLog(r.Context(), &id, "info", "manual captcha solution submitted", nil); err != nil {
		s.logger.Warn("append captcha log", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id.String(), "status": string(scrape.JobStatusPending)})
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	var jobID *uuid.UUID
	if raw := r.URL.Query().Get("job_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid job_id")
			return
		}
		jobID = &id
	}
	limit := queryLimit(r, defaultListLimit)

	logs, err := s.store.ListLogs(r.Context(), jobID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []scrape.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)

		route := chi.RouteContext(r.Context()).RoutePattern()
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, duration)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
