// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/harvest"
	"github.com/JakeFAU/content-harvester/internal/metrics"
	"github.com/JakeFAU/content-harvester/internal/scheduler"
)

// DirectSaver crawls one target synchronously, bypassing the scheduler.
type DirectSaver interface {
	SaveDirectly(ctx context.Context, target harvest.Target, cookie string, maxRetries int) harvest.CrawlOutcome
}

// Server wires HTTP handlers to the scheduler and crawler.
type Server struct {
	router     chi.Router
	sched      *scheduler.Scheduler
	saver      DirectSaver
	maxRetries int
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(sched *scheduler.Scheduler, saver DirectSaver, maxRetries int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sched:      sched,
		saver:      saver,
		maxRetries: maxRetries,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/stats", s.getStats)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Post("/save", s.saveDirectly)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	Type        string   `json:"type"`
	Kind        string   `json:"kind"`
	SourceID    string   `json:"source_id"`
	SourceIDs   []string `json:"source_ids"`
	Cookie      string   `json:"cookie"`
	MaxAttempts int      `json:"max_attempts"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	payload := harvest.JobPayload{
		Kind:      harvest.Kind(req.Kind),
		SourceID:  req.SourceID,
		SourceIDs: req.SourceIDs,
		Cookie:    req.Cookie,
	}
	jobID, err := s.sched.Submit(r.Context(), harvest.JobType(req.Type), payload, scheduler.SubmitOptions{
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		var verr *harvest.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("submit job failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.sched.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, harvest.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !s.sched.Cancel(r.Context(), jobID) {
		s.writeError(w, http.StatusConflict, "job is not pending")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(harvest.JobStatusCancelled),
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sched.GetStats(r.Context())
	if err != nil {
		s.logger.Error("get stats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type saveRequest struct {
	Kind     string `json:"kind"`
	SourceID string `json:"source_id"`
	Cookie   string `json:"cookie"`
}

func (s *Server) saveDirectly(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	kind := harvest.Kind(req.Kind)
	if !kind.Valid() {
		s.writeError(w, http.StatusBadRequest, "kind must be article or paste")
		return
	}
	if req.SourceID == "" {
		s.writeError(w, http.StatusBadRequest, "source_id is required")
		return
	}
	target := harvest.Target{Kind: kind, SourceID: req.SourceID}
	outcome := s.saver.SaveDirectly(r.Context(), target, req.Cookie, s.maxRetries)
	if !outcome.Success {
		s.writeJSON(w, http.StatusBadGateway, map[string]any{
			"saved":   false,
			"message": outcome.Message,
			"class":   string(outcome.Class),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"saved":   true,
		"kind":    string(kind),
		"source":  req.SourceID,
		"message": outcome.Message,
	})
}

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
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
