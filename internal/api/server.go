package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/capture"
	"github.com/JakeFAU/pagecapture/internal/jobs"
	"github.com/JakeFAU/pagecapture/internal/metrics"
	"github.com/JakeFAU/pagecapture/internal/progress"
	"github.com/JakeFAU/pagecapture/internal/storage/local"
	"github.com/JakeFAU/pagecapture/internal/store"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultMaxUpload      = 10 << 20
	defaultHeartbeat      = 15 * time.Second
)

// Submitter queues jobs and exposes their progress journals.
// jobs.Manager satisfies it.
type Submitter interface {
	Submit(ctx context.Context, sub jobs.Submission) (jobs.Ticket, error)
	Journal(id string) (*progress.Journal, bool)
}

// InputParser turns an uploaded file into URL pairs.
type InputParser interface {
	Parse(name string, r io.Reader) ([]capture.URLPair, error)
}

// ReadinessCheck reports whether downstream dependencies can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Options tunes the server.
type Options struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	// Heartbeat is the interval of SSE keep-alive comments.
	Heartbeat time.Duration
	Ready     ReadinessCheck
}

// Server wires HTTP handlers to the job manager and stores.
type Server struct {
	router    chi.Router
	submitter Submitter
	parser    InputParser
	jobStore  store.JobStore
	archives  *local.ArchiveStore
	opts      Options
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	submitter Submitter,
	parser InputParser,
	jobStore store.JobStore,
	archives *local.ArchiveStore,
	opts Options,
	logger *zap.Logger,
) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		submitter: submitter,
		parser:    parser,
		jobStore:  jobStore,
		archives:  archives,
		opts:      opts,
		logger:    logger,
	}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	// Streaming and upload routes manage their own lifetimes.
	r.Post("/v1/jobs", s.submitJob)
	r.Get("/v1/jobs/{job_id}/events", s.streamEvents)
	r.Get("/v1/jobs/{job_id}/archive", s.jobArchive)
	r.Get("/download", s.download)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Get("/v1/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
