// Package server exposes the analysis engine over HTTP: job submission,
// progress streaming, report retrieval and artifact downloads.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/config"
	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/monitoring"
	"github.com/justdata-platform/justdata/internal/progress"
)

// Jobs is the orchestrator surface the handlers use.
type Jobs interface {
	Submit(ctx context.Context, req model.AnalysisRequest) (string, error)
	Get(jobID string) (model.JobStatus, error)
	Cancel(jobID string) bool
	Subscribe(jobID string) (*progress.Subscription, error)
}

// Reports is the report store surface the handlers use.
type Reports interface {
	Get(ctx context.Context, jobID string) (*model.Report, error)
}

// Pinger probes warehouse connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsSource produces the operational snapshot for /metrics.
type MetricsSource interface {
	Snapshot(ctx context.Context) (*monitoring.Snapshot, error)
}

// Server wires the HTTP surface to the engine.
type Server struct {
	cfg       config.ServerConfig
	version   string
	jobs      Jobs
	reports   Reports
	warehouse Pinger
	metrics   MetricsSource
}

// New creates the HTTP surface.
func New(cfg config.ServerConfig, version string, jobs Jobs, reports Reports, warehouse Pinger, metrics MetricsSource) *Server {
	return &Server{
		cfg:       cfg,
		version:   version,
		jobs:      jobs,
		reports:   reports,
		warehouse: warehouse,
		metrics:   metrics,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))

	r.Post("/analyze", s.handleAnalyze)
	r.Get("/progress/{jobId}", s.handleProgress)
	r.Get("/status/{jobId}", s.handleStatus)
	r.Post("/cancel/{jobId}", s.handleCancel)
	r.Get("/report", s.handleReport)
	r.Get("/report-data", s.handleReportData)
	r.Get("/download", s.handleDownload)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	return r
}

// requestLogger logs every request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
