// Package api exposes the batch engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/auth"
	"github.com/support934/smartgecode-saas/internal/engine"
)

// DefaultMaxUploadBytes caps multipart uploads.
const DefaultMaxUploadBytes = 10 << 20

// Pinger reports whether the job store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	MaxUploadBytes int64

	// Ready, when set, backs /ready.
	Ready Pinger

	// Metrics serves /metrics. Defaults to the global Prometheus registry.
	Metrics http.Handler
}

// Server routes requests to the engine.
type Server struct {
	engine    *engine.Engine
	maxUpload int64
	ready     Pinger
	router    chi.Router
}

// NewServer builds the router.
func NewServer(eng *engine.Engine, resolver *auth.Resolver, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	if resolver == nil {
		resolver = auth.NewResolver(nil)
	}

	s := &Server{
		engine:    eng,
		maxUpload: opts.MaxUploadBytes,
		ready:     opts.Ready,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", opts.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(resolver.Middleware)
		r.Post("/batch-geocode", s.handleSubmit)
		r.Get("/batches", s.handleListJobs)
		r.Get("/batch/{id}", s.handleJob)
		r.Post("/batch/{id}/cancel", s.handleCancel)
		r.Get("/geocode", s.handleGeocode)
		r.Get("/usage", s.handleUsage)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// NewHTTPServer wraps h with the service timeouts. WriteTimeout stays
// generous because downloads can be large.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
