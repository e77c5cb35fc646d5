// Package http assembles the chi router: middleware chain, endpoint sets,
// and the metrics and health surfaces.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/interfaces/http/handlers"
	"github.com/llcontext/llcd/internal/middleware"
	"github.com/llcontext/llcd/internal/observability"
	"github.com/llcontext/llcd/internal/repository"
)

// Options carries the router-level knobs.
type Options struct {
	MaxInFlight   int64
	AdmissionWait time.Duration
	Deadline      time.Duration
	Verifier      middleware.TokenVerifier
}

// Handlers groups the endpoint sets the router mounts.
type Handlers struct {
	Search     *handlers.SearchHandler
	Containers *handlers.ContainerHandler
	Documents  *handlers.DocumentHandler
	Jobs       *handlers.JobHandler
	Graph      *handlers.GraphHandler
	System     *handlers.SystemHandler
}

// NewRouter wires the middleware chain and mounts every endpoint set.
func NewRouter(
	h Handlers,
	collab repository.CollaborationRepository,
	metrics *observability.Metrics,
	opts Options,
	logger *zap.Logger,
) http.Handler {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 64
	}
	if opts.AdmissionWait <= 0 {
		opts.AdmissionWait = 250 * time.Millisecond
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Agent-ID", "X-Agent-Name"},
		MaxAge:         300,
	}))
	if metrics != nil {
		r.Use(middleware.Metrics(metrics))
	}

	r.Get("/healthz", handlers.Healthz)
	r.Get("/readyz", h.System.Ready)
	if metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(opts.Verifier, logger))
		r.Use(middleware.AgentTracker(collab, logger))
		r.Use(middleware.Deadline(opts.Deadline))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Admission(opts.MaxInFlight, opts.AdmissionWait))
			r.Post("/search", h.Search.Search)
		})

		r.Route("/containers", func(r chi.Router) {
			r.Post("/", h.Containers.Create)
			r.Get("/", h.Containers.List)
			r.Route("/{ref}", func(r chi.Router) {
				r.Get("/", h.Containers.Describe)
				r.Patch("/", h.Containers.Update)
				r.Delete("/", h.Containers.Delete)
				r.Post("/refresh", h.Containers.Refresh)
				r.Post("/export", h.Containers.Export)
				r.Post("/sources", h.Containers.AddSources)
				r.Post("/links", h.Containers.AddLink)
				r.Get("/links", h.Containers.Links)
				r.Post("/subscriptions", h.Containers.Subscribe)
				r.Get("/subscriptions", h.Containers.Subscriptions)
			})
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", h.Documents.List)
			r.Get("/{id}", h.Documents.Get)
			r.Delete("/{id}", h.Documents.Delete)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.Jobs.Status)
			r.Get("/{id}/events", h.Jobs.Events)
		})

		r.Route("/graph/{ref}", func(r chi.Router) {
			r.Get("/schema", h.Graph.Schema)
			r.Post("/upsert", h.Graph.Upsert)
			r.Post("/search", h.Graph.Search)
		})

		r.Get("/system/status", h.System.Status)
	})

	return r
}
