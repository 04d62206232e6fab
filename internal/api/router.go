package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"service-agent/internal/domain"
	"service-agent/internal/middleware"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	Verifier           domain.TokenVerifier
	RateLimit          middleware.RateLimitConfig
	CORSAllowedOrigins []string
	Logger             *slog.Logger
}

// NewRouter builds the chi router. ctx bounds background middleware work
// such as rate limiter eviction.
func NewRouter(ctx context.Context, h *Handler, opts RouterOptions) http.Handler {
	if opts.Verifier == nil {
		opts.Verifier = middleware.DisabledVerifier{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Authenticate(opts.Verifier, opts.Logger))
	r.Use(middleware.RateLimiter(ctx, opts.RateLimit))

	r.Get("/health", h.health)

	r.Route("/config", func(r chi.Router) {
		r.Get("/", h.listConfig)
		r.Post("/", h.createConfig)
		r.Get("/categories", h.listCategories)
		r.Get("/{service}", h.getServiceConfig)
		r.Put("/{key}", h.updateConfig)
		r.Delete("/{key}", h.deleteConfig)
	})

	r.Route("/services", func(r chi.Router) {
		r.Get("/", h.listServices)
		r.Get("/{name}", h.getService)
		r.Get("/{name}/logs", h.getServiceLogs)
		r.Post("/{name}/start", h.lifecycle(h.control.Start))
		r.Post("/{name}/stop", h.lifecycle(h.control.Stop))
		r.Post("/{name}/restart", h.lifecycle(h.control.Restart))
		r.Post("/{name}/update", h.lifecycle(h.control.Update))
	})

	r.Get("/operations", h.listOperations)

	return r
}
