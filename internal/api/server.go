package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/crossguard/crossguard/internal/api/handler"
	"github.com/crossguard/crossguard/internal/config"
	"github.com/crossguard/crossguard/internal/socket"
)

// NewRouter creates and configures the Chi router: the REST surface with the
// full middleware stack, and the websocket endpoint mounted outside the
// compression and rate-limit middleware (it is one long-lived request).
func NewRouter(h *handler.Handler, gateway *socket.Gateway, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "If-None-Match", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Realtime gateway
	r.Get("/ws", gateway.HandleWS)

	// REST surface
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5)) // gzip

		if cfg.RateLimitEnabled {
			r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		// Root
		r.Get("/", h.Root)

		// Health checks
		r.Route("/health", func(r chi.Router) {
			r.Get("/", h.HealthCheck)
			r.Get("/store", h.HealthCheckStore)
		})

		// Swagger UI
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/docs/doc.json"),
		))

		// API v1 routes
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/crosswalks", h.ListCrosswalks)
			r.Get("/crosswalks/{id}", h.GetCrosswalk)
		})
	})

	return r
}
