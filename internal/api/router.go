package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/api/middleware"
	"github.com/eldtechnologies/staffchat/internal/handlers"
)

// Options configures the router.
type Options struct {
	Logger    zerolog.Logger
	Handlers  handlers.Config
	JWTSecret string
	// Limiter is nil when Redis is not configured; rate limits are then off.
	Limiter *middleware.RateLimiter
}

// NewRouter creates and configures the HTTP router.
func NewRouter(opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(32 * 1024)) // 32KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(opts.Logger))
	r.Use(chimw.Recoverer)

	origins := opts.Handlers.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(opts.Handlers)
	auth := middleware.NewAuth(opts.JWTSecret, opts.Handlers.Service.Directory(), opts.Logger)
	limiter := opts.Limiter

	// Public routes
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	// Authenticated routes (require a staff bearer token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/me", h.Me)
		r.Get("/users/{id}", h.Who)
		r.Get("/contacts", h.Contacts)
		r.Get("/events", h.Events)

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", h.ListRooms)
			r.With(limiter.Limit("rooms", 20, time.Hour)).Post("/", h.CreateRoom)
			r.With(limiter.Limit("direct", 60, time.Hour)).Post("/direct", h.StartDirect)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRoom)
				r.Delete("/", h.DeleteRoom)
				r.Patch("/read", h.MarkRead)
				r.Get("/messages", h.ListMessages)
				r.With(limiter.Limit("messages", 60, time.Minute)).Post("/messages", h.PostMessage)
			})
		})

		r.Delete("/messages/{id}", h.DeleteMessage)
	})

	return r
}
