package httpapi

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the transport-level knobs for the teams API.
type RouterConfig struct {
	JWTSecret []byte
	// RateLimitRequests caps mutating requests per client IP per window.
	// Zero disables the limiter.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter assembles the teams API routes.
//
// Reads are open (listing and team detail feed discovery pages); everything
// that mutates state or reveals member-only content requires a bearer token.
func NewRouter(logger *slog.Logger, handler *Handler, cfg RouterConfig) chi.Router {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(Trace("teams"))

	r.Get("/health", handler.Health)

	r.Route("/v1", func(r chi.Router) {
		r.With(OptionalAuth(cfg.JWTSecret)).Get("/teams", handler.ListTeams)
		r.With(OptionalAuth(cfg.JWTSecret)).Get("/teams/{teamID}", handler.GetTeam)
		r.With(OptionalAuth(cfg.JWTSecret)).Get("/teams/{teamID}/messages", handler.ListMessages)
		r.With(OptionalAuth(cfg.JWTSecret)).Get("/users/{userID}", handler.GetUser)

		r.Group(func(r chi.Router) {
			r.Use(Auth(cfg.JWTSecret))
			r.Use(RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow, logger))

			r.Post("/teams", handler.CreateTeam)
			r.Post("/teams/{teamID}/join", handler.Join)
			r.Post("/teams/{teamID}/leave", handler.Leave)
			r.Post("/teams/{teamID}/messages", handler.PostMessage)
			r.Post("/maintenance/reap", handler.Reap)
		})
	})

	return r
}
