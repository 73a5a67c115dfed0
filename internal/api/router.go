package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clinicore/scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client // nil when the event sink is disabled
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Get("/availability", availabilityHandler(cfg.Service))
		r.Post("/", createAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Put("/{id}", updateAppointmentHandler(cfg.Service))
		r.Patch("/{id}/status", patchStatusHandler(cfg.Service))
	})

	// Doctor schedule administration
	r.Route("/doctors/{doctorID}", func(r chi.Router) {
		r.Get("/availability", listWindowsHandler(cfg.Service))
		r.Post("/availability", createWindowHandler(cfg.Service))
		r.Delete("/availability/{windowID}", deleteWindowHandler(cfg.Service))

		r.Get("/blackouts", listBlackoutsHandler(cfg.Service))
		r.Post("/blackouts", createBlackoutHandler(cfg.Service))
		r.Delete("/blackouts/{blackoutID}", deleteBlackoutHandler(cfg.Service))
	})

	return r
}
