package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	redisclient "github.com/carebridge/appointment-service/internal/redis"
)

type RouterConfig struct {
	Service     BookingService
	Idempotency redisclient.IdempotencyStore
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Env         string
	Version     string
	Logger      zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health and metrics
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Appointment endpoints
	r.Post("/appointments", createAppointmentHandler(cfg.Service, cfg.Idempotency))
	r.Get("/appointments/availability", availabilityHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}/history", statusHistoryHandler(cfg.Service))
	r.Patch("/appointments/{id}/reschedule", rescheduleHandler(cfg.Service))
	r.Patch("/appointments/{id}/status", updateStatusHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelHandler(cfg.Service))

	// Staff scheduling management
	r.Put("/clinicians/{id}/availability-rules", replaceRulesHandler(cfg.Service))

	return r
}
