package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-engine/internal/appointment"
)

type RouterConfig struct {
	Service        *appointment.Service
	Changes        ChangeSource
	Dependencies   []Dependency
	Gatherer       prometheus.Gatherer
	Logger         zerolog.Logger
	IdentitySecret string
	RateLimitRPS   float64
	RateLimitBurst int
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	svc := cfg.Service
	r.Route("/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.IdentitySecret))
		if cfg.RateLimitRPS > 0 {
			r.Use(NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).RateLimit)
		}

		r.Get("/specialties", listSpecialtiesHandler())

		r.Route("/practitioners", func(r chi.Router) {
			r.Post("/", registerPractitionerHandler(svc))
			r.Get("/", listPractitionersHandler(svc))
			r.Route("/{practitionerID}", func(r chi.Router) {
				r.Get("/", getPractitionerHandler(svc))
				r.Put("/", updatePractitionerHandler(svc))
				r.Post("/availability", declareAvailabilityHandler(svc))
				r.Get("/availability", listWindowsHandler(svc))
				r.Get("/slots", listSlotsHandler(svc))
				r.Get("/slots/check", slotAvailabilityHandler(svc))
				r.Get("/appointments", listPractitionerAppointmentsHandler(svc))
			})
		})
		r.Delete("/availability/{windowID}", revokeWindowHandler(svc))

		r.Route("/patients", func(r chi.Router) {
			r.Post("/", registerPatientHandler(svc))
			r.Get("/{patientID}", getPatientHandler(svc))
			r.Get("/{patientID}/appointments", listPatientAppointmentsHandler(svc))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", bookAppointmentHandler(svc))
			r.Get("/{appointmentID}", getAppointmentHandler(svc))
			r.Post("/{appointmentID}/confirm", confirmAppointmentHandler(svc))
			r.Post("/{appointmentID}/cancel", cancelAppointmentHandler(svc))
			r.Get("/{appointmentID}/history", historyHandler(svc))
		})

		if cfg.Changes != nil {
			r.Get("/changes", changesHandler(cfg.Changes, cfg.Logger))
		}
	})

	return r
}
