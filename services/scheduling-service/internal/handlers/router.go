package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/md-rashed-zaman/agendamento/libs/httpx"
	"github.com/md-rashed-zaman/agendamento/libs/runtime"
)

type Deps struct {
	Appointments *AppointmentHandler
	Availability *AvailabilityHandler
	Schedule     *ScheduleHandler
	Settings     *SettingsHandler
	Waitlist     *WaitlistHandler
	Webhook      http.Handler

	// Metrics serves /metrics when set; Instrument wraps every route when set.
	Metrics    http.Handler
	Instrument func(http.Handler) http.Handler

	Checks []runtime.ReadyCheck

	// AvailabilityLimiter and WebhookLimiter are optional per-client limits.
	AvailabilityLimiter httpx.Limiter
	WebhookLimiter      httpx.Limiter
	LimiterFailOpen     bool

	CORS           httpx.CORSPolicy
	BodyLimitBytes int64
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httpx.WithRequestID)
	r.Use(httpx.WithAccessLog(d.Logger))
	r.Use(middleware.Recoverer)
	if d.Instrument != nil {
		r.Use(d.Instrument)
	}
	r.Use(httpx.WithCORS(d.CORS))
	if d.BodyLimitBytes > 0 {
		r.Use(httpx.WithBodyLimit(d.BodyLimitBytes))
	}

	runtime.MountHealth(r, d.Checks...)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Webhook != nil {
		var mws []httpx.Middleware
		if d.WebhookLimiter != nil {
			mws = append(mws, httpx.RateLimit(d.WebhookLimiter, d.Logger, d.LimiterFailOpen))
		}
		r.Handle("/webhook/whatsapp", httpx.Chain(d.Webhook, mws...))
	}

	r.Group(func(r chi.Router) {
		if d.RequestTimeout > 0 {
			r.Use(httpx.WithTimeout(d.RequestTimeout))
		}
		r.Use(requireCompany)

		if d.Availability != nil {
			r.Group(func(r chi.Router) {
				if d.AvailabilityLimiter != nil {
					r.Use(httpx.RateLimit(d.AvailabilityLimiter, d.Logger, d.LimiterFailOpen))
				}
				r.Get("/availability", d.Availability.Availability)
			})
			r.Get("/calendar", d.Availability.Calendar)
		}
		if d.Appointments != nil {
			r.Route("/appointments", d.Appointments.Routes)
		}
		if d.Schedule != nil {
			r.Get("/business-hours", d.Schedule.ListBusinessHours)
			r.Put("/business-hours/{weekday}", d.Schedule.PutBusinessHour)
			r.Post("/business-hours/seed", d.Schedule.SeedBusinessHours)
			r.Get("/blocks", d.Schedule.ListBlocks)
			r.Post("/blocks", d.Schedule.CreateBlock)
			r.Get("/blocks/{id}", d.Schedule.GetBlock)
			r.Delete("/blocks/{id}", d.Schedule.DeleteBlock)
		}
		if d.Settings != nil {
			r.Get("/config", d.Settings.GetConfig)
			r.Put("/config", d.Settings.PutConfig)
			r.Get("/templates", d.Settings.ListTemplates)
			r.Post("/templates", d.Settings.CreateTemplate)
		}
		if d.Waitlist != nil {
			r.Route("/waiting-list", d.Waitlist.Routes)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	return r
}
