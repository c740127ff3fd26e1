// Package router assembles the HTTP surface.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stayloop/guestops/internal/http/handlers"
	"github.com/stayloop/guestops/internal/http/middleware"
	"github.com/stayloop/guestops/pkg/logging"
)

// Deps carries everything the router mounts.
type Deps struct {
	Webhooks    *handlers.Webhooks
	Threads     *handlers.Threads
	Companies   *handlers.Companies
	Settings    *handlers.Settings
	Alerts      *handlers.Alerts
	RateLimiter *middleware.RateLimiter
	Logger      *logging.Logger
}

// New builds the router. Webhook routes sit behind the rate limiter; the
// staff API and operational endpoints do not.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(d.Logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Handler)
		}
		r.Post("/sms/inbound", d.Webhooks.SMSInbound)
		r.Post("/sms/status", d.Webhooks.SMSStatus)
		r.Post("/email/inbound", d.Webhooks.EmailInbound)
		r.Post("/email/status", d.Webhooks.EmailStatus)
	})

	r.Route("/threads/{threadID}", func(r chi.Router) {
		r.Post("/reply", d.Threads.Reply)
		r.Post("/close", d.Threads.Close)
		r.Post("/assign", d.Threads.Assign)
		r.Get("/messages", d.Threads.Messages)
	})

	r.Route("/companies", func(r chi.Router) {
		r.Post("/", d.Companies.Create)
		r.Route("/{companyID}", func(r chi.Router) {
			r.Get("/", d.Companies.Get)
			r.Post("/status", d.Companies.SetStatus)
			r.Get("/transactions", d.Companies.Transactions)
			if d.Alerts != nil {
				r.Get("/alerts", d.Alerts.Recent)
			}
		})
	})

	r.Route("/properties/{propertyID}/settings", func(r chi.Router) {
		r.Get("/", d.Settings.Get)
		r.Put("/", d.Settings.Update)
	})

	return r
}
