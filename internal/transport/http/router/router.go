package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/config"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/security"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/transport/http/handlers"
	mw "github.com/baechuer/real-time-ressys/services/history-service/internal/transport/http/middleware"
)

func New(
	h *handlers.HistoryHandler,
	z *handlers.HealthHandler,
	verifier security.AccessTokenVerifier,
	cfg *config.Config,
) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(mw.AccessLog)

	r.Get("/healthz", z.Healthz)
	r.Get("/readyz", z.Readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1/history", func(r chi.Router) {
		if cfg.RLEnabled {
			r.Use(httprate.LimitByIP(cfg.RLLimit, cfg.RLWindow))
		}
		r.Use(mw.OptionalAuth(verifier))

		r.Get("/", h.GetHistory)
		r.Post("/views", h.RecordView)
	})

	r.Route("/internal/v1/history", func(r chi.Router) {
		r.Use(mw.InternalAuth(cfg.InternalSecret))

		r.Post("/links", h.Link)
		r.Post("/sync", h.TriggerSync)
		r.Post("/sync/{fingerprint}", h.SyncKey)
	})

	return r
}
