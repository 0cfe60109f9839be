package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/headcount/telemetry"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers the admin API and, when enabled, /metrics
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers, secret string) {
	r := chi.NewRouter()

	// Liveness is always public
	r.Get("/health", handlers.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(secret))
		r.Get("/status", handlers.handleStatus)
		r.Get("/watch", handlers.handleWatch)
		r.Get("/ws", handlers.handleWatchSocket)
	})

	// Mount chi router under /admin
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		mux.Handle("/metrics", metrics)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	log.Info().Bool("auth", secret != "").Msg("Admin endpoints enabled at /admin/status")
}
