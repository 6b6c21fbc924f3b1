package server

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter configures the admin HTTP routes: the test page, health check,
// room snapshot, Prometheus metrics and the WebSocket transport.
func NewRouter(s *Server, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/", TestPageHandler)
	r.Get("/health", HealthHandler)
	r.Get("/rooms", s.RoomsHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/ws", s.WebSocketHandler())

	return r
}
