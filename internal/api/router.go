// Package api exposes the manifest and radar imagery over HTTP in the
// RainViewer v2 URL layout.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Config holds the router-level settings.
type Config struct {
	CORSOrigins []string
}

// NewRouter mounts h on a chi router with request id, logging, recovery,
// CORS and metrics middleware.
func NewRouter(h *Handler, cfg Config, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))
	r.Use(Metrics)

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/public/weather-maps.json", h.WeatherMaps)
	r.Get("/public/weather-maps.json/*", h.WeatherMaps)

	r.Get("/v2/radar/{timestamp}/{z}/{x}/{y}.png", h.RadarTile)
	r.Get("/v2/radar/{timestamp}/{size}/{zoom}/{lat}/{lon}/.png", h.RadarMosaic)
	r.Get("/v2/radar/nowcast_{id}/{z}/{x}/{y}.png", h.RadarTile)
	r.Get("/v2/radar/nowcast_{id}/{size}/{zoom}/{lat}/{lon}/.png", h.RadarMosaic)
	r.Get("/v2/satellite/{id}/{z}/{x}/{y}.png", h.SatelliteTile)

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.NotFound)

	return r
}
