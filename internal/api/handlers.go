package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"radartiler/internal/fallback"
	"radartiler/internal/geo"
	"radartiler/internal/manifest"
	"radartiler/internal/mosaic"
	"radartiler/internal/upstream"
)

// DefaultTitle is reported by the root route.
const DefaultTitle = "RainViewer Spoof API for TopSky"

// Handler serves the weather-maps manifest and radar imagery.
type Handler struct {
	fetcher    upstream.Fetcher
	compositor *mosaic.Compositor
	manifest   *manifest.Synthesizer
	log        logrus.FieldLogger
	title      string
	now        func() time.Time
}

// NewHandler wires the tile fetcher, compositor and manifest synthesizer
// into HTTP handlers.
func NewHandler(f upstream.Fetcher, c *mosaic.Compositor, m *manifest.Synthesizer, log logrus.FieldLogger, title string) *Handler {
	if title == "" {
		title = DefaultTitle
	}
	return &Handler{
		fetcher:    f,
		compositor: c,
		manifest:   m,
		log:        log.WithField("component", "api"),
		title:      title,
		now:        time.Now,
	}
}

func (h *Handler) logger(r *http.Request) logrus.FieldLogger {
	return h.log.WithFields(logrus.Fields{
		"request_id": GetRequestID(r.Context()),
		"path":       r.URL.Path,
	})
}

// Root reports that the service is up.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": h.title,
		"status":  "running",
	})
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.now().Unix(),
	})
}

// WeatherMaps serves a freshly synthesized manifest that must never be
// cached.
func (h *Handler) WeatherMaps(w http.ResponseWriter, r *http.Request) {
	doc := h.manifest.Document(h.now())
	h.logger(r).WithFields(logrus.Fields{
		"host":    doc.Host,
		"past":    len(doc.Radar.Past),
		"nowcast": len(doc.Radar.Nowcast),
	}).Debug("manifest synthesized")

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	writeJSON(w, http.StatusOK, doc)
}

// RadarTile proxies one upstream tile. Anything short of a usable tile
// becomes a blank 256 px PNG.
func (h *Handler) RadarTile(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)
	img := fallback.Or(geo.TileSize, geo.TileSize, log, func() ([]byte, error) {
		if err := checkTimestamp(r); err != nil {
			return nil, err
		}
		idx, err := parseTileIndex(r)
		if err != nil {
			return nil, err
		}
		b, ok := h.fetcher.Fetch(r.Context(), idx)
		if !ok {
			return nil, nil
		}
		return b, nil
	})
	writePNG(w, img)
}

// RadarMosaic renders a size×size raster centred on lat/lon at the client
// zoom. An unusable size falls back to mosaic.DefaultSize; every other
// failure yields a blank of the requested size.
func (h *Handler) RadarMosaic(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)

	size, err := strconv.Atoi(chi.URLParam(r, "size"))
	if err != nil || !fallback.ValidSize(size) {
		log.WithField("size", chi.URLParam(r, "size")).Info("unusable mosaic size, serving blank")
		writePNG(w, fallback.Blank(mosaic.DefaultSize, mosaic.DefaultSize))
		return
	}

	img := fallback.Or(size, size, log, func() ([]byte, error) {
		if err := checkTimestamp(r); err != nil {
			return nil, err
		}
		zoom, err := strconv.Atoi(chi.URLParam(r, "zoom"))
		if err != nil {
			return nil, fmt.Errorf("parse zoom: %w", err)
		}
		lat, err := strconv.ParseFloat(chi.URLParam(r, "lat"), 64)
		if err != nil {
			return nil, fmt.Errorf("parse lat: %w", err)
		}
		lon, err := strconv.ParseFloat(chi.URLParam(r, "lon"), 64)
		if err != nil {
			return nil, fmt.Errorf("parse lon: %w", err)
		}
		return h.compositor.Render(r.Context(), mosaic.ForClient(zoom, lat, lon, size, size))
	})
	writePNG(w, img)
}

// SatelliteTile always serves a blank tile; there is no satellite source.
func (h *Handler) SatelliteTile(w http.ResponseWriter, r *http.Request) {
	writePNG(w, fallback.Tile())
}

// NotFound keeps unknown image requests harmless for the client: anything
// ending in .png gets a blank tile, the rest a JSON 404.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, ".png") {
		h.logger(r).WithField("method", r.Method).Info("unknown image route, serving blank")
		writePNG(w, fallback.Tile())
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error":   "Not found",
		"path":    strings.TrimPrefix(r.URL.Path, "/"),
		"message": "Check your TopSky configuration",
	})
}

// checkTimestamp rejects a radar timestamp that is not an integer. Nowcast
// routes carry no timestamp and always pass.
func checkTimestamp(r *http.Request) error {
	ts := chi.URLParam(r, "timestamp")
	if ts == "" {
		return nil
	}
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	return nil
}

func parseTileIndex(r *http.Request) (geo.TileIndex, error) {
	var idx geo.TileIndex
	for _, p := range []struct {
		name string
		dst  *int
	}{{"z", &idx.Z}, {"x", &idx.X}, {"y", &idx.Y}} {
		v, err := strconv.Atoi(chi.URLParam(r, p.name))
		if err != nil {
			return idx, fmt.Errorf("parse %s: %w", p.name, err)
		}
		*p.dst = v
	}
	return idx, nil
}

func writePNG(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
