// Package upstream fetches raster tiles from the upstream weather tile
// provider and classifies each outcome into present or absent imagery.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"radartiler/internal/fallback"
	"radartiler/internal/geo"
	"radartiler/internal/metrics"
)

const (
	// DefaultURL is the OpenWeatherMap tile endpoint template.
	DefaultURL     = "https://tile.openweathermap.org/map/{layer}/{z}/{x}/{y}.png"
	DefaultLayer   = "precipitation_new"
	DefaultTimeout = 12 * time.Second

	breakerName  = "upstream-tiles"
	maxTileBytes = 8 << 20
)

// ErrNotFound marks a tile the provider does not have (HTTP 404).
var ErrNotFound = errors.New("upstream: tile not found")

// Fetcher loads one tile. A false result means the tile is absent, either
// because it does not exist or because fetching it failed.
type Fetcher interface {
	Fetch(ctx context.Context, idx geo.TileIndex) ([]byte, bool)
}

// ImageFetcher is a Fetcher that can also hand over decoded tiles, sparing
// callers that composite a PNG round trip.
type ImageFetcher interface {
	Fetcher
	FetchImage(ctx context.Context, idx geo.TileIndex) (*image.RGBA, bool)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context, idx geo.TileIndex) ([]byte, bool)

func (f FetcherFunc) Fetch(ctx context.Context, idx geo.TileIndex) ([]byte, bool) {
	return f(ctx, idx)
}

// Config describes the upstream provider.
type Config struct {
	URL       string // template with {layer}, {z}, {x} and {y}
	Layer     string
	APIKey    string
	Timeout   time.Duration
	UserAgent string

	// MaxFailures consecutive failures open the breaker for Cooldown.
	// Zero disables the breaker.
	MaxFailures uint32
	Cooldown    time.Duration
}

// Client is the HTTP Fetcher for the upstream provider.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*image.RGBA]
	log        logrus.FieldLogger
}

var _ ImageFetcher = (*Client)(nil)

// NewClient builds a client; zero fields of cfg take package defaults.
func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Layer == "" {
		cfg.Layer = DefaultLayer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		log: log.WithField("component", "upstream"),
	}
	c.breaker = c.newBreaker()
	return c
}

func (c *Client) newBreaker() *gobreaker.CircuitBreaker[*image.RGBA] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	maxFailures := c.cfg.MaxFailures
	return gobreaker.NewCircuitBreaker[*image.RGBA](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     c.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if maxFailures == 0 {
				return false
			}
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A missing tile or an abandoned client request says nothing about
		// upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// TileURL expands the URL template for t and attaches the API key.
func (c *Client) TileURL(t maptile.Tile) string {
	u := strings.Replace(c.cfg.URL, "{layer}", c.cfg.Layer, -1)
	u = strings.Replace(u, "{x}", strconv.Itoa(int(t.X)), -1)
	u = strings.Replace(u, "{y}", strconv.Itoa(int(t.Y)), -1)
	u = strings.Replace(u, "{z}", strconv.Itoa(int(t.Z)), -1)
	if c.cfg.APIKey == "" {
		return u
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := parsed.Query()
	q.Set("appid", c.cfg.APIKey)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

// Fetch implements Fetcher. The tile is re-encoded as an RGBA PNG whatever
// format upstream served.
func (c *Client) Fetch(ctx context.Context, idx geo.TileIndex) ([]byte, bool) {
	img, ok := c.FetchImage(ctx, idx)
	if !ok {
		return nil, false
	}
	b, err := fallback.Encode(img)
	if err != nil {
		c.log.WithError(err).WithField("tile", idx.String()).Warn("re-encoding tile failed")
		return nil, false
	}
	return b, true
}

// FetchImage implements ImageFetcher. Failures are logged and reported as
// absent.
func (c *Client) FetchImage(ctx context.Context, idx geo.TileIndex) (*image.RGBA, bool) {
	entry := c.log.WithField("tile", idx.String())

	mt, ok := idx.MapTile()
	if !ok {
		metrics.RecordTileFetch(metrics.OutcomeSkipped, 0)
		entry.Debug("tile outside the grid, not fetching")
		return nil, false
	}

	start := time.Now()
	img, err := c.breaker.Execute(func() (*image.RGBA, error) {
		return c.get(ctx, mt)
	})
	cost := time.Since(start)

	switch {
	case err == nil:
		metrics.RecordTileFetch(metrics.OutcomeHit, cost)
		entry.Debugf("fetched in %dms, %dx%d", cost.Milliseconds(), img.Bounds().Dx(), img.Bounds().Dy())
		return img, true
	case errors.Is(err, ErrNotFound):
		metrics.RecordTileFetch(metrics.OutcomeMiss, cost)
		entry.Debug("tile not found upstream")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordTileFetch(metrics.OutcomeRejected, 0)
		entry.WithError(err).Debug("upstream circuit open, skipping fetch")
	case errors.Is(err, context.Canceled):
		metrics.RecordTileFetch(metrics.OutcomeFailure, cost)
		entry.Debug("fetch abandoned by caller")
	default:
		metrics.RecordTileFetch(metrics.OutcomeFailure, cost)
		entry.WithError(err).Warn("upstream tile fetch failed")
	}
	return nil, false
}

func (c *Client) get(ctx context.Context, t maptile.Tile) (*image.RGBA, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TileURL(t), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error carries the full URL, API key included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("request tile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("read tile body: %w", err)
	}
	if len(body) == 0 {
		return nil, errors.New("empty tile body")
	}
	return Decode(body)
}
