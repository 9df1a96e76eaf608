package mosaic

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"radartiler/internal/fallback"
	"radartiler/internal/geo"
	"radartiler/internal/metrics"
	"radartiler/internal/upstream"
)

// DefaultWorkers caps concurrent upstream fetches per mosaic.
const DefaultWorkers = 16

// Compositor fans tile fetches out to a Fetcher and pastes the results.
type Compositor struct {
	fetcher  upstream.Fetcher
	workers  int
	log      logrus.FieldLogger
	observer func(idx geo.TileIndex, present bool)
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithWorkers sets the per-mosaic fetch concurrency.
func WithWorkers(n int) Option {
	return func(c *Compositor) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithObserver registers a callback run after each tile resolves. It may be
// called from several goroutines at once.
func WithObserver(fn func(idx geo.TileIndex, present bool)) Option {
	return func(c *Compositor) {
		c.observer = fn
	}
}

// New returns a Compositor reading tiles from f.
func New(f upstream.Fetcher, log logrus.FieldLogger, opts ...Option) *Compositor {
	c := &Compositor{
		fetcher: f,
		workers: DefaultWorkers,
		log:     log.WithField("component", "mosaic"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose fetches every tile of the request's plan concurrently, waits for
// all of them and pastes the present ones onto a transparent canvas of
// exactly Width×Height. Absent tiles leave their region transparent.
func (c *Compositor) Compose(ctx context.Context, req Request) (*image.RGBA, error) {
	plan, err := NewPlan(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tiles := plan.Tiles()
	results := make([]*image.RGBA, len(tiles))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, idx := range tiles {
		i, idx := i, idx
		g.Go(func() error {
			tile, ok := c.fetch(ctx, idx)
			if ok {
				results[i] = tile
			}
			if c.observer != nil {
				c.observer(idx, ok)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("compose mosaic: %w", err)
	}

	canvas := fallback.Canvas(req.Width, req.Height)
	placed := 0
	for i, tile := range results {
		if tile == nil {
			continue
		}
		paste(canvas, tile, plan.Offset(tiles[i]))
		placed++
	}

	metrics.RecordMosaic(len(tiles), time.Since(start))
	c.log.WithFields(logrus.Fields{
		"zoom":   req.Zoom,
		"size":   fmt.Sprintf("%dx%d", req.Width, req.Height),
		"tiles":  len(tiles),
		"placed": placed,
	}).Debug("mosaic composed")
	return canvas, nil
}

// fetch resolves one tile to a decoded raster. Fetchers that decode
// themselves are asked for the image directly.
func (c *Compositor) fetch(ctx context.Context, idx geo.TileIndex) (*image.RGBA, bool) {
	if f, ok := c.fetcher.(upstream.ImageFetcher); ok {
		return f.FetchImage(ctx, idx)
	}
	b, ok := c.fetcher.Fetch(ctx, idx)
	if !ok {
		return nil, false
	}
	tile, err := upstream.Decode(b)
	if err != nil {
		c.log.WithError(err).WithField("tile", idx.String()).Warn("dropping undecodable tile")
		return nil, false
	}
	return tile, true
}

// Render is Compose followed by PNG encoding.
func (c *Compositor) Render(ctx context.Context, req Request) ([]byte, error) {
	img, err := c.Compose(ctx, req)
	if err != nil {
		return nil, err
	}
	return fallback.Encode(img)
}

// paste blits tile at the given canvas offset, cropped to the canvas. Tiles
// that are not 256 px square are scaled to fit one grid cell.
func paste(dst *image.RGBA, tile *image.RGBA, at image.Point) {
	cell := image.Rect(at.X, at.Y, at.X+geo.TileSize, at.Y+geo.TileSize)
	b := tile.Bounds()
	if b.Dx() == geo.TileSize && b.Dy() == geo.TileSize {
		draw.Draw(dst, cell, tile, b.Min, draw.Src)
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, cell, tile, b, xdraw.Src, nil)
}
