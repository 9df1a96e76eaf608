// Package mosaic assembles a raster of arbitrary pixel size, centred on a
// geographic point, from concurrently fetched upstream tiles.
package mosaic

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"

	"radartiler/internal/fallback"
	"radartiler/internal/geo"
)

const (
	// ZoomShift is added to the client's zoom before fetching, so a window of
	// unchanged pixel size is filled from one level finer.
	ZoomShift = 1
	// DefaultSize is the mosaic edge used when a client size is unusable.
	DefaultSize = 512
)

// ErrInvalidRequest is returned for requests that cannot be planned.
var ErrInvalidRequest = errors.New("mosaic: invalid request")

// Request is a pixel window of Width×Height centred on Center at Zoom.
type Request struct {
	Zoom          int
	Center        orb.Point
	Width, Height int
}

// ForClient builds a request for a window expressed at a client zoom level.
// A negative client zoom is left unshifted so that Validate rejects it.
func ForClient(clientZoom int, lat, lon float64, width, height int) Request {
	zoom := clientZoom
	if zoom >= 0 {
		zoom += ZoomShift
	}
	return Request{
		Zoom:   zoom,
		Center: geo.Point(lat, lon),
		Width:  width,
		Height: height,
	}
}

// Validate checks that the request can be projected and allocated.
func (r Request) Validate() error {
	switch {
	case r.Zoom < 0 || r.Zoom > geo.MaxZoom:
		return fmt.Errorf("%w: zoom %d out of range [0, %d]", ErrInvalidRequest, r.Zoom, geo.MaxZoom)
	case !geo.Finite(r.Center.Lat(), r.Center.Lon()):
		return fmt.Errorf("%w: non-finite center %v", ErrInvalidRequest, r.Center)
	case !fallback.ValidSize(r.Width) || !fallback.ValidSize(r.Height):
		return fmt.Errorf("%w: size %dx%d out of range [1, %d]", ErrInvalidRequest, r.Width, r.Height, fallback.MaxSize)
	}
	return nil
}

// Plan is a request resolved into world-pixel space: the window's top-left
// corner and the inclusive tile range covering it.
type Plan struct {
	Request
	Left, Top  float64
	MinX, MaxX int
	MinY, MaxY int
}

// NewPlan projects the request centre and computes the covering tiles. The
// range may extend one tile past the window on each side; the excess is
// cropped by the canvas.
func NewPlan(r Request) (Plan, error) {
	if err := r.Validate(); err != nil {
		return Plan{}, err
	}

	cx, cy := geo.WorldPixel(r.Center.Lat(), r.Center.Lon(), r.Zoom)
	p := Plan{
		Request: r,
		Left:    cx - float64(r.Width)/2,
		Top:     cy - float64(r.Height)/2,
	}
	if !geo.Finite(p.Left, p.Top) {
		return Plan{}, fmt.Errorf("%w: center %v does not project", ErrInvalidRequest, r.Center)
	}

	p.MinX = int(math.Floor(p.Left / geo.TileSize))
	p.MaxX = int(math.Ceil((p.Left + float64(r.Width)) / geo.TileSize))
	p.MinY = int(math.Floor(p.Top / geo.TileSize))
	p.MaxY = int(math.Ceil((p.Top + float64(r.Height)) / geo.TileSize))
	return p, nil
}

// Tiles lists every index in the plan's rectangle, row by row.
func (p Plan) Tiles() []geo.TileIndex {
	tiles := make([]geo.TileIndex, 0, (p.MaxX-p.MinX+1)*(p.MaxY-p.MinY+1))
	for y := p.MinY; y <= p.MaxY; y++ {
		for x := p.MinX; x <= p.MaxX; x++ {
			tiles = append(tiles, geo.TileIndex{Z: p.Zoom, X: x, Y: y})
		}
	}
	return tiles
}

// Offset is where the tile's top-left corner lands on the canvas. Rounding is
// half-up so that neighbouring tiles always abut.
func (p Plan) Offset(idx geo.TileIndex) image.Point {
	return image.Point{
		X: roundHalfUp(float64(idx.X)*geo.TileSize - p.Left),
		Y: roundHalfUp(float64(idx.Y)*geo.TileSize - p.Top),
	}
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
