// Package geo converts geographic coordinates to the spherical Web-Mercator
// tile grid and to continuous world-pixel space.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TileSize is the edge length of an upstream tile in pixels.
const TileSize = 256

// MaxZoom is the deepest zoom level the service will address.
const MaxZoom = 22

// TileIndex identifies one upstream raster tile. X and Y may fall outside
// [0, 2^Z) when derived from a window near the edge of the world.
type TileIndex struct {
	Z, X, Y int
}

func (t TileIndex) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Valid reports whether the index addresses a tile that can exist.
func (t TileIndex) Valid() bool {
	if t.Z < 0 || t.Z > MaxZoom {
		return false
	}
	n := 1 << uint(t.Z)
	return t.X >= 0 && t.X < n && t.Y >= 0 && t.Y < n
}

// MapTile converts the index to an orb tile, or false if it is off the grid.
func (t TileIndex) MapTile() (maptile.Tile, bool) {
	if !t.Valid() {
		return maptile.Tile{}, false
	}
	return maptile.New(uint32(t.X), uint32(t.Y), maptile.Zoom(t.Z)), true
}

// Point builds an orb point (lon, lat) from a latitude and longitude.
func Point(lat, lon float64) orb.Point {
	return orb.Point{lon, lat}
}

// project returns the fractional tile coordinates of (lat, lon). TileXY and
// WorldPixel both derive from it so their tile boundaries agree exactly.
func project(lat, lon float64, zoom int) (fx, fy float64) {
	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180
	fx = (lon + 180) / 360 * n
	fy = (1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * n
	return fx, fy
}

// TileXY returns the tile containing (lat, lon) at zoom. No clamping is done.
func TileXY(lat, lon float64, zoom int) (x, y int) {
	fx, fy := project(lat, lon, zoom)
	return int(math.Floor(fx)), int(math.Floor(fy))
}

// TileAt is TileXY packed into a TileIndex.
func TileAt(lat, lon float64, zoom int) TileIndex {
	x, y := TileXY(lat, lon, zoom)
	return TileIndex{Z: zoom, X: x, Y: y}
}

// WorldPixel returns the continuous pixel position of (lat, lon) in the
// (256·2^zoom)² world plane.
func WorldPixel(lat, lon float64, zoom int) (px, py float64) {
	fx, fy := project(lat, lon, zoom)
	return fx * TileSize, fy * TileSize
}

// Finite reports whether every value is neither NaN nor infinite.
func Finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
