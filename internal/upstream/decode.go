package upstream

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"radartiler/internal/geo"
)

// MaxTileSide bounds the declared width and height of an upstream raster.
// Decoders allocate from the header, so larger tiles are refused unread.
const MaxTileSide = 4 * geo.TileSize

// ErrTileTooLarge marks a raster whose header exceeds MaxTileSide.
var ErrTileTooLarge = errors.New("upstream: tile dimensions too large")

// Decode reads a PNG, JPEG or WebP raster into canonical RGBA.
func Decode(b []byte) (*image.RGBA, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode tile header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxTileSide || cfg.Height > MaxTileSide {
		return nil, fmt.Errorf("%w: %s %dx%d", ErrTileTooLarge, format, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba, nil
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba, nil
}
