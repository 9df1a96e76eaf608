// Package fallback produces the transparent placeholder rasters served
// whenever imagery cannot be produced.
package fallback

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultSize is the edge of a single blank tile.
	DefaultSize = 256
	// MaxSize bounds any raster this service will allocate.
	MaxSize = 4096
)

var encoder = png.Encoder{CompressionLevel: png.BestSpeed}

// Canvas allocates a fully transparent RGBA raster.
func Canvas(width, height int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

// Encode PNG-encodes img.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ValidSize reports whether a raster edge is within [1, MaxSize].
func ValidSize(n int) bool {
	return n > 0 && n <= MaxSize
}

// Blank returns a fully transparent PNG of width×height. Dimensions outside
// [1, MaxSize] are replaced by DefaultSize.
func Blank(width, height int) []byte {
	if !ValidSize(width) {
		width = DefaultSize
	}
	if !ValidSize(height) {
		height = DefaultSize
	}
	b, err := Encode(Canvas(width, height))
	if err != nil {
		// an in-memory RGBA never fails to encode
		panic(err)
	}
	return b
}

// Tile is Blank(DefaultSize, DefaultSize).
func Tile() []byte {
	return Blank(DefaultSize, DefaultSize)
}

// Or runs produce and returns its bytes. If produce fails, panics or returns
// nothing, a blank raster of width×height is returned instead and the cause
// is logged.
func Or(width, height int, log logrus.FieldLogger, produce func() ([]byte, error)) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("image producer panicked, serving blank")
			out = Blank(width, height)
		}
	}()

	b, err := produce()
	if err != nil {
		log.WithError(err).Info("serving blank image")
		return Blank(width, height)
	}
	if len(b) == 0 {
		log.Debug("image producer returned no data, serving blank")
		return Blank(width, height)
	}
	return b
}
