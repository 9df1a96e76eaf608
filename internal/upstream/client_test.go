package upstream

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	"radartiler/internal/geo"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func solidPNG(t *testing.T, size int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(srv *httptest.Server, cfg Config) *Client {
	cfg.URL = srv.URL + "/map/{layer}/{z}/{x}/{y}.png"
	return NewClient(cfg, quietLogger())
}

func TestTileURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "default provider with key",
			cfg:  Config{APIKey: "secret"},
			want: "https://tile.openweathermap.org/map/precipitation_new/6/31/21.png?appid=secret",
		},
		{
			name: "custom layer without key",
			cfg:  Config{Layer: "clouds_new"},
			want: "https://tile.openweathermap.org/map/clouds_new/6/31/21.png",
		},
		{
			name: "template with existing query",
			cfg:  Config{URL: "http://tiles.local/{layer}/{z}/{x}/{y}?fmt=png", Layer: "temp_new", APIKey: "k"},
			want: "http://tiles.local/temp_new/6/31/21?appid=k&fmt=png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.cfg, quietLogger())
			if got := c.TileURL(maptile.New(31, 21, 6)); got != tt.want {
				t.Errorf("TileURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchSuccess(t *testing.T) {
	tile := solidPNG(t, 256, color.NRGBA{R: 200, G: 10, B: 10, A: 255})

	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("appid")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(tile)
	}))
	defer srv.Close()

	c := newTestClient(srv, Config{Layer: "precipitation_new", APIKey: "abc123"})
	body, ok := c.Fetch(context.Background(), geo.TileIndex{Z: 6, X: 31, Y: 21})
	if !ok {
		t.Fatal("expected tile to be present")
	}
	if gotPath != "/map/precipitation_new/6/31/21.png" {
		t.Errorf("upstream path = %q", gotPath)
	}
	if gotKey != "abc123" {
		t.Errorf("appid = %q, want abc123", gotKey)
	}

	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("returned bytes are not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 256 || img.Bounds().Dy() != 256 {
		t.Errorf("tile size = %v", img.Bounds())
	}
	if r, _, _, a := img.At(10, 10).RGBA(); a != 0xffff || r>>8 != 200 {
		t.Errorf("pixel = r %d a %d, want opaque red", r>>8, a)
	}
}

func TestFetchJPEGIsNormalizedToPNG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 256, 256))
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, src, nil); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(jpg.Bytes())
	}))
	defer srv.Close()

	body, ok := newTestClient(srv, Config{}).Fetch(context.Background(), geo.TileIndex{Z: 1, X: 0, Y: 0})
	if !ok {
		t.Fatal("expected jpeg tile to be present")
	}
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("expected PNG re-encoding")
	}
}

func TestFetchAbsentOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"not an image", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>oops</html>"))
		}},
		{"empty body", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := newTestClient(srv, Config{Timeout: 50 * time.Millisecond})
			body, ok := c.Fetch(context.Background(), geo.TileIndex{Z: 2, X: 1, Y: 1})
			if ok || body != nil {
				t.Errorf("Fetch() = (%d bytes, %v), want absent", len(body), ok)
			}
		})
	}
}

func TestFetchNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(srv, Config{Timeout: time.Second})
	srv.Close()

	if _, ok := c.Fetch(context.Background(), geo.TileIndex{Z: 2, X: 1, Y: 1}); ok {
		t.Error("expected absent tile when the upstream is unreachable")
	}
}

func TestFetchOffGridSkipsRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := newTestClient(srv, Config{})
	for _, idx := range []geo.TileIndex{{Z: 3, X: -1, Y: 0}, {Z: 3, X: 8, Y: 2}, {Z: 3, X: 2, Y: 9}} {
		if _, ok := c.Fetch(context.Background(), idx); ok {
			t.Errorf("Fetch(%v) present, want absent", idx)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("upstream received %d requests for off-grid tiles", n)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv, Config{MaxFailures: 3, Cooldown: time.Minute})
	for i := 0; i < 6; i++ {
		if _, ok := c.Fetch(context.Background(), geo.TileIndex{Z: 4, X: i, Y: 3}); ok {
			t.Fatal("expected absent")
		}
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Errorf("upstream hits = %d, want 3 before the breaker opens", n)
	}
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(srv, Config{MaxFailures: 2, Cooldown: time.Minute})
	for i := 0; i < 5; i++ {
		c.Fetch(context.Background(), geo.TileIndex{Z: 4, X: i, Y: 3})
	}
	if n := atomic.LoadInt32(&hits); n != 5 {
		t.Errorf("upstream hits = %d, want 5: misses must not trip the breaker", n)
	}
}

func TestFetchErrorDoesNotLeakKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(srv, Config{APIKey: "topsecret", Timeout: time.Second})
	srv.Close()

	mt := maptile.New(0, 0, 1)
	_, err := c.get(context.Background(), mt)
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if strings.Contains(err.Error(), "topsecret") {
		t.Errorf("error leaks API key: %v", err)
	}
}

func TestFetcherFunc(t *testing.T) {
	var f Fetcher = FetcherFunc(func(ctx context.Context, idx geo.TileIndex) ([]byte, bool) {
		return []byte{1}, idx.X == 1
	})
	if _, ok := f.Fetch(context.Background(), geo.TileIndex{X: 1}); !ok {
		t.Error("FetcherFunc did not forward the call")
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring an RGBA image
// of w×h, with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8], ihdr[9] = 8, 6 // bit depth, truecolour with alpha

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	tests := []struct {
		name string
		w, h uint32
	}{
		{"wide", 16000, 256},
		{"tall", 256, 16000},
		{"both", 16000, 16000},
		{"just over", MaxTileSide + 1, MaxTileSide},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(pngHeader(tt.w, tt.h)); !errors.Is(err, ErrTileTooLarge) {
				t.Errorf("Decode() error = %v, want ErrTileTooLarge", err)
			}
		})
	}
}

func TestDecodeAcceptsLargestTile(t *testing.T) {
	img, err := Decode(solidPNG(t, MaxTileSide, color.White))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != MaxTileSide {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
}

func TestFetchOversizedTileIsAbsentWithoutAllocating(t *testing.T) {
	bomb := pngHeader(16000, 16000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(bomb)
	}))
	defer srv.Close()

	c := newTestClient(srv, Config{})
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, ok := c.Fetch(context.Background(), geo.TileIndex{Z: 2, X: 1, Y: 1})
	runtime.ReadMemStats(&after)

	if ok {
		t.Fatal("oversized tile reported present")
	}
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 64<<20 {
		t.Errorf("allocated %d MiB for one tile header", grew>>20)
	}
}

func TestFetchImage(t *testing.T) {
	tile := solidPNG(t, 256, color.NRGBA{G: 255, A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(tile)
	}))
	defer srv.Close()

	var f ImageFetcher = newTestClient(srv, Config{})
	img, ok := f.FetchImage(context.Background(), geo.TileIndex{Z: 3, X: 2, Y: 2})
	if !ok {
		t.Fatal("expected tile to be present")
	}
	if got := img.RGBAAt(5, 5); got != (color.RGBA{G: 255, A: 255}) {
		t.Errorf("pixel = %v, want opaque green", got)
	}
}
