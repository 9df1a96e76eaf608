// Package manifest synthesizes the weather-maps discovery document: a list
// of radar and satellite frames that looks like a live, updating feed.
//
// Past radar frames carry their real, bucketed timestamps so a client can
// ask for them again. Nowcast and satellite frames carry a fresh random
// token on every call; tile routes ignore these ids, so the tokens only
// have to look plausible.
package manifest

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// Version of the mimicked discovery format.
	Version = "2.0"
	// BucketSeconds is the frame interval; timestamps are multiples of it.
	BucketSeconds = 600

	pastFrames    = 4
	nowcastFrames = 2
)

// Frame is one entry of a time series.
type Frame struct {
	Time int64  `json:"time"`
	Path string `json:"path"`
}

type Radar struct {
	Past    []Frame `json:"past"`
	Nowcast []Frame `json:"nowcast"`
}

type Satellite struct {
	Infrared []Frame `json:"infrared"`
}

// Frames is the time-indexed part of the document.
type Frames struct {
	Radar     Radar     `json:"radar"`
	Satellite Satellite `json:"satellite"`
}

// Document is the full weather-maps.json body.
type Document struct {
	Version   string    `json:"version"`
	Generated int64     `json:"generated"`
	Host      string    `json:"host"`
	Radar     Radar     `json:"radar"`
	Satellite Satellite `json:"satellite"`
}

// Token returns 12 random hex characters.
func Token() string {
	u := uuid.New()
	// bytes 0-5 of a v4 UUID are fully random
	return hex.EncodeToString(u[:6])
}

// Bucket rounds t down to a BucketSeconds boundary, in epoch seconds.
func Bucket(t time.Time) int64 {
	s := t.Unix()
	return s - mod(s, BucketSeconds)
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Synthesizer builds manifests for a fixed host.
type Synthesizer struct {
	host  string
	token func() string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithTokenSource replaces the random token generator.
func WithTokenSource(fn func() string) Option {
	return func(s *Synthesizer) {
		s.token = fn
	}
}

// NewSynthesizer returns a Synthesizer advertising host as the tile host.
func NewSynthesizer(host string, opts ...Option) *Synthesizer {
	s := &Synthesizer{host: host, token: Token}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Host is the advertised base URL.
func (s *Synthesizer) Host() string {
	return s.host
}

// Synthesize lists the frames around now: four past radar frames ending at
// the current bucket, two nowcast frames after it and four satellite frames
// at the past offsets.
func (s *Synthesizer) Synthesize(now time.Time) Frames {
	base := Bucket(now)

	f := Frames{
		Radar: Radar{
			Past:    make([]Frame, 0, pastFrames),
			Nowcast: make([]Frame, 0, nowcastFrames),
		},
		Satellite: Satellite{
			Infrared: make([]Frame, 0, pastFrames),
		},
	}

	for i := pastFrames - 1; i >= 0; i-- {
		ts := base - int64(i)*BucketSeconds
		f.Radar.Past = append(f.Radar.Past, Frame{Time: ts, Path: fmt.Sprintf("/v2/radar/%d", ts)})
	}
	for i := 1; i <= nowcastFrames; i++ {
		ts := base + int64(i)*BucketSeconds
		f.Radar.Nowcast = append(f.Radar.Nowcast, Frame{Time: ts, Path: "/v2/radar/nowcast_" + s.token()})
	}
	for i := pastFrames - 1; i >= 0; i-- {
		ts := base - int64(i)*BucketSeconds
		f.Satellite.Infrared = append(f.Satellite.Infrared, Frame{Time: ts, Path: "/v2/satellite/" + s.token()})
	}
	return f
}

// Document wraps Synthesize(now) with the version, generation time and host.
func (s *Synthesizer) Document(now time.Time) Document {
	f := s.Synthesize(now)
	return Document{
		Version:   Version,
		Generated: now.Unix(),
		Host:      s.host,
		Radar:     f.Radar,
		Satellite: f.Satellite,
	}
}
