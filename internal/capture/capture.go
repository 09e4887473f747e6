// Package capture acquires the photo and GPS fix for a submission.
//
// Devices are collaborators behind the Camera and Locator interfaces. Every
// acquisition is bounded by a timeout so a stuck device cannot hold a
// submission open. A photo failure is fatal to the submission; a location
// failure degrades to no coordinate.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vivacius/asistenciacampo/internal/record"
)

// DefaultTimeout bounds a single photo or GPS acquisition.
const DefaultTimeout = 30 * time.Second

// Camera takes a photo and returns the encoded image.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Locator acquires a GPS fix.
type Locator interface {
	Locate(ctx context.Context) (record.Coordinate, error)
}

// ErrNoPhoto is returned when the camera produced no image.
var ErrNoPhoto = errors.New("photo is required")

// Capturer runs bounded acquisitions against the devices.
type Capturer struct {
	camera  Camera
	locator Locator
	timeout time.Duration
	maxDim  int
	logger  *slog.Logger
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Capturer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxDimension sets the longest side photos are scaled down to.
// Zero keeps the original size but still re-encodes as JPEG.
func WithMaxDimension(px int) Option {
	return func(c *Capturer) {
		c.maxDim = px
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Capturer) {
		c.logger = l
	}
}

// New creates a Capturer. locator may be nil when the device has no GPS.
func New(camera Camera, locator Locator, opts ...Option) *Capturer {
	c := &Capturer{
		camera:  camera,
		locator: locator,
		timeout: DefaultTimeout,
		maxDim:  DefaultMaxDimension,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Photo captures and compresses a photo. Any failure is a CAPTURE_FAILED
// record.Error.
func (c *Capturer) Photo(ctx context.Context) ([]byte, error) {
	if c.camera == nil {
		return nil, record.NewError(record.CodeCaptureFailed, "capture.photo", "no camera available")
	}

	raw, err := bounded(ctx, c.timeout, c.camera.Capture)
	if err != nil {
		return nil, record.WrapError(record.CodeCaptureFailed, "capture.photo", "photo capture failed", err)
	}
	if len(raw) == 0 {
		return nil, record.WrapError(record.CodeCaptureFailed, "capture.photo", "photo capture failed", ErrNoPhoto)
	}

	photo, err := Compress(raw, c.maxDim)
	if err != nil {
		return nil, record.WrapError(record.CodeCaptureFailed, "capture.photo", "photo is not a readable image", err)
	}
	c.logger.Debug("photo captured", "raw_bytes", len(raw), "bytes", len(photo))
	return photo, nil
}

// Location returns the current fix, or nil if it could not be acquired in
// time.
func (c *Capturer) Location(ctx context.Context) *record.Coordinate {
	if c.locator == nil {
		return nil
	}
	coord, err := bounded(ctx, c.timeout, c.locator.Locate)
	if err != nil {
		c.logger.Warn("location unavailable, continuing without coordinate", "error", err)
		return nil
	}
	return &coord
}

// bounded runs fn with a deadline and returns when the deadline passes even
// if fn ignores its context.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("timed out after %s: %w", timeout, ctx.Err())
	}
}

// FileCamera "captures" the image stored at Path.
type FileCamera struct {
	Path string
}

func (f FileCamera) Capture(ctx context.Context) ([]byte, error) {
	if f.Path == "" {
		return nil, ErrNoPhoto
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	return data, nil
}

// StaticLocator always reports the same fix.
type StaticLocator struct {
	Coord record.Coordinate
}

func (s StaticLocator) Locate(ctx context.Context) (record.Coordinate, error) {
	return s.Coord, nil
}

// ParseCoordinate parses "lat,lon" or "lat,lon,accuracy".
func ParseCoordinate(s string) (record.Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 && len(parts) != 3 {
		return record.Coordinate{}, fmt.Errorf("coordinate %q: want lat,lon[,accuracy]", s)
	}

	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return record.Coordinate{}, fmt.Errorf("coordinate %q: %w", s, err)
		}
		vals[i] = v
	}

	c := record.Coordinate{Lat: vals[0], Lon: vals[1], AccuracyM: vals[2]}
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return record.Coordinate{}, fmt.Errorf("coordinate %q: out of range", s)
	}
	if c.AccuracyM < 0 {
		return record.Coordinate{}, fmt.Errorf("coordinate %q: negative accuracy", s)
	}
	return c, nil
}
