// Package geo samples the location of the device, once, for stamping onto
// captured images.
package geo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errors a Locator can return, matched with errors.Is.
var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrTimeout          = errors.New("location request timed out")
	ErrUnavailable      = errors.New("location unavailable")
)

// Sample is a single location fix.
type Sample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"` // Metres, 0 if unknown.
	Source    string    `json:"source"`             // "static", "nmea" or "client".
	At        time.Time `json:"at"`
}

// Options for a location request.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration // No timeout if zero.
}

// Locator is a source of location fixes.
type Locator interface {
	// Locate returns a fix, or an error wrapping one of ErrPermissionDenied,
	// ErrTimeout or ErrUnavailable. Locate must return when ctx is done.
	Locate(ctx context.Context, opts Options) (Sample, error)
}

// SampleOnce requests a single fix from l, applying opts.Timeout.
func SampleOnce(ctx context.Context, l Locator, opts Options) (Sample, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	s, err := l.Locate(ctx, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Sample{}, err
	}
	return s, nil
}

// Store holds a location that is set at most once and never cleared.
type Store struct {
	mu     sync.Mutex
	sample *Sample
}

// Set stores s if no location was set before, and reports whether it did.
func (st *Store) Set(s Sample) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sample != nil {
		return false
	}
	st.sample = &s
	return true
}

// Get returns the stored location, if any.
func (st *Store) Get() (Sample, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sample == nil {
		return Sample{}, false
	}
	return *st.sample, true
}

// Static is a Locator that always returns the same coordinates, e.g. for a
// camera mounted at a known place.
type Static struct {
	Latitude  float64
	Longitude float64
}

// Check that Static implements interface Locator.
var _ Locator = Static{}

// Locate returns the fixed coordinates.
func (s Static) Locate(ctx context.Context, opts Options) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	return Sample{Latitude: s.Latitude, Longitude: s.Longitude, Source: "static", At: time.Now()}, nil
}
