package main

import (
	"context"
	"errors"
	stdimage "image"
	"testing"
	"time"

	fieldcam "github.com/edgeimpulse/fieldcam-go"
	"github.com/edgeimpulse/fieldcam-go/geo"
	"github.com/edgeimpulse/fieldcam-go/image"
)

type frameRecorder struct {
	events chan image.Event
}

func (r *frameRecorder) Events() chan image.Event { return r.events }
func (r *frameRecorder) Close() error             { return nil }

// frameSource opens recorders that deliver a single frame, or none.
type frameSource struct {
	frames bool
}

func (s frameSource) ListDevices(ctx context.Context) ([]image.Device, error) {
	return []image.Device{{ID: "cam1", Name: "Back", Kind: image.KindVideoInput}}, nil
}

func (s frameSource) NewRecorder(opts image.RecorderOpts) (image.Recorder, error) {
	r := &frameRecorder{events: make(chan image.Event, 1)}
	if s.frames {
		r.events <- image.Event{Image: stdimage.NewNRGBA(stdimage.Rect(0, 0, 320, 240))}
	}
	return r, nil
}

// silentLocator never gets a fix.
type silentLocator struct{}

func (silentLocator) Locate(ctx context.Context, opts geo.Options) (geo.Sample, error) {
	<-ctx.Done()
	return geo.Sample{}, ctx.Err()
}

func newSession(t *testing.T, src image.Source, loc geo.Locator, timeout time.Duration) *fieldcam.Session {
	t.Helper()
	s, err := fieldcam.New(src, &fieldcam.Opts{Locator: loc, LocateTimeout: timeout})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapWithoutFix(t *testing.T) {
	s := newSession(t, frameSource{frames: true}, silentLocator{}, 200*time.Millisecond)

	c, err := snap(context.Background(), s, "", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("snap, got %v, expected capture without location", err)
	}
	if c.Lines[0] != "Unknown, Unknown" || c.Location != nil {
		t.Fatalf("capture lines, got %q", c.Lines)
	}
	if c.Width != 320 || c.Height != 240 {
		t.Fatalf("capture size, got %dx%d", c.Width, c.Height)
	}
}

func TestSnapWithFix(t *testing.T) {
	s := newSession(t, frameSource{frames: true}, geo.Static{Latitude: 52.37022, Longitude: 4.89517}, time.Second)

	c, err := snap(context.Background(), s, "cam1", time.Second)
	if err != nil {
		t.Fatalf("snap: %v", err)
	}
	if c.Lines[0] != "52.37022, 4.89517" {
		t.Fatalf("coordinates line, got %q", c.Lines[0])
	}
}

func TestSnapNoFrame(t *testing.T) {
	s := newSession(t, frameSource{}, nil, 0)

	_, err := snap(context.Background(), s, "", 100*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("snap without frames, got %v, expected deadline exceeded", err)
	}
}

func TestSnapUnknownDevice(t *testing.T) {
	s := newSession(t, frameSource{frames: true}, nil, 0)

	if _, err := snap(context.Background(), s, "cam9", time.Second); err == nil {
		t.Fatalf("expected error for missing device")
	}
}
