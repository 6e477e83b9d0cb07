package geo

import (
	"context"
	"errors"
	"testing"
	"time"
)

type blockingLocator struct{}

func (blockingLocator) Locate(ctx context.Context, opts Options) (Sample, error) {
	<-ctx.Done()
	return Sample{}, ctx.Err()
}

type deniedLocator struct{}

func (deniedLocator) Locate(ctx context.Context, opts Options) (Sample, error) {
	return Sample{}, ErrPermissionDenied
}

func TestSampleOnce(t *testing.T) {
	ctx := context.Background()

	s, err := SampleOnce(ctx, Static{Latitude: 52.37022, Longitude: 4.89517}, Options{HighAccuracy: true})
	if err != nil {
		t.Fatalf("static locate: %v", err)
	}
	if s.Latitude != 52.37022 || s.Longitude != 4.89517 || s.Source != "static" {
		t.Fatalf("static sample, got %+v", s)
	}

	_, err = SampleOnce(ctx, blockingLocator{}, Options{Timeout: 10 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("blocking locator, got %v, expected ErrTimeout", err)
	}

	_, err = SampleOnce(ctx, deniedLocator{}, Options{Timeout: time.Second})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("denied locator, got %v, expected ErrPermissionDenied", err)
	}
}

func TestStore(t *testing.T) {
	var st Store
	if _, ok := st.Get(); ok {
		t.Fatalf("empty store has location")
	}
	if !st.Set(Sample{Latitude: 1, Longitude: 2}) {
		t.Fatalf("first set failed")
	}
	if st.Set(Sample{Latitude: 3, Longitude: 4}) {
		t.Fatalf("second set succeeded")
	}
	s, ok := st.Get()
	if !ok || s.Latitude != 1 || s.Longitude != 2 {
		t.Fatalf("stored location, got %+v %v, expected first sample", s, ok)
	}
}
