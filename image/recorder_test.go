package image

import (
	"errors"
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	devs := []Device{
		{ID: "front", Name: "Front Camera"},
		{ID: "usb", Name: "USB Camera"},
		{ID: "back", Name: "Back Camera"},
	}

	check := func(devs []Device, c Constraints, expID string, expErr error) {
		t.Helper()
		d, err := Resolve(devs, c)
		if !errors.Is(err, expErr) {
			t.Fatalf("resolve %+v, got error %v, expected %v", c, err, expErr)
		}
		if d.ID != expID {
			t.Fatalf("resolve %+v, got device %q, expected %q", c, d.ID, expID)
		}
	}

	check(devs, Constraints{DeviceID: "usb"}, "usb", nil)
	check(devs, Constraints{DeviceID: "usb", FacingMode: FacingEnvironment}, "usb", nil)
	check(devs, Constraints{DeviceID: "missing"}, "", ErrNoMatchingDevice)
	check(devs, Constraints{}, "back", nil)
	check(devs, Constraints{FacingMode: FacingUser}, "front", nil)
	check(devs[:2], Constraints{FacingMode: FacingEnvironment}, "front", nil)
	check(nil, Constraints{}, "", ErrNoDevices)
	check(nil, Constraints{DeviceID: "usb"}, "", ErrNoMatchingDevice)

	// An explicit facing mode wins over the label.
	check([]Device{{ID: "a", Name: "Back"}, {ID: "b", Facing: FacingEnvironment}}, Constraints{}, "a", nil)
	check([]Device{{ID: "a", Name: "Back", Facing: FacingUser}, {ID: "b", Facing: FacingEnvironment}}, Constraints{}, "b", nil)
}

func TestFramerate(t *testing.T) {
	tests := []struct {
		interval time.Duration
		exp      int
	}{
		{0, 10},
		{100 * time.Millisecond, 10},
		{time.Second / 30, 30},
		{2 * time.Second, 1},
	}
	for _, tc := range tests {
		if got := (RecorderOpts{Interval: tc.interval}).Framerate(); got != tc.exp {
			t.Errorf("framerate for %v, got %d, expected %d", tc.interval, got, tc.exp)
		}
	}
}
