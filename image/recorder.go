package image

import (
	"context"
	"errors"
	"image"
	"time"
)

// DefaultInterval is used when RecorderOpts.Interval is not set.
const DefaultInterval = 100 * time.Millisecond

var (
	// ErrNoDevices is returned when a recorder is requested but the host has no
	// video input devices.
	ErrNoDevices = errors.New("no video input devices")

	// ErrNoMatchingDevice is returned when Constraints ask for an exact device
	// that is not present.
	ErrNoMatchingDevice = errors.New("no device matches constraints")
)

// Recorder is a source of images, for example a webcam.
type Recorder interface {
	// Events returns a channel from which ImageEvents can be read, each containing an image.
	Events() chan Event

	// Close shuts down the image recorder, releasing the camera. No further
	// Events will be sent.
	Close() error
}

// Event is a single image (or error) coming from a Recorder.
type Event struct {
	// If set, an error occurred.
	Err error

	// Image read from recorder. If Err is set, Image is not valid.
	Image image.Image
}

// Constraints select the camera a recorder opens. A non-empty DeviceID must
// match exactly. Otherwise a camera with the given FacingMode is preferred,
// falling back to the first camera.
type Constraints struct {
	DeviceID   string
	FacingMode string
}

// RecorderOpts has options for opening a recorder.
type RecorderOpts struct {
	Verbose     bool
	Interval    time.Duration // How often to record an image. DefaultInterval if zero.
	Constraints Constraints
}

// Framerate returns the number of images per second for the interval, at
// least 1.
func (o RecorderOpts) Framerate() int {
	iv := o.Interval
	if iv <= 0 {
		iv = DefaultInterval
	}
	fps := int(time.Second / iv)
	if fps < 1 {
		fps = 1
	}
	return fps
}

// Source is a host capability that can list cameras and open recorders on
// them. Each recorder package (ffmpeg, gstreamer, imagesnap, mediadevices)
// has a Source.
type Source interface {
	// ListDevices returns the available video input devices, in host order.
	ListDevices(ctx context.Context) ([]Device, error)

	// NewRecorder starts recording from the camera selected by
	// opts.Constraints. Callers must call Close on the returned Recorder.
	NewRecorder(opts RecorderOpts) (Recorder, error)
}

// Resolve returns the device from devs that satisfies c.
func Resolve(devs []Device, c Constraints) (Device, error) {
	if c.DeviceID != "" {
		for _, d := range devs {
			if d.ID == c.DeviceID {
				return d, nil
			}
		}
		return Device{}, ErrNoMatchingDevice
	}
	if len(devs) == 0 {
		return Device{}, ErrNoDevices
	}
	facing := c.FacingMode
	if facing == "" {
		facing = FacingEnvironment
	}
	for _, d := range devs {
		f := d.Facing
		if f == "" {
			f = FacingFromLabel(d.Name)
		}
		if f == facing {
			return d, nil
		}
	}
	return devs[0], nil
}
