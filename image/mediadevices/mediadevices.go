// Package mediadevices implements listing cameras and an image recorder
// in-process with github.com/pion/mediadevices, without external commands.
package mediadevices

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"

	// Registers the V4L2 (linux), AVFoundation (macOS) and DirectShow
	// (windows) camera drivers.
	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/edgeimpulse/fieldcam-go/image"
)

// Source lists and records from cameras registered with the mediadevices
// drivers.
type Source struct{}

// Check that Source implements interface Source.
var _ image.Source = Source{}

// ListDevices calls ListDevices.
func (Source) ListDevices(ctx context.Context) ([]image.Device, error) {
	return ListDevices(ctx)
}

// NewRecorder calls NewRecorder.
func (Source) NewRecorder(opts image.RecorderOpts) (image.Recorder, error) {
	r, err := NewRecorder(opts)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListDevices returns the video input devices known to the registered
// drivers.
func ListDevices(ctx context.Context) ([]image.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return image.FilterVideo(convertDevices(mediadevices.EnumerateDevices())), nil
}

func convertDevices(infos []mediadevices.MediaDeviceInfo) []image.Device {
	devs := make([]image.Device, 0, len(infos))
	for _, info := range infos {
		var kind image.Kind
		switch info.Kind {
		case mediadevices.VideoInput:
			kind = image.KindVideoInput
		case mediadevices.AudioInput:
			kind = image.KindAudioInput
		case mediadevices.AudioOutput:
			kind = image.KindAudioOutput
		default:
			continue
		}
		devs = append(devs, image.Device{
			ID:     info.DeviceID,
			Name:   info.Label,
			Kind:   kind,
			Facing: image.FacingFromLabel(info.Label),
		})
	}
	return devs
}

// Recorder reads frames from a mediadevices video track.
type Recorder struct {
	// Device being recorded from.
	Device image.Device

	opts        image.RecorderOpts
	imageEvents chan image.Event
	track       *mediadevices.VideoTrack
	stop        chan struct{}
	closeOnce   sync.Once
}

// Check that Recorder implements interface Recorder.
var _ image.Recorder = (*Recorder)(nil)

// Events returns a channel on which Events can be received.
func (r *Recorder) Events() chan image.Event {
	return r.imageEvents
}

// NewRecorder opens the camera selected by opts.Constraints and starts
// reading a frame every opts.Interval.
//
// Callers must call Close to clean up.
func NewRecorder(opts image.RecorderOpts) (recorder *Recorder, rerr error) {
	if opts.Interval <= 0 {
		opts.Interval = image.DefaultInterval
	}
	r := &Recorder{
		opts:        opts,
		imageEvents: make(chan image.Event),
		stop:        make(chan struct{}),
	}

	devs, err := ListDevices(context.Background())
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	r.Device, err = image.Resolve(devs, opts.Constraints)
	if err != nil {
		return nil, err
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.StringExact(r.Device.ID)
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening camera %s: %w", r.Device.ID, err)
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			for _, t := range stream.GetTracks() {
				t.Close()
			}
		}
	}()

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no video track in media stream")
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		return nil, fmt.Errorf("unexpected track type %T", tracks[0])
	}
	r.track = track

	if opts.Verbose {
		log.Printf("mediadevices recorder, reading from %s (%s)", r.Device.ID, r.Device.Name)
	}

	go r.read()

	return r, nil
}

func (r *Recorder) read() {
	reader := r.track.NewReader(false)
	var last time.Time
	for {
		img, release, err := reader.Read()
		select {
		case <-r.stop:
			if err == nil {
				release()
			}
			return
		default:
		}
		if err != nil {
			select {
			case r.imageEvents <- image.Event{Err: fmt.Errorf("reading frame: %w", err)}:
			case <-r.stop:
			}
			return
		}
		now := time.Now()
		if now.Sub(last) < r.opts.Interval*9/10 {
			release()
			continue
		}
		// The frame buffer is reused by the driver after release.
		frame := imaging.Clone(img)
		release()
		select {
		case r.imageEvents <- image.Event{Image: frame}:
			last = now
		default:
			if r.opts.Verbose {
				log.Printf("dropping image, preview still busy")
			}
		}
	}
}

// Close stops reading and closes the video track, releasing the camera.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stop)
		if r.track != nil {
			err = r.track.Close()
		}
	})
	return err
}
