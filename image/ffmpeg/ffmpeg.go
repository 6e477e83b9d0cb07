// Package ffmpeg implements listing V4L2 cameras with v4l2-ctl, and an image
// recorder with ffmpeg.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/edgeimpulse/fieldcam-go/image"
	"github.com/edgeimpulse/fieldcam-go/image/filewatch"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y ffmpeg v4l-utils")

// Source lists and records from V4L2 cameras.
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

// Recorder is an image recorder using ffmpeg.
type Recorder struct {
	*filewatch.Dir

	// Device being recorded from.
	Device image.Device

	opts   image.RecorderOpts
	cancel context.CancelFunc
}

// Check that Recorder implements interface Recorder.
var _ image.Recorder = (*Recorder)(nil)

// ListDevices returns the cameras that can be used for recording. An empty
// list is not an error.
func ListDevices(ctx context.Context) ([]image.Device, error) {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--list-devices")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using v4l2-ctl: %w", err)
	}
	return parseDevices(string(buf)), nil
}

func parseDevices(s string) []image.Device {
	var curDevice string
	devices := []image.Device{}
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(line, "\t") {
			curDevice = strings.TrimSuffix(strings.TrimSpace(line), ":")
			continue
		}
		// Skip the Raspberry Pi codec and ISP nodes.
		if curDevice == "" || strings.HasPrefix(curDevice, "bcm2835-") {
			continue
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/dev/video") {
			continue
		}
		devices = append(devices, image.Device{
			ID:     line,
			Name:   fmt.Sprintf("%s (%s)", curDevice, line),
			Kind:   image.KindVideoInput,
			Facing: image.FacingFromLabel(curDevice),
		})
	}
	return devices
}

// NewRecorder creates a new recorder using ffmpeg. Ffmpeg writes images to a
// temporary directory. These files are read and sent over the channel returned
// by Events.
//
// Callers must call Close to clean up.
func NewRecorder(opts image.RecorderOpts) (recorder *Recorder, rerr error) {
	if opts.Interval <= 0 {
		opts.Interval = image.DefaultInterval
	}
	r := &Recorder{opts: opts}

	devs, err := ListDevices(context.Background())
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	r.Device, err = image.Resolve(devs, opts.Constraints)
	if err != nil {
		return nil, err
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			r.Close()
		}
	}()

	r.Dir, err = filewatch.New(filewatch.Opts{
		Verbose:  opts.Verbose,
		Interval: opts.Interval,
		Ready:    func(ev fsnotify.Event) bool { return ev.Op&fsnotify.Write != 0 },
		Name:     "ffmpeg",
	})
	if err != nil {
		return nil, err
	}

	args := []string{
		"-framerate", fmt.Sprintf("%d", opts.Framerate()),
		"-video_size", "640x480",
		"-c:v", "mjpeg",
		"-i", r.Device.ID,
		"-f", "image2",
		"-c:v", "copy",
		"-bsf:v", "mjpeg2jpeg",
		"-qscale:v", "2",
		"frame%d.jpg",
	}

	if opts.Verbose {
		log.Printf("starting ffmpeg with args %s", args)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	ffmpeg := exec.CommandContext(ctx, "ffmpeg", args...)
	ffmpeg.Dir = r.Dir.Path
	if opts.Verbose {
		ffmpeg.Stdout = os.Stdout
		ffmpeg.Stderr = os.Stderr
	}
	if err := ffmpeg.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting command ffmpeg: %w", err)
	}
	go ffmpeg.Wait()

	return r, nil
}

// Close shuts down the recorder, stopping ffmpeg and removing the temporary directory.
func (r *Recorder) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Dir != nil {
		r.Dir.Close()
	}
	return nil
}
