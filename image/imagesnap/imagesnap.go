// Package imagesnap implements listing cameras and an image recorder with the
// imagesnap command for macOS.
package imagesnap

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

var errInstallHint = errors.New("executable not found, install with: brew install imagesnap")

// Source lists and records from cameras known to imagesnap.
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

// ListDevices returns all image capturing devices available to imagesnap.
// An empty list is not an error.
func ListDevices(ctx context.Context) ([]image.Device, error) {
	cmd := exec.CommandContext(ctx, "imagesnap", "-l")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices with imagesnap -l: %w", err)
	}
	return parseDevices(string(buf)), nil
}

func parseDevices(s string) []image.Device {
	devs := []image.Device{}
	for _, line := range strings.Split(s, "\n") {
		var name string
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "=> "):
			// Newer format, example: "=> FaceTime HD Camera (Built-in)"
			name = strings.TrimPrefix(line, "=> ")
		case strings.HasPrefix(line, "<"):
			// Older format, example: "<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>"
			t := strings.Split(line, "[")
			if len(t) < 2 {
				continue
			}
			name = strings.Split(t[1], "]")[0]
		default:
			continue
		}
		// Imagesnap selects devices by name, so the name is the ID.
		devs = append(devs, image.Device{
			ID:     name,
			Name:   name,
			Kind:   image.KindVideoInput,
			Facing: image.FacingFromLabel(name),
		})
	}
	return devs
}

// Recorder records images by starting imagesnap and configuring it to write
// images to temporary storage.
type Recorder struct {
	*filewatch.Dir

	// Device being recorded from.
	Device image.Device

	opts   image.RecorderOpts
	cancel context.CancelFunc
}

// Check that Recorder implements interface Recorder.
var _ image.Recorder = (*Recorder)(nil)

// NewRecorder creates a new recorder by starting imagesnap, making it write
// images to a temporary directory. These images are read and sent on the
// channel returned by Events.
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

	// Imagesnap takes an image per interval itself, it creates each file in
	// one go.
	r.Dir, err = filewatch.New(filewatch.Opts{
		Verbose: opts.Verbose,
		Ready:   func(ev fsnotify.Event) bool { return ev.Op&fsnotify.Create != 0 },
		Name:    "imagesnap",
	})
	if err != nil {
		return nil, err
	}

	args := []string{
		"-d", r.Device.ID,
		"-t", fmt.Sprintf("%.2f", opts.Interval.Seconds()),
	}

	if opts.Verbose {
		log.Printf("starting imagesnap with args %s", args)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "imagesnap", args...)
	cmd.Dir = r.Dir.Path
	if opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting imagesnap: %w", err)
	}
	go cmd.Wait()

	return r, nil
}

// Close shuts down the recorder, stopping the imagesnap process and removing
// the temporary directory.
func (r *Recorder) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Dir != nil {
		r.Dir.Close()
	}
	return nil
}
