// Package gstreamer implements listing cameras with gst-device-monitor, and
// an image recorder with the gstreamer tools.
package gstreamer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/edgeimpulse/fieldcam-go/image"
	"github.com/edgeimpulse/fieldcam-go/image/filewatch"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y gstreamer1.0-tools gstreamer1.0-plugins-good gstreamer1.0-plugins-base gstreamer1.0-plugins-base-apps")

// Source lists and records from cameras found by gst-device-monitor.
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

// Recorder is an image recorder using gstreamer.
type Recorder struct {
	*filewatch.Dir

	// Device being recorded from. Its first cap is the recorded size.
	Device image.Device

	opts   image.RecorderOpts
	cancel context.CancelFunc
}

// Check that Recorder implements interface Recorder.
var _ image.Recorder = (*Recorder)(nil)

// monitorEntry is one "Device found:" block of gst-device-monitor output.
type monitorEntry struct {
	path    string
	name    string
	class   string
	rawCaps []string
}

var (
	widthRegexp     = regexp.MustCompile("width=([0-9]+)[^0-9]")
	heightRegexp    = regexp.MustCompile("height=([0-9]+)[^0-9]")
	framerateRegexp = regexp.MustCompile("framerate=([0-9]+)[^0-9]")
)

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// field returns the value of a "key : value" or "key = value" line.
func field(s, sep string) string {
	return strings.TrimSpace(strings.SplitN(s, sep, 2)[1])
}

// ListDevices returns the cameras that can be used for recording, with their
// raw video caps ordered by closeness to 640x480. An empty list is not an
// error.
func ListDevices(ctx context.Context) ([]image.Device, error) {
	cmd := exec.CommandContext(ctx, "gst-device-monitor-1.0")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using gst-device-monitor-1.0: %w", err)
	}
	return parseDevices(buf)
}

func parseDevices(buf []byte) ([]image.Device, error) {
	var entries []monitorEntry
	var e *monitorEntry
	var inCaps bool
	b := bufio.NewScanner(bytes.NewReader(buf))
	for b.Scan() {
		s := strings.TrimSpace(b.Text())
		switch {
		case s == "":
		case s == "Device found:":
			if e != nil {
				entries = append(entries, *e)
			}
			e = &monitorEntry{}
			inCaps = false
		case e == nil:
		case strings.HasPrefix(s, "name  :"):
			e.name = field(s, ":")
		case strings.HasPrefix(s, "class :"):
			e.class = field(s, ":")
		case strings.HasPrefix(s, "caps  :"):
			e.rawCaps = append(e.rawCaps, field(s, ":"))
			inCaps = true
		case strings.HasPrefix(s, "properties:"):
			inCaps = false
		case inCaps:
			e.rawCaps = append(e.rawCaps, s)
		case strings.HasPrefix(s, "device.path ="):
			e.path = field(s, "=")
		}
	}
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("reading device monitor output: %w", err)
	}
	if e != nil {
		entries = append(entries, *e)
	}

	devs := []image.Device{}
	for _, e := range entries {
		if e.class != "Video/Source" || e.path == "" {
			continue
		}
		caps := parseCaps(e.rawCaps)
		if len(caps) == 0 {
			continue
		}
		devs = append(devs, image.Device{
			ID:     e.path,
			Name:   e.name,
			Kind:   image.KindVideoInput,
			Facing: image.FacingFromLabel(e.name),
			Caps:   caps,
		})
	}
	return devs, nil
}

// parseCaps returns the fixed-size raw video caps, closest to 640x480 first.
func parseCaps(rawCaps []string) []image.DeviceCap {
	caps := []image.DeviceCap{}
	for _, rc := range rawCaps {
		if !strings.HasPrefix(rc, "video/x-raw") {
			continue
		}
		var v [3]int
		ok := true
		for i, re := range []*regexp.Regexp{widthRegexp, heightRegexp, framerateRegexp} {
			m := re.FindStringSubmatch(rc)
			if m == nil {
				ok = false
				break
			}
			n, err := strconv.ParseInt(m[1], 10, 32)
			if err != nil || n == 0 {
				ok = false
				break
			}
			v[i] = int(n)
		}
		if ok {
			caps = append(caps, image.DeviceCap{Type: "video/x-raw", Width: v[0], Height: v[1], Framerate: v[2]})
		}
	}

	distance := func(a image.DeviceCap) int {
		return abs(a.Width-640)*abs(a.Height-480) + abs(a.Width-640) + abs(a.Height-480)
	}
	sort.SliceStable(caps, func(i, j int) bool {
		return distance(caps[i]) < distance(caps[j])
	})
	return caps
}

// NewRecorder creates a new recorder using gstreamer. Gstreamer writes images
// to a temporary directory. These files are read and sent over the channel
// returned by Events.
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
		Ready:    func(ev fsnotify.Event) bool { return ev.Op&fsnotify.Remove == 0 },
		Name:     "gstreamer",
	})
	if err != nil {
		return nil, err
	}

	caps := r.Device.Caps[0]
	args := []string{
		"v4l2src",
		"device=" + r.Device.ID,
		"!",
		fmt.Sprintf("video/x-raw,width=%d,height=%d", caps.Width, caps.Height),
		"!",
		"videorate",
		"!",
		fmt.Sprintf("video/x-raw,framerate=%d/1", opts.Framerate()),
		"!",
		"videoconvert",
		"!",
		"jpegenc",
		"!",
		"multifilesink",
		"location=" + r.Dir.Path + "/frame%05d.jpg",
	}

	if opts.Verbose {
		log.Printf("starting gstreamer as gst-launch-1.0 %s", strings.Join(args, " "))
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "gst-launch-1.0", args...)
	cmd.Dir = r.Dir.Path
	if opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting gstreamer with gst-launch-1.0: %w", err)
	}
	go cmd.Wait()

	return r, nil
}

// Close shuts down the recorder, stopping gstreamer and removing the temporary
// directory.
func (r *Recorder) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Dir != nil {
		r.Dir.Close()
	}
	return nil
}
