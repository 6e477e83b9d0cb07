// Package filewatch turns JPEG files written by an external recorder command
// into image events. The ffmpeg, gstreamer and imagesnap recorders start
// their command with its working directory set to Dir.Path.
package filewatch

import (
	"fmt"
	"image/jpeg"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	fieldcam "github.com/edgeimpulse/fieldcam-go"
	"github.com/edgeimpulse/fieldcam-go/image"
)

// Opts are options for a watched directory.
type Opts struct {
	Verbose bool

	// Minimum time between two delivered images. Files arriving faster are
	// removed without decoding. Zero delivers every file.
	Interval time.Duration

	// Ready reports whether a file event means the file is complete. Only
	// events for files ending in .jpg are passed.
	Ready func(ev fsnotify.Event) bool

	// Name of the recorder, for logging.
	Name string
}

// Dir is a temporary directory watched for new JPEG files.
type Dir struct {
	// Path of the temporary directory.
	Path string

	opts    Opts
	events  chan image.Event
	watcher *fsnotify.Watcher
}

// Check that Dir implements interface Recorder.
var _ image.Recorder = (*Dir)(nil)

// New creates a temporary directory and starts watching it.
//
// Callers must call Close to clean up.
func New(opts Opts) (dir *Dir, rerr error) {
	d := &Dir{opts: opts, events: make(chan image.Event)}
	if d.opts.Ready == nil {
		d.opts.Ready = func(ev fsnotify.Event) bool { return ev.Op&fsnotify.Write != 0 }
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			d.Close()
		}
	}()

	tempDir, err := fieldcam.TempDir()
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %v", err)
	}
	d.Path = tempDir
	d.logf("%s recorder, writing images to tempdir %s", d.opts.Name, d.Path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}
	d.watcher = watcher

	go d.watch()

	if err := watcher.Add(d.Path); err != nil {
		return nil, fmt.Errorf("registering file change watcher for temp dir: %v", err)
	}
	return d, nil
}

func (d *Dir) logf(format string, args ...interface{}) {
	if d.opts.Verbose {
		log.Printf(format, args...)
	}
}

func (d *Dir) remove(name string) {
	if err := os.Remove(name); err != nil {
		d.logf("removing image %q: %v", name, err)
	}
}

func (d *Dir) watch() {
	var last time.Time
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".jpg") || !d.opts.Ready(ev) {
				continue
			}
			now := time.Now()
			if d.opts.Interval > 0 && now.Sub(last) < d.opts.Interval*9/10 {
				d.remove(ev.Name)
				continue
			}
			f, err := os.Open(ev.Name)
			if err != nil {
				d.logf("open written file %q: %v", ev.Name, err)
				continue
			}
			img, err := jpeg.Decode(f)
			f.Close()
			if err != nil {
				d.logf("decoding jpeg %q: %v (may be partially written)", ev.Name, err)
				continue
			}
			d.remove(ev.Name)
			select {
			case d.events <- image.Event{Image: img}:
				last = now
			default:
				d.logf("dropping image, preview still busy")
			}

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			select {
			case d.events <- image.Event{Err: fmt.Errorf("watching for changes: %v", err)}:
			default:
				log.Printf("%s recorder, watching for changes: %v", d.opts.Name, err)
			}
		}
	}
}

// Events returns a channel on which Events can be received.
func (d *Dir) Events() chan image.Event {
	return d.events
}

// Close stops watching and removes the temporary directory.
func (d *Dir) Close() error {
	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.Path != "" {
		os.RemoveAll(d.Path)
	}
	return nil
}
