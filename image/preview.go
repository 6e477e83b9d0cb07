// Package image implements listing cameras, fetching images from them, and
// keeping the most recent frame for display and capture.
package image

import (
	"image"
	"log"
	"sync"
)

// Preview receives images from a recorder and retains the latest one. It is
// the live view of a camera: callers take a Screenshot of whatever frame was
// most recently delivered.
type Preview struct {
	// ID of the device the recorder was opened on.
	DeviceID string

	recorder Recorder
	verbose  bool
	stop     chan struct{}
	done     chan struct{}

	mu     sync.Mutex
	latest image.Image
	seq    int64
	update chan struct{} // Closed and replaced for each new frame.
}

// PreviewOpts are options for a preview.
type PreviewOpts struct {
	Verbose  bool   // Print verbose logging.
	DeviceID string // Device the recorder was opened on, for logging and display.
}

// NewPreview starts consuming images from recorder.
//
// Callers must call Close, which also closes the recorder.
func NewPreview(recorder Recorder, opts *PreviewOpts) *Preview {
	var xopts PreviewOpts
	if opts != nil {
		xopts = *opts
	}

	p := &Preview{
		DeviceID: xopts.DeviceID,
		recorder: recorder,
		verbose:  xopts.Verbose,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		update:   make(chan struct{}),
	}

	imageEvents := recorder.Events()

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stop:
				return
			case iev, ok := <-imageEvents:
				if !ok {
					return
				}
				if iev.Err != nil {
					log.Printf("preview %s: %v", p.DeviceID, iev.Err)
					continue
				}
				p.mu.Lock()
				p.latest = iev.Image
				p.seq++
				close(p.update)
				p.update = make(chan struct{})
				if p.verbose && p.seq == 1 {
					log.Printf("preview %s: first frame, size %v", p.DeviceID, iev.Image.Bounds().Size())
				}
				p.mu.Unlock()
			}
		}
	}()

	return p
}

// Screenshot returns the most recent frame, or nil if no frame has arrived
// yet.
func (p *Preview) Screenshot() image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Latest returns the most recent frame with its sequence number, starting at
// 1. Before the first frame, it returns nil and 0.
func (p *Preview) Latest() (image.Image, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.seq
}

// Next returns a channel that is closed when a frame newer than the current
// one arrives.
func (p *Preview) Next() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.update
}

// Close stops the preview and closes its recorder, releasing the camera.
// Close is safe to call multiple times.
func (p *Preview) Close() error {
	p.mu.Lock()
	select {
	case <-p.stop:
		p.mu.Unlock()
		return nil
	default:
		close(p.stop)
	}
	p.mu.Unlock()
	err := p.recorder.Close()
	<-p.done
	return err
}
