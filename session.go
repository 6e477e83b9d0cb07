// Package fieldcam is a camera capture service: it lists the cameras of the
// host, keeps a live preview of the selected one, samples the location once,
// and on request captures a still frame stamped with location and time.
package fieldcam

import (
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgeimpulse/fieldcam-go/annotate"
	"github.com/edgeimpulse/fieldcam-go/geo"
	"github.com/edgeimpulse/fieldcam-go/image"
)

var (
	// ErrUnknownDevice is returned by Select for a device that is not in the
	// current device list.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrNoFrame is returned by Capture when the preview has no frame yet.
	ErrNoFrame = errors.New("no preview frame available")

	// ErrLocationSet is returned by SetLocation when a location was already
	// set. The location is set at most once.
	ErrLocationSet = errors.New("location already set")

	// ErrClosed is returned for operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// Capture is the result of a successful capture: an annotated JPEG image.
type Capture struct {
	ID       uuid.UUID   `json:"id"`
	DeviceID string      `json:"device_id,omitempty"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	At       time.Time   `json:"at"`
	Lines    []string    `json:"lines"`
	Location *geo.Sample `json:"location,omitempty"`
	Data     []byte      `json:"-"`
}

// Opts are options for a session.
type Opts struct {
	Verbose bool

	// Interval between preview frames, see image.RecorderOpts.
	Interval time.Duration

	// Preferred facing mode when no device is selected, "environment" if
	// empty.
	FacingMode string

	// Initially selected device. It is kept after enumeration if present.
	DeviceID string

	// Source of a location fix, sampled once at mount. If nil, the location
	// can only be set with SetLocation.
	Locator       geo.Locator
	LocateTimeout time.Duration

	// Overlay style for captures. Zero fields take the values of
	// annotate.DefaultStyle.
	Style annotate.Style

	// Now returns the capture time. Defaults to time.Now.
	Now func() time.Time
}

// Session is the state of the capture widget: the device list and selection,
// the live preview, the location and the last capture. A Session is safe for
// concurrent use.
type Session struct {
	src       image.Source
	opts      Opts
	annotator *annotate.Annotator
	location  geo.Store

	mountOnce sync.Once
	mounted   chan struct{}
	cancel    context.CancelFunc

	// Serializes opening and closing previews, which can take a while.
	subMu sync.Mutex

	mu       sync.RWMutex
	devices  []image.Device
	selected string
	preview  *image.Preview
	captured *Capture
	closed   bool
}

// New returns a session using src for cameras. Nothing is enumerated or
// opened until Mount.
//
// Callers must call Close to release the camera.
func New(src image.Source, opts *Opts) (*Session, error) {
	var xopts Opts
	if opts != nil {
		xopts = *opts
	}
	if xopts.FacingMode == "" {
		xopts.FacingMode = image.FacingEnvironment
	}
	if xopts.Now == nil {
		xopts.Now = time.Now
	}
	a, err := annotate.NewAnnotator(xopts.Style)
	if err != nil {
		return nil, fmt.Errorf("making annotator: %v", err)
	}
	return &Session{
		src:       src,
		opts:      xopts,
		annotator: a,
		mounted:   make(chan struct{}),
		devices:   []image.Device{},
		selected:  xopts.DeviceID,
	}, nil
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.opts.Verbose {
		log.Printf(format, args...)
	}
}

// Mount starts the session: it enumerates devices and opens the preview, and
// requests a location fix, both in the background. Only the first call has
// effect. The channel returned by Mounted is closed when both are done.
func (s *Session) Mount(ctx context.Context) {
	s.mountOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := s.Refresh(ctx); err != nil {
				log.Printf("enumerating devices: %v", err)
				// The preview can still open a camera by facing mode.
				s.resubscribe()
			}
		}()
		go func() {
			defer wg.Done()
			s.sampleLocation(ctx)
		}()
		go func() {
			wg.Wait()
			close(s.mounted)
		}()
	})
}

// Mounted returns a channel that is closed when the background work started
// by Mount is done.
func (s *Session) Mounted() <-chan struct{} {
	return s.mounted
}

func (s *Session) sampleLocation(ctx context.Context) {
	if s.opts.Locator == nil {
		return
	}
	sample, err := geo.SampleOnce(ctx, s.opts.Locator, geo.Options{HighAccuracy: true, Timeout: s.opts.LocateTimeout})
	if err != nil {
		log.Printf("sampling location: %v", err)
		return
	}
	if !s.location.Set(sample) {
		s.logf("location was already set, ignoring %s fix", sample.Source)
		return
	}
	s.logf("location %.5f, %.5f from %s", sample.Latitude, sample.Longitude, sample.Source)
}

// Refresh enumerates the devices, publishes the video inputs as the device
// list and applies the default selection. If the selection changed, the
// preview is reopened. On error, the device list is left as it was.
func (s *Session) Refresh(ctx context.Context) error {
	devs, err := s.src.ListDevices(ctx)
	if err != nil {
		return err
	}
	s.ApplyDevices(image.FilterVideo(devs))
	s.resubscribe()
	return nil
}

// ApplyDevices replaces the device list and selects the default device, see
// image.SelectDefault. It returns the new selection.
func (s *Session) ApplyDevices(devs []image.Device) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = devs
	prev := s.selected
	s.selected = image.SelectDefault(devs, prev)
	if s.selected != prev {
		s.logf("selected device %q, was %q", s.selected, prev)
	}
	return s.selected
}

// Devices returns the current device list, in enumeration order.
func (s *Session) Devices() []image.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]image.Device{}, s.devices...)
}

// Selected returns the selected device ID, empty if none.
func (s *Session) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Select makes id the selected device and reopens the preview on it. The
// device must be in the current device list.
func (s *Session) Select(id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !image.Contains(s.devices, id) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}
	s.selected = id
	s.mu.Unlock()

	s.resubscribe()
	return nil
}

// resubscribe makes the preview match the selection: a preview on another
// device is closed, releasing its camera, and a new one is opened. Failures
// to open are logged, leaving no preview.
func (s *Session) resubscribe() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.RLock()
	selected := s.selected
	old := s.preview
	closed := s.closed
	s.mu.RUnlock()

	if closed || old != nil && old.DeviceID == selected {
		return
	}

	if old != nil {
		s.mu.Lock()
		s.preview = nil
		s.mu.Unlock()
		if err := old.Close(); err != nil {
			log.Printf("closing preview on %q: %v", old.DeviceID, err)
		}
	}

	rec, err := s.src.NewRecorder(image.RecorderOpts{
		Verbose:  s.opts.Verbose,
		Interval: s.opts.Interval,
		Constraints: image.Constraints{
			DeviceID:   selected,
			FacingMode: s.opts.FacingMode,
		},
	})
	if err != nil {
		log.Printf("opening camera %q: %v", selected, err)
		return
	}
	p := image.NewPreview(rec, &image.PreviewOpts{Verbose: s.opts.Verbose, DeviceID: selected})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		p.Close()
		return
	}
	s.preview = p
	s.mu.Unlock()
	s.logf("preview opened on %q", selected)
}

// Preview returns the live preview, or nil if no camera is open.
func (s *Session) Preview() *image.Preview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preview
}

// SetLocation stores a fix obtained elsewhere, e.g. by the browser. It fails
// with ErrLocationSet if a location is already known.
func (s *Session) SetLocation(sample geo.Sample) error {
	if sample.At.IsZero() {
		sample.At = s.opts.Now()
	}
	if !s.location.Set(sample) {
		return ErrLocationSet
	}
	s.logf("location %.5f, %.5f from %s", sample.Latitude, sample.Longitude, sample.Source)
	return nil
}

// Location returns the location, if known.
func (s *Session) Location() (geo.Sample, bool) {
	return s.location.Get()
}

// Capture takes the current preview frame, stamps it with the location (or
// "Unknown") and the current time, and stores the JPEG result as the last
// capture, replacing any earlier one. If no frame is available, Capture
// returns ErrNoFrame and the last capture is kept.
func (s *Session) Capture(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}

	s.mu.RLock()
	p := s.preview
	s.mu.RUnlock()

	var frame stdimage.Image
	if p != nil {
		frame = p.Screenshot()
	}
	if frame == nil {
		log.Printf("capture: %v", ErrNoFrame)
		return Capture{}, ErrNoFrame
	}

	at := s.opts.Now()
	var loc *geo.Sample
	if sample, ok := s.location.Get(); ok {
		loc = &sample
	}
	lines := annotate.Lines(loc, at, s.annotator.Style().TimeLayout)
	data, size, err := s.annotator.Annotate(frame, lines)
	if err != nil {
		return Capture{}, fmt.Errorf("annotating frame: %v", err)
	}

	c := Capture{
		ID:       uuid.New(),
		DeviceID: p.DeviceID,
		Width:    size.X,
		Height:   size.Y,
		At:       at,
		Lines:    lines,
		Location: loc,
		Data:     data,
	}
	s.mu.Lock()
	s.captured = &c
	s.mu.Unlock()
	s.logf("captured %dx%d image %s", c.Width, c.Height, c.ID)
	return c, nil
}

// Captured returns the last capture, if any.
func (s *Session) Captured() (Capture, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.captured == nil {
		return Capture{}, false
	}
	return *s.captured, true
}

// Close stops background work and closes the preview, releasing the camera.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	p := s.preview
	s.preview = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if p != nil {
		return p.Close()
	}
	return nil
}
