package fieldcam

import (
	"bytes"
	"context"
	"errors"
	stdimage "image"
	"image/jpeg"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/edgeimpulse/fieldcam-go/geo"
	"github.com/edgeimpulse/fieldcam-go/image"
)

type fakeRecorder struct {
	events chan image.Event

	mu     sync.Mutex
	closed bool
}

func (r *fakeRecorder) Events() chan image.Event {
	return r.events
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRecorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeSource struct {
	devs []image.Device
	err  error

	mu        sync.Mutex
	opened    []image.Constraints
	recorders []*fakeRecorder
}

func (f *fakeSource) ListDevices(ctx context.Context) ([]image.Device, error) {
	return f.devs, f.err
}

func (f *fakeSource) NewRecorder(opts image.RecorderOpts) (image.Recorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, opts.Constraints)
	r := &fakeRecorder{events: make(chan image.Event)}
	f.recorders = append(f.recorders, r)
	return r, nil
}

func (f *fakeSource) state() ([]image.Constraints, []*fakeRecorder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]image.Constraints{}, f.opened...), append([]*fakeRecorder{}, f.recorders...)
}

var testDevices = []image.Device{
	{ID: "cam1", Name: "Front", Kind: image.KindVideoInput},
	{ID: "mic1", Name: "Microphone", Kind: image.KindAudioInput},
	{ID: "cam2", Name: "Back", Kind: image.KindVideoInput},
}

func mount(t *testing.T, src image.Source, opts *Opts) *Session {
	t.Helper()
	s, err := New(src, opts)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	s.Mount(context.Background())
	select {
	case <-s.Mounted():
	case <-time.After(5 * time.Second):
		t.Fatalf("mount did not finish")
	}
	return s
}

func sendFrame(t *testing.T, s *Session, rec *fakeRecorder, img stdimage.Image) {
	t.Helper()
	p := s.Preview()
	if p == nil {
		t.Fatalf("no preview")
	}
	next := p.Next()
	rec.events <- image.Event{Image: img}
	select {
	case <-next:
	case <-time.After(5 * time.Second):
		t.Fatalf("frame not delivered")
	}
}

func TestMountSelectsFirst(t *testing.T) {
	src := &fakeSource{devs: testDevices}
	s := mount(t, src, nil)

	if sel := s.Selected(); sel != "cam1" {
		t.Fatalf("selected, got %q, expected cam1", sel)
	}
	devs := s.Devices()
	if len(devs) != 2 || devs[0].ID != "cam1" || devs[1].ID != "cam2" {
		t.Fatalf("devices, got %v, expected cam1 and cam2", devs)
	}
	opened, _ := src.state()
	exp := []image.Constraints{{DeviceID: "cam1", FacingMode: image.FacingEnvironment}}
	if !reflect.DeepEqual(opened, exp) {
		t.Fatalf("opened recorders, got %v, expected %v", opened, exp)
	}

	// Mounting again does nothing.
	s.Mount(context.Background())
	if opened, _ := src.state(); len(opened) != 1 {
		t.Fatalf("second mount opened recorders, got %v", opened)
	}
}

func TestMountKeepsSelection(t *testing.T) {
	src := &fakeSource{devs: testDevices}
	s := mount(t, src, &Opts{DeviceID: "cam2"})
	if sel := s.Selected(); sel != "cam2" {
		t.Fatalf("selected, got %q, expected cam2", sel)
	}

	s2 := mount(t, &fakeSource{devs: testDevices}, &Opts{DeviceID: "gone"})
	if sel := s2.Selected(); sel != "cam1" {
		t.Fatalf("selected after unknown initial device, got %q, expected cam1", sel)
	}
}

func TestMountEnumerationError(t *testing.T) {
	src := &fakeSource{err: errors.New("permission denied")}
	s := mount(t, src, nil)

	if devs := s.Devices(); len(devs) != 0 {
		t.Fatalf("devices after failed enumeration, got %v", devs)
	}
	if sel := s.Selected(); sel != "" {
		t.Fatalf("selected after failed enumeration, got %q", sel)
	}
	// The preview falls back to an environment facing camera.
	opened, _ := src.state()
	exp := []image.Constraints{{FacingMode: image.FacingEnvironment}}
	if !reflect.DeepEqual(opened, exp) {
		t.Fatalf("opened recorders, got %v, expected %v", opened, exp)
	}
}

func TestApplyDevices(t *testing.T) {
	s, err := New(&fakeSource{}, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	if sel := s.ApplyDevices([]image.Device{{ID: "cam1"}, {ID: "cam2"}}); sel != "cam1" {
		t.Fatalf("selection, got %q, expected cam1", sel)
	}
	if err := s.Select("cam2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel := s.ApplyDevices([]image.Device{{ID: "cam2"}, {ID: "cam3"}}); sel != "cam2" {
		t.Fatalf("selection after re-enumeration, got %q, expected cam2", sel)
	}
	if sel := s.ApplyDevices([]image.Device{{ID: "cam3"}}); sel != "cam3" {
		t.Fatalf("selection after removal, got %q, expected cam3", sel)
	}
	if sel := s.ApplyDevices(nil); sel != "" {
		t.Fatalf("selection without devices, got %q", sel)
	}
}

func TestSelect(t *testing.T) {
	src := &fakeSource{devs: testDevices}
	s := mount(t, src, nil)

	if err := s.Select("mic1"); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("selecting audio device, got %v, expected ErrUnknownDevice", err)
	}
	if sel := s.Selected(); sel != "cam1" {
		t.Fatalf("selection changed after error, got %q", sel)
	}

	if err := s.Select("cam2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	opened, recs := src.state()
	if len(opened) != 2 || opened[1].DeviceID != "cam2" {
		t.Fatalf("opened recorders, got %v, expected cam2 reopened", opened)
	}
	if !recs[0].isClosed() {
		t.Fatalf("previous recorder not closed on selection change")
	}
	if p := s.Preview(); p == nil || p.DeviceID != "cam2" {
		t.Fatalf("preview not on cam2")
	}

	// Selecting the same device keeps the preview.
	if err := s.Select("cam2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if opened, _ := src.state(); len(opened) != 2 {
		t.Fatalf("reselecting reopened the camera, got %v", opened)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !recs[1].isClosed() {
		t.Fatalf("recorder not closed on session close")
	}
	if err := s.Select("cam1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("select after close, got %v, expected ErrClosed", err)
	}
}

func TestCapture(t *testing.T) {
	src := &fakeSource{devs: testDevices}
	now := time.Date(2024, 3, 14, 21, 5, 7, 0, time.UTC)
	s := mount(t, src, &Opts{Now: func() time.Time { return now }})

	if _, err := s.Capture(context.Background()); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("capture without frame, got %v, expected ErrNoFrame", err)
	}
	if _, ok := s.Captured(); ok {
		t.Fatalf("capture stored without frame")
	}

	_, recs := src.state()
	sendFrame(t, s, recs[0], stdimage.NewNRGBA(stdimage.Rect(0, 0, 400, 300)))

	c1, err := s.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	expLines := []string{"Unknown, Unknown", "3/14/2024, 9:05:07 PM"}
	if !reflect.DeepEqual(c1.Lines, expLines) {
		t.Fatalf("lines, got %q, expected %q", c1.Lines, expLines)
	}
	if c1.Width != 400 || c1.Height != 300 || c1.DeviceID != "cam1" || c1.Location != nil {
		t.Fatalf("capture, got %dx%d from %q with location %v", c1.Width, c1.Height, c1.DeviceID, c1.Location)
	}
	img, err := jpeg.Decode(bytes.NewReader(c1.Data))
	if err != nil {
		t.Fatalf("decoding capture: %v", err)
	}
	if b := img.Bounds(); b != stdimage.Rect(0, 0, 400, 300) {
		t.Fatalf("capture bounds, got %v", b)
	}

	if err := s.SetLocation(geo.Sample{Latitude: 52.370216, Longitude: 4.895168, Source: "client"}); err != nil {
		t.Fatalf("set location: %v", err)
	}
	if err := s.SetLocation(geo.Sample{Latitude: 1, Longitude: 2}); !errors.Is(err, ErrLocationSet) {
		t.Fatalf("second set location, got %v, expected ErrLocationSet", err)
	}

	c2, err := s.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if c2.Lines[0] != "52.37022, 4.89517" {
		t.Fatalf("coordinates line, got %q", c2.Lines[0])
	}
	if c2.ID == c1.ID {
		t.Fatalf("captures share id %s", c2.ID)
	}
	last, ok := s.Captured()
	if !ok || last.ID != c2.ID {
		t.Fatalf("last capture, got %v, expected second capture", last.ID)
	}

	// A new preview without frames fails capture and keeps the last one.
	if err := s.Select("cam2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := s.Capture(context.Background()); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("capture on new preview, got %v, expected ErrNoFrame", err)
	}
	if last, ok := s.Captured(); !ok || last.ID != c2.ID {
		t.Fatalf("last capture changed after failed capture")
	}
}

func TestCaptureOverlay(t *testing.T) {
	src := &fakeSource{devs: testDevices}
	s := mount(t, src, nil)

	frame := stdimage.NewNRGBA(stdimage.Rect(0, 0, 400, 300))
	for i := range frame.Pix {
		frame.Pix[i] = 0x80
		if i%4 == 3 {
			frame.Pix[i] = 0xff
		}
	}
	_, recs := src.state()
	sendFrame(t, s, recs[0], frame)

	c, err := s.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(c.Data))
	if err != nil {
		t.Fatalf("decoding capture: %v", err)
	}

	// Lines are drawn on baselines 250 and 275 starting at x=20, white with a
	// black outline.
	count := func(r stdimage.Rectangle) (white, black int) {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				cr, cg, cb, _ := img.At(x, y).RGBA()
				switch {
				case cr > 0xe000 && cg > 0xe000 && cb > 0xe000:
					white++
				case cr < 0x2000 && cg < 0x2000 && cb < 0x2000:
					black++
				}
			}
		}
		return
	}
	if white, black := count(stdimage.Rect(15, 225, 400, 285)); white == 0 || black == 0 {
		t.Fatalf("expected outlined text above the bottom edge, got %d white and %d black pixels", white, black)
	}
	if white, black := count(stdimage.Rect(0, 0, 400, 150)); white != 0 || black != 0 {
		t.Fatalf("text drawn near the top, %d white and %d black pixels", white, black)
	}
	if white, black := count(stdimage.Rect(0, 0, 10, 300)); white != 0 || black != 0 {
		t.Fatalf("text drawn in the left margin, %d white and %d black pixels", white, black)
	}
}

func TestMountLocation(t *testing.T) {
	src := &fakeSource{devs: testDevices}
	s := mount(t, src, &Opts{Locator: geo.Static{Latitude: -33.94108, Longitude: 151.40928}})

	loc, ok := s.Location()
	if !ok || loc.Latitude != -33.94108 || loc.Source != "static" {
		t.Fatalf("location after mount, got %+v %v", loc, ok)
	}
	if err := s.SetLocation(geo.Sample{}); !errors.Is(err, ErrLocationSet) {
		t.Fatalf("set location after fix, got %v, expected ErrLocationSet", err)
	}
}
