package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	fieldcam "github.com/edgeimpulse/fieldcam-go"
	"github.com/edgeimpulse/fieldcam-go/geo"
	"github.com/edgeimpulse/fieldcam-go/image"
)

// Opts configures the handlers.
type Opts struct {
	DisplayWidth   int      // Width of the preview stream, 400 if zero.
	LocationSource string   // "client" makes the page post the browser's location.
	Markers        []string // Mobile user agent markers.
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Session *fieldcam.Session
	Opts    Opts

	// Context for background work started by requests, i.e. mounting the
	// session. Defaults to context.Background.
	BaseContext context.Context

	staticFS fs.FS
}

// NewHandlers creates handlers serving session. Pages are read from
// staticFS.
func NewHandlers(session *fieldcam.Session, opts Opts, staticFS fs.FS) *Handlers {
	if opts.DisplayWidth <= 0 {
		opts.DisplayWidth = 400
	}
	return &Handlers{
		Session:     session,
		Opts:        opts,
		BaseContext: context.Background(),
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writing json response: %v", err)
	}
}

// ServeIndex serves the widget page and mounts the session on first load.
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.Session.Mount(h.BaseContext)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleHealth reports the server is up.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deviceJSON struct {
	image.Device
	Label string `json:"label"`
}

type devicesJSON struct {
	Devices  []deviceJSON `json:"devices"`
	Selected string       `json:"selected"`
}

func (h *Handlers) devices() devicesJSON {
	devs := h.Session.Devices()
	l := make([]deviceJSON, len(devs))
	for i, d := range devs {
		l[i] = deviceJSON{d, d.Label(i)}
	}
	return devicesJSON{l, h.Session.Selected()}
}

// HandleDevices returns the device list and the selected device.
func (h *Handlers) HandleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.devices())
}

// HandleRefresh enumerates devices again.
func (h *Handlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Refresh(r.Context()); err != nil {
		log.Printf("enumerating devices: %v", err)
		http.Error(w, "listing devices failed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.devices())
}

// HandleSelect selects a device, reopening the preview.
func (h *Handlers) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		http.Error(w, "invalid JSON, expected device_id", http.StatusBadRequest)
		return
	}
	if err := h.Session.Select(req.DeviceID); err != nil {
		if errors.Is(err, fieldcam.ErrUnknownDevice) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCapture captures and annotates the current frame.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	c, err := h.Session.Capture(r.Context())
	if err != nil {
		if errors.Is(err, fieldcam.ErrNoFrame) {
			http.Error(w, "no camera frame available yet", http.StatusServiceUnavailable)
			return
		}
		log.Printf("capture: %v", err)
		http.Error(w, "capture failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Location", "/api/capture.jpg")
	writeJSON(w, http.StatusCreated, c)
}

// HandleCaptureImage serves the last capture as JPEG.
func (h *Handlers) HandleCaptureImage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.Session.Captured()
	if !ok {
		http.Error(w, "nothing captured yet", http.StatusNotFound)
		return
	}
	etag := fmt.Sprintf(`"%s"`, c.ID)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="capture-%s.jpg"`, c.At.UTC().Format("20060102-150405")))
	w.Write(c.Data)
}

// HandleLocation stores a location fix from the browser.
func (h *Handlers) HandleLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Latitude == nil || req.Longitude == nil || *req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180 {
		http.Error(w, "latitude and longitude required, within -90..90 and -180..180", http.StatusBadRequest)
		return
	}
	s := geo.Sample{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Accuracy:  req.Accuracy,
		Source:    "client",
		At:        time.Now(),
	}
	if err := h.Session.SetLocation(s); err != nil {
		if errors.Is(err, fieldcam.ErrLocationSet) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

type stateJSON struct {
	Selected       string            `json:"selected"`
	Preview        bool              `json:"preview"`
	DisplayWidth   int               `json:"display_width"`
	LocationSource string            `json:"location_source"`
	Location       *geo.Sample       `json:"location,omitempty"`
	Capture        *fieldcam.Capture `json:"capture,omitempty"`
}

// HandleState returns the state of the session for the page.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	st := stateJSON{
		Selected:       h.Session.Selected(),
		Preview:        h.Session.Preview() != nil,
		DisplayWidth:   h.Opts.DisplayWidth,
		LocationSource: h.Opts.LocationSource,
	}
	if loc, ok := h.Session.Location(); ok {
		st.Location = &loc
	}
	if c, ok := h.Session.Captured(); ok {
		st.Capture = &c
	}
	writeJSON(w, http.StatusOK, st)
}

// previewQuality is the JPEG quality of preview stream frames.
const previewQuality = 80

// HandlePreview streams the live preview as MJPEG, scaled to the display
// width. The stream ends when the preview is replaced, e.g. after selecting
// another device.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	p := h.Session.Preview()
	if p == nil {
		http.Error(w, "no camera open", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	check := time.NewTicker(time.Second)
	defer check.Stop()

	var lastSeq int64
	for {
		next := p.Next()
		if img, seq := p.Latest(); img != nil && seq != lastSeq {
			lastSeq = seq
			if img.Bounds().Dx() != h.Opts.DisplayWidth {
				img = imaging.Resize(img, h.Opts.DisplayWidth, 0, imaging.Linear)
			}
			if _, err := fmt.Fprint(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
				return
			}
			if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(previewQuality)); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-next:
		case <-check.C:
			if h.Session.Preview() != p {
				return
			}
		}
	}
}
