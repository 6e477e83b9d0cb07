// Package web serves the capture widget to mobile browsers: the page, a
// JSON API over the session, and the live preview as MJPEG.
package web

import (
	"context"
	"io/fs"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	fieldcam "github.com/edgeimpulse/fieldcam-go"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server for session on the given address.
func NewServer(addr string, session *fieldcam.Session, opts Opts) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}
	return &Server{
		addr:     addr,
		handlers: NewHandlers(session, opts, subFS),
	}
}

// Router returns an http.Handler with all routes and middleware registered.
func (s *Server) Router() http.Handler {
	return NewRouter(s.handlers)
}

// NewRouter registers the routes of h behind request logging and the mobile
// gate.
func NewRouter(h *Handlers) http.Handler {
	desktop, err := fs.ReadFile(h.staticFS, "desktop.html")
	if err != nil {
		desktop = []byte(DesktopMessage)
	}

	router := mux.NewRouter()
	router.Use(RequestLogger)
	router.Use(MobileGate(h.Opts.Markers, desktop))

	router.HandleFunc("/", h.ServeIndex).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", h.HandleDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/refresh", h.HandleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/selection", h.HandleSelect).Methods(http.MethodPut)
	api.HandleFunc("/preview.mjpeg", h.HandlePreview).Methods(http.MethodGet)
	api.HandleFunc("/capture", h.HandleCapture).Methods(http.MethodPost)
	api.HandleFunc("/capture.jpg", h.HandleCaptureImage).Methods(http.MethodGet)
	api.HandleFunc("/location", h.HandleLocation).Methods(http.MethodPost)
	api.HandleFunc("/state", h.HandleState).Methods(http.MethodGet)

	return router
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully. The session is mounted with ctx on the first page load.
func (s *Server) Run(ctx context.Context) error {
	s.handlers.BaseContext = ctx
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Preview streams end when ctx is cancelled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
