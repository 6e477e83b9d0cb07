package web

import (
	"log"
	"net/http"
	"strings"
	"time"
)

// DesktopMessage is shown to clients that are not recognized as mobile.
const DesktopMessage = "This camera tool is only available on mobile devices. Open this page on your phone or tablet."

// IsMobile reports whether the user agent contains one of markers,
// case-insensitively. It is a convenience for steering users, not access
// control: user agents are easily changed.
func IsMobile(userAgent string, markers []string) bool {
	ua := strings.ToLower(userAgent)
	for _, m := range markers {
		if m != "" && strings.Contains(ua, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// MobileGate only lets requests from mobile user agents through. Others get
// desktopPage for the index page, and a 403 with DesktopMessage for all other
// paths except /health. Gated requests never reach the session, so no
// camera or location is requested for them.
func MobileGate(markers []string, desktopPage []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || IsMobile(r.UserAgent(), markers) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Vary", "User-Agent")
			if r.URL.Path == "/" {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Write(desktopPage)
				return
			}
			http.Error(w, DesktopMessage, http.StatusForbidden)
		})
	}
}

// statusWriter records the status code of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush lets the preview stream through the logger.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestLogger logs each request with its status and duration.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		sw := &statusWriter{w, http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Printf("[%s]%s %d in %v from [IP:%s]", r.Method, r.RequestURI, sw.status, time.Since(t0).Round(time.Millisecond), r.RemoteAddr)
	})
}
