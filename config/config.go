// Package config loads the fieldcam configuration from YAML, with defaults,
// environment overrides and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/edgeimpulse/fieldcam-go/annotate"
	"github.com/edgeimpulse/fieldcam-go/geo"
	"github.com/edgeimpulse/fieldcam-go/image"
)

// Location sources.
const (
	LocationNone   = "none"
	LocationStatic = "static"
	LocationNMEA   = "nmea"
	LocationClient = "client" // Posted by the browser.
)

// Recorders that can be configured.
var Recorders = []string{"ffmpeg", "gstreamer", "imagesnap", "mediadevices"}

// ServerConfig is the HTTP server.
type ServerConfig struct {
	Addr         string `yaml:"addr"`          // e.g. ":8080"
	DisplayWidth int    `yaml:"display_width"` // width of the preview stream in pixels
}

// CameraConfig selects the recorder and camera.
type CameraConfig struct {
	Recorder   string `yaml:"recorder"`    // one of Recorders; empty picks one for the OS
	Device     string `yaml:"device"`      // initially selected device ID, optional
	FacingMode string `yaml:"facing_mode"` // "environment" or "user", used when no device is selected
	IntervalMs int    `yaml:"interval_ms"` // time between preview frames
	Verbose    bool   `yaml:"verbose"`
}

// LocationConfig selects where the location fix comes from.
type LocationConfig struct {
	Source    string  `yaml:"source"`     // none, static, nmea or client
	Device    string  `yaml:"device"`     // nmea: serial device or file, e.g. /dev/ttyACM0
	Latitude  float64 `yaml:"latitude"`   // static
	Longitude float64 `yaml:"longitude"`  // static
	TimeoutMs int     `yaml:"timeout_ms"` // maximum time to wait for a fix
}

// OverlayConfig is the text stamped onto captures. Zero or missing values
// take the defaults of annotate.DefaultStyle, except stroke_width, where 0
// turns the outline off.
type OverlayConfig struct {
	FontSize     float64 `yaml:"font_size"`
	StrokeWidth  *int    `yaml:"stroke_width"` // nil for the default
	MarginX      int     `yaml:"margin_x"`
	BottomOffset int     `yaml:"bottom_offset"`
	LineSpacing  int     `yaml:"line_spacing"`
	TimeLayout   string  `yaml:"time_layout"` // Go time layout
	Quality      int     `yaml:"quality"`     // JPEG quality 1-100
}

// GateConfig is the mobile gate.
type GateConfig struct {
	Markers []string `yaml:"markers"` // user agent substrings, matched case-insensitively
}

// Config aggregates all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Camera   CameraConfig   `yaml:"camera"`
	Location LocationConfig `yaml:"location"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Gate     GateConfig     `yaml:"gate"`
}

// DefaultMarkers are the user agent markers of mobile browsers.
var DefaultMarkers = []string{"Android", "iPhone", "iPad", "iPod"}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file and returns the configuration, with defaults
// applied and validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.DisplayWidth <= 0 {
		c.Server.DisplayWidth = 400
	}
	if c.Camera.FacingMode == "" {
		c.Camera.FacingMode = image.FacingEnvironment
	}
	if c.Camera.IntervalMs <= 0 {
		c.Camera.IntervalMs = 100
	}
	if c.Location.Source == "" {
		c.Location.Source = LocationNone
	}
	if c.Location.TimeoutMs <= 0 {
		c.Location.TimeoutMs = 10000
	}

	def := annotate.DefaultStyle()
	if c.Overlay.FontSize <= 0 {
		c.Overlay.FontSize = def.FontSize
	}
	if c.Overlay.MarginX <= 0 {
		c.Overlay.MarginX = def.MarginX
	}
	if c.Overlay.BottomOffset <= 0 {
		c.Overlay.BottomOffset = def.BottomOffset
	}
	if c.Overlay.LineSpacing <= 0 {
		c.Overlay.LineSpacing = def.LineSpacing
	}
	if c.Overlay.TimeLayout == "" {
		c.Overlay.TimeLayout = def.TimeLayout
	}
	if c.Overlay.Quality == 0 {
		c.Overlay.Quality = def.Quality
	}
	if len(c.Gate.Markers) == 0 {
		c.Gate.Markers = append([]string{}, DefaultMarkers...)
	}
}

// Validate checks the configuration for bad values.
func (c *Config) Validate() error {
	if c.Camera.Recorder != "" && !contains(Recorders, c.Camera.Recorder) {
		return fmt.Errorf("camera.recorder must be one of %s, got %q", strings.Join(Recorders, ", "), c.Camera.Recorder)
	}
	if c.Camera.FacingMode != image.FacingEnvironment && c.Camera.FacingMode != image.FacingUser {
		return fmt.Errorf("camera.facing_mode must be %q or %q, got %q", image.FacingEnvironment, image.FacingUser, c.Camera.FacingMode)
	}
	switch c.Location.Source {
	case LocationNone, LocationClient:
	case LocationStatic:
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
			return fmt.Errorf("location.latitude must be between -90 and 90, got %.5f", c.Location.Latitude)
		}
		if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			return fmt.Errorf("location.longitude must be between -180 and 180, got %.5f", c.Location.Longitude)
		}
	case LocationNMEA:
		if c.Location.Device == "" {
			return fmt.Errorf("location.device is required for source nmea")
		}
	default:
		return fmt.Errorf("location.source must be one of none, static, nmea, client, got %q", c.Location.Source)
	}
	if c.Overlay.StrokeWidth != nil && *c.Overlay.StrokeWidth < 0 {
		return fmt.Errorf("overlay.stroke_width must not be negative, got %d", *c.Overlay.StrokeWidth)
	}
	if c.Overlay.Quality < 1 || c.Overlay.Quality > 100 {
		return fmt.Errorf("overlay.quality must be between 1 and 100, got %d", c.Overlay.Quality)
	}
	if _, err := time.Parse(c.Overlay.TimeLayout, time.Now().Format(c.Overlay.TimeLayout)); err != nil {
		return fmt.Errorf("overlay.time_layout %q: %w", c.Overlay.TimeLayout, err)
	}
	return nil
}

func contains(l []string, s string) bool {
	for _, e := range l {
		if e == s {
			return true
		}
	}
	return false
}

// LoadEnv loads environment variables from a .env file, if it exists.
// Variables already set in the environment are not overridden.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides configuration from FIELDCAM_ADDR, FIELDCAM_RECORDER,
// FIELDCAM_DEVICE and FIELDCAM_LOCATION, looked up with lookup (typically
// os.LookupEnv), and validates the result.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("FIELDCAM_ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup("FIELDCAM_RECORDER"); ok && v != "" {
		c.Camera.Recorder = v
	}
	if v, ok := lookup("FIELDCAM_DEVICE"); ok && v != "" {
		c.Camera.Device = v
	}
	if v, ok := lookup("FIELDCAM_LOCATION"); ok && v != "" {
		c.Location.Source = v
	}
	return c.Validate()
}

// Interval returns the time between preview frames.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Camera.IntervalMs) * time.Millisecond
}

// LocateTimeout returns the maximum time to wait for a location fix.
func (c *Config) LocateTimeout() time.Duration {
	return time.Duration(c.Location.TimeoutMs) * time.Millisecond
}

// Style returns the overlay style.
func (c *Config) Style() annotate.Style {
	st := annotate.DefaultStyle()
	st.FontSize = c.Overlay.FontSize
	if sw := c.Overlay.StrokeWidth; sw != nil {
		st.StrokeWidth = *sw
		if *sw == 0 {
			st.StrokeWidth = annotate.NoStroke
		}
	}
	st.MarginX = c.Overlay.MarginX
	st.BottomOffset = c.Overlay.BottomOffset
	st.LineSpacing = c.Overlay.LineSpacing
	st.TimeLayout = c.Overlay.TimeLayout
	st.Quality = c.Overlay.Quality
	return st
}

// Locator returns the locator for the location source, nil for sources none
// and client.
func (c *Config) Locator() geo.Locator {
	switch c.Location.Source {
	case LocationStatic:
		return geo.Static{Latitude: c.Location.Latitude, Longitude: c.Location.Longitude}
	case LocationNMEA:
		return geo.NMEA{Path: c.Location.Device, Verbose: c.Camera.Verbose}
	}
	return nil
}
