// Package backend selects an image.Source by recorder name.
package backend

import (
	"fmt"
	"runtime"

	"github.com/edgeimpulse/fieldcam-go/image"
	"github.com/edgeimpulse/fieldcam-go/image/ffmpeg"
	"github.com/edgeimpulse/fieldcam-go/image/gstreamer"
	"github.com/edgeimpulse/fieldcam-go/image/imagesnap"
	"github.com/edgeimpulse/fieldcam-go/image/mediadevices"
)

// Default returns the recorder used when none is configured: imagesnap on
// macOS, gstreamer elsewhere.
func Default() string {
	if runtime.GOOS == "darwin" {
		return "imagesnap"
	}
	return "gstreamer"
}

// New returns the source for a recorder name. An empty name selects Default.
func New(name string) (image.Source, error) {
	if name == "" {
		name = Default()
	}
	switch name {
	case "ffmpeg":
		return ffmpeg.Source{}, nil
	case "gstreamer":
		return gstreamer.Source{}, nil
	case "imagesnap":
		return imagesnap.Source{}, nil
	case "mediadevices":
		return mediadevices.Source{}, nil
	}
	return nil, fmt.Errorf("unknown recorder type %q", name)
}
