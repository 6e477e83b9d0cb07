package ffmpeg

import (
	"reflect"
	"testing"

	"github.com/edgeimpulse/fieldcam-go/image"
)

func TestParseDevices(t *testing.T) {
	const v4l2ctl = `bcm2835-codec-decode (platform:bcm2835-codec):
	/dev/video10
	/dev/video11
	/dev/video12

bcm2835-isp (platform:bcm2835-isp):
	/dev/video13
	/dev/video14

HD Pro Webcam C920 (usb-0000:01:00.0-1.2):
	/dev/video0
	/dev/video1
	/dev/media3

Rear Camera (usb-0000:01:00.0-1.3):
	/dev/video2
`

	devs := parseDevices(v4l2ctl)
	exp := []image.Device{
		{ID: "/dev/video0", Name: "HD Pro Webcam C920 (usb-0000:01:00.0-1.2) (/dev/video0)", Kind: image.KindVideoInput},
		{ID: "/dev/video1", Name: "HD Pro Webcam C920 (usb-0000:01:00.0-1.2) (/dev/video1)", Kind: image.KindVideoInput},
		{ID: "/dev/video2", Name: "Rear Camera (usb-0000:01:00.0-1.3) (/dev/video2)", Kind: image.KindVideoInput, Facing: image.FacingEnvironment},
	}
	if !reflect.DeepEqual(devs, exp) {
		t.Fatalf("v4l2-ctl devices, got %v, expected %v", devs, exp)
	}

	if devs := parseDevices(""); len(devs) != 0 {
		t.Fatalf("empty output, got %v, expected no devices", devs)
	}
}
