package imagesnap

import (
	"reflect"
	"testing"

	"github.com/edgeimpulse/fieldcam-go/image"
)

func TestParseDevices(t *testing.T) {
	const imagesnap0 = `Video Devices:
<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>
<AVCaptureDALDevice: 0x7fa2c78512f0 [Studio Display Camera][0x4015000005ac1112]>
<AVCaptureDALDevice: 0x7fa2c784f4e0 [Cam Link 4K #5][0x2000000fd90066]>
`

	devs0 := parseDevices(imagesnap0)
	exp0 := []image.Device{
		{ID: "FaceTime HD Camera (Built-in)", Name: "FaceTime HD Camera (Built-in)", Kind: image.KindVideoInput, Facing: image.FacingUser},
		{ID: "Studio Display Camera", Name: "Studio Display Camera", Kind: image.KindVideoInput},
		{ID: "Cam Link 4K #5", Name: "Cam Link 4K #5", Kind: image.KindVideoInput},
	}
	if !reflect.DeepEqual(devs0, exp0) {
		t.Fatalf("imagesnap devices, got %v, expected %v", devs0, exp0)
	}

	const imagesnap1 = `Video Devices:
=> FaceTime HD Camera (Built-in)
=> iPhone Back Camera
`
	devs1 := parseDevices(imagesnap1)
	exp1 := []image.Device{
		{ID: "FaceTime HD Camera (Built-in)", Name: "FaceTime HD Camera (Built-in)", Kind: image.KindVideoInput, Facing: image.FacingUser},
		{ID: "iPhone Back Camera", Name: "iPhone Back Camera", Kind: image.KindVideoInput, Facing: image.FacingEnvironment},
	}
	if !reflect.DeepEqual(devs1, exp1) {
		t.Fatalf("imagesnap devices, got %v, expected %v", devs1, exp1)
	}

	if devs := parseDevices("Video Devices:\n"); len(devs) != 0 {
		t.Fatalf("no devices, got %v", devs)
	}
}
