package image

import (
	"strconv"
	"strings"
)

// Kind is the kind of a media device.
type Kind string

// Kinds of media devices. Only video inputs can be recorded from.
const (
	KindVideoInput  Kind = "videoinput"
	KindAudioInput  Kind = "audioinput"
	KindAudioOutput Kind = "audiooutput"
)

// Facing modes, as used in Constraints.
const (
	FacingEnvironment = "environment" // Pointing away from the user, "rear" camera.
	FacingUser        = "user"        // Pointing at the user, "selfie" camera.
)

// DeviceCap describes a capability of a device.
type DeviceCap struct {
	Type      string `json:"type,omitempty"` // "video/x-raw", "image/jpeg" or "nvarguscamerasrc"
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Framerate int    `json:"framerate"`
}

// Device is a media device as reported by the host. ID is opaque and stable
// for a physical camera while the process runs. Name is a human-readable
// label and may be empty.
type Device struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Kind   Kind        `json:"kind"`
	Facing string      `json:"facing,omitempty"`
	Caps   []DeviceCap `json:"caps,omitempty"`
}

// Label returns the name to show for the device at index i in a list,
// falling back to "Camera <i+1>" for devices without a name.
func (d Device) Label(i int) string {
	if d.Name != "" {
		return d.Name
	}
	return "Camera " + strconv.Itoa(i+1)
}

// FilterVideo returns the video input devices of devs, in their original
// order.
func FilterVideo(devs []Device) []Device {
	r := []Device{}
	for _, d := range devs {
		if d.Kind == KindVideoInput {
			r = append(r, d)
		}
	}
	return r
}

// SelectDefault returns the device ID to select after devs was enumerated
// while current was selected. A current selection that is still present is
// kept. Otherwise the first device is selected, or none if devs is empty.
func SelectDefault(devs []Device, current string) string {
	if current != "" && Contains(devs, current) {
		return current
	}
	if len(devs) == 0 {
		return ""
	}
	return devs[0].ID
}

// Contains returns whether devs has a device with the given ID.
func Contains(devs []Device, id string) bool {
	for _, d := range devs {
		if d.ID == id {
			return true
		}
	}
	return false
}

var facingWords = []struct {
	word   string
	facing string
}{
	{"environment", FacingEnvironment},
	{"back", FacingEnvironment},
	{"rear", FacingEnvironment},
	{"world", FacingEnvironment},
	{"front", FacingUser},
	{"user", FacingUser},
	{"selfie", FacingUser},
	{"facetime", FacingUser},
}

// FacingFromLabel guesses the facing mode of a camera from its label.
// It returns the empty string if the label gives no hint.
func FacingFromLabel(label string) string {
	l := strings.ToLower(label)
	for _, fw := range facingWords {
		if strings.Contains(l, fw.word) {
			return fw.facing
		}
	}
	return ""
}
