// Package annotate burns location and time text into a captured frame and
// encodes the result as JPEG.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/edgeimpulse/fieldcam-go/geo"
)

// DefaultTimeLayout formats timestamps like "3/14/2024, 9:05:07 PM".
const DefaultTimeLayout = "1/2/2006, 3:04:05 PM"

// NoStroke as StrokeWidth draws the text without an outline.
const NoStroke = -1

// Style configures the text overlay and encoding. Zero fields take the
// values of DefaultStyle.
type Style struct {
	FontSize     float64 // Pixels.
	StrokeWidth  int     // Pixels, outline drawn around the text. NoStroke for none.
	MarginX      int     // Left edge of the text.
	BottomOffset int     // Distance from the bottom of the frame to the first baseline.
	LineSpacing  int     // Distance between baselines.
	TimeLayout   string  // Go time layout for the timestamp line.
	Quality      int     // JPEG quality, 1-100.
	Fill         color.Color
	Stroke       color.Color
}

// DefaultStyle returns white 20px text with a 3px black outline, starting at
// x=20, 50 pixels above the bottom, lines 25 pixels apart.
func DefaultStyle() Style {
	return Style{
		FontSize:     20,
		StrokeWidth:  3,
		MarginX:      20,
		BottomOffset: 50,
		LineSpacing:  25,
		TimeLayout:   DefaultTimeLayout,
		Quality:      92,
		Fill:         color.White,
		Stroke:       color.Black,
	}
}

// Placement is a line of text and the position of its baseline start.
type Placement struct {
	Text string
	X, Y int
}

// Layout positions lines inside bounds: all at MarginX from the left, the
// first baseline BottomOffset above the bottom edge, each next one
// LineSpacing lower.
func Layout(lines []string, bounds image.Rectangle, st Style) []Placement {
	l := make([]Placement, len(lines))
	for i, text := range lines {
		l[i] = Placement{
			Text: text,
			X:    bounds.Min.X + st.MarginX,
			Y:    bounds.Max.Y - st.BottomOffset + i*st.LineSpacing,
		}
	}
	return l
}

// Coordinates formats a location as "lat, lon" with 5 decimals. A missing
// component is written as "Unknown".
func Coordinates(lat, lon *float64) string {
	f := func(v *float64) string {
		if v == nil {
			return "Unknown"
		}
		return fmt.Sprintf("%.5f", *v)
	}
	return f(lat) + ", " + f(lon)
}

// Lines returns the overlay text: coordinates of s (nil if no location is
// known), and the time at formatted with layout.
func Lines(s *geo.Sample, at time.Time, layout string) []string {
	if layout == "" {
		layout = DefaultTimeLayout
	}
	var coords string
	if s == nil {
		coords = Coordinates(nil, nil)
	} else {
		coords = Coordinates(&s.Latitude, &s.Longitude)
	}
	return []string{coords, at.Format(layout)}
}

// Annotator draws text onto frames. It is safe for concurrent use.
type Annotator struct {
	style Style

	mu   sync.Mutex // Font faces cache glyphs and are not safe for concurrent use.
	face font.Face
}

// NewAnnotator returns an annotator drawing with the Go Regular font. Zero
// fields of st are set from DefaultStyle.
func NewAnnotator(st Style) (*Annotator, error) {
	def := DefaultStyle()
	if st.FontSize <= 0 {
		st.FontSize = def.FontSize
	}
	if st.StrokeWidth == 0 {
		st.StrokeWidth = def.StrokeWidth
	}
	if st.MarginX == 0 {
		st.MarginX = def.MarginX
	}
	if st.BottomOffset == 0 {
		st.BottomOffset = def.BottomOffset
	}
	if st.LineSpacing == 0 {
		st.LineSpacing = def.LineSpacing
	}
	if st.TimeLayout == "" {
		st.TimeLayout = def.TimeLayout
	}
	if st.Quality <= 0 || st.Quality > 100 {
		st.Quality = def.Quality
	}
	if st.Fill == nil {
		st.Fill = def.Fill
	}
	if st.Stroke == nil {
		st.Stroke = def.Stroke
	}

	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %v", err)
	}
	// At 72 DPI, points are pixels.
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    st.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("making font face: %v", err)
	}
	return &Annotator{style: st, face: face}, nil
}

// Style returns the style of the annotator, with defaults filled in.
func (a *Annotator) Style() Style {
	return a.style
}

// Draw copies frame into a new raster of the same size with its origin at
// (0,0), and draws lines onto it. The frame itself is not modified.
func (a *Annotator) Draw(frame image.Image, lines []string) *image.NRGBA {
	dst := imaging.Clone(frame)

	a.mu.Lock()
	defer a.mu.Unlock()

	stroke := image.NewUniform(a.style.Stroke)
	fill := image.NewUniform(a.style.Fill)
	r := float64(a.style.StrokeWidth) / 2
	ri := int(r)
	for _, p := range Layout(lines, dst.Bounds(), a.style) {
		if a.style.StrokeWidth > 0 {
			for dy := -ri; dy <= ri; dy++ {
				for dx := -ri; dx <= ri; dx++ {
					if float64(dx*dx+dy*dy) > r*r {
						continue
					}
					a.drawString(dst, stroke, p.X+dx, p.Y+dy, p.Text)
				}
			}
		}
		a.drawString(dst, fill, p.X, p.Y, p.Text)
	}
	return dst
}

func (a *Annotator) drawString(dst *image.NRGBA, src image.Image, x, y int, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  src,
		Face: a.face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// Encode writes img as JPEG with the quality of the style.
func (a *Annotator) Encode(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(a.style.Quality)); err != nil {
		return fmt.Errorf("encoding jpeg: %v", err)
	}
	return nil
}

// Annotate draws lines onto a copy of frame and returns it encoded as JPEG,
// along with the size of the image.
func (a *Annotator) Annotate(frame image.Image, lines []string) ([]byte, image.Point, error) {
	img := a.Draw(frame, lines)
	var buf bytes.Buffer
	if err := a.Encode(&buf, img); err != nil {
		return nil, image.Point{}, err
	}
	return buf.Bytes(), img.Bounds().Size(), nil
}
