package geo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// Rough user equivalent range error in metres, multiplied with HDOP to
// estimate accuracy.
const uere = 5.0

// NMEA is a Locator reading NMEA 0183 sentences from a GPS receiver, for
// example a serial device such as /dev/ttyACM0, or a file.
type NMEA struct {
	Path    string
	Verbose bool
}

// Check that NMEA implements interface Locator.
var _ Locator = NMEA{}

// Locate opens Path and returns the first valid fix read from it.
func (n NMEA) Locate(ctx context.Context, opts Options) (Sample, error) {
	f, err := os.Open(n.Path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return Sample{}, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		default:
			return Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	type result struct {
		s   Sample
		err error
	}
	c := make(chan result, 1)
	go func() {
		s, err := ReadFix(f, n.Verbose)
		c <- result{s, err}
	}()

	select {
	case r := <-c:
		f.Close()
		return r.s, r.err
	case <-ctx.Done():
		// Closing unblocks the reading goroutine, which sends on the buffered
		// channel and exits.
		f.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Sample{}, fmt.Errorf("%w: no fix from %s", ErrTimeout, n.Path)
		}
		return Sample{}, ctx.Err()
	}
}

// ReadFix reads NMEA sentences from r until it finds a valid RMC or GGA
// fix. Other sentences and lines that do not parse are skipped.
func ReadFix(r io.Reader, verbose bool) (Sample, error) {
	b := bufio.NewScanner(r)
	for b.Scan() {
		line := strings.TrimSpace(b.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		s, err := nmea.Parse(line)
		if err != nil {
			if verbose {
				log.Printf("nmea: skipping %q: %v", line, err)
			}
			continue
		}
		switch m := s.(type) {
		case nmea.RMC:
			if m.Validity != nmea.ValidRMC {
				continue
			}
			return Sample{Latitude: m.Latitude, Longitude: m.Longitude, Source: "nmea", At: time.Now()}, nil
		case nmea.GGA:
			if m.FixQuality == nmea.Invalid {
				continue
			}
			return Sample{
				Latitude:  m.Latitude,
				Longitude: m.Longitude,
				Accuracy:  m.HDOP * uere,
				Source:    "nmea",
				At:        time.Now(),
			}, nil
		}
	}
	if err := b.Err(); err != nil {
		return Sample{}, fmt.Errorf("%w: reading nmea: %v", ErrUnavailable, err)
	}
	return Sample{}, fmt.Errorf("%w: no valid fix in nmea input", ErrUnavailable)
}
