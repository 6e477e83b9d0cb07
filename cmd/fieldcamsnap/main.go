// Command fieldcamsnap takes a single picture with a camera, stamps it with
// location and time, and writes it as JPEG.
//
// Examples:
//
//	# List available devices and quit.
//	fieldcamsnap -listdevices
//
//	# Take a picture with the default camera, location "Unknown".
//	fieldcamsnap out.jpg
//
//	# Take a picture at a known location with a specific camera.
//	fieldcamsnap -recorder ffmpeg -device /dev/video0 -lat 52.37022 -lon 4.89517 out.jpg
//
//	# Take a picture with the location from a GPS receiver.
//	fieldcamsnap -nmea /dev/ttyACM0 -wait 30s out.jpg
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	fieldcam "github.com/edgeimpulse/fieldcam-go"
	"github.com/edgeimpulse/fieldcam-go/annotate"
	"github.com/edgeimpulse/fieldcam-go/config"
	"github.com/edgeimpulse/fieldcam-go/geo"
	"github.com/edgeimpulse/fieldcam-go/image"
	"github.com/edgeimpulse/fieldcam-go/image/backend"
)

var (
	listDevices  bool
	recorderType string
	deviceID     string
	latitude     float64
	longitude    float64
	nmeaPath     string
	wait         time.Duration
	timeLayout   string
	verbose      bool
)

func init() {
	flag.BoolVar(&listDevices, "listdevices", false, "if set, lists devices and exits")
	flag.StringVar(&recorderType, "recorder", backend.Default(), "type of recorder to use: "+strings.Join(config.Recorders, ", "))
	flag.StringVar(&deviceID, "device", "", "device ID to use, by default an environment facing camera or the first device")
	flag.Float64Var(&latitude, "lat", 0, "latitude to stamp, requires -lon")
	flag.Float64Var(&longitude, "lon", 0, "longitude to stamp, requires -lat")
	flag.StringVar(&nmeaPath, "nmea", "", "if set, read the location from NMEA sentences in this file or serial device")
	flag.DurationVar(&wait, "wait", 5*time.Second, "maximum time to wait for a camera frame, and for a location fix")
	flag.StringVar(&timeLayout, "timelayout", annotate.DefaultTimeLayout, "go time layout for the timestamp")
	flag.BoolVar(&verbose, "verbose", false, "print verbose output")
}

func usage() {
	log.Println("usage: fieldcamsnap [flags] out.jpg")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	os.Exit(main0(args))
}

func locator() (geo.Locator, error) {
	var lat, lon bool
	flag.Visit(func(f *flag.Flag) {
		lat = lat || f.Name == "lat"
		lon = lon || f.Name == "lon"
	})
	switch {
	case lat != lon:
		return nil, fmt.Errorf("-lat and -lon must be used together")
	case lat && nmeaPath != "":
		return nil, fmt.Errorf("-lat/-lon and -nmea are mutually exclusive")
	case lat:
		return geo.Static{Latitude: latitude, Longitude: longitude}, nil
	case nmeaPath != "":
		return geo.NMEA{Path: nmeaPath, Verbose: verbose}, nil
	}
	return nil, nil
}

func main0(args []string) int {
	src, err := backend.New(recorderType)
	if err != nil {
		log.Printf("%v", err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if listDevices {
		devs, err := src.ListDevices(ctx)
		if err != nil {
			log.Printf("listing devices: %v", err)
			return 1
		}
		for i, dev := range image.FilterVideo(devs) {
			fmt.Printf("%s: %s\n", dev.ID, dev.Label(i))
		}
		return 0
	}

	if len(args) != 1 {
		usage()
	}

	loc, err := locator()
	if err != nil {
		log.Printf("%v", err)
		return 2
	}

	style := annotate.DefaultStyle()
	style.TimeLayout = timeLayout
	session, err := fieldcam.New(src, &fieldcam.Opts{
		Verbose:       verbose,
		DeviceID:      deviceID,
		Locator:       loc,
		LocateTimeout: wait,
		Style:         style,
	})
	if err != nil {
		log.Printf("new session: %v", err)
		return 1
	}
	defer session.Close()

	c, err := snap(ctx, session, deviceID, wait)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	if err := os.WriteFile(args[0], c.Data, 0o644); err != nil {
		log.Printf("writing image: %v", err)
		return 1
	}
	if verbose {
		log.Printf("wrote %dx%d image to %s: %s", c.Width, c.Height, args[0], strings.Join(c.Lines, " | "))
	}
	return 0
}

// snap mounts session, waits up to wait for a camera frame, and captures it.
// The location is sampled with its own timeout. If no fix arrives, the
// capture is stamped without one.
func snap(ctx context.Context, session *fieldcam.Session, deviceID string, wait time.Duration) (fieldcam.Capture, error) {
	session.Mount(ctx)

	frameCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := waitFrame(frameCtx, session); err != nil {
		return fieldcam.Capture{}, fmt.Errorf("waiting for camera: %w", err)
	}
	if deviceID != "" && session.Selected() != deviceID {
		return fieldcam.Capture{}, fmt.Errorf("device %q not found", deviceID)
	}

	select {
	case <-session.Mounted():
	case <-ctx.Done():
		return fieldcam.Capture{}, ctx.Err()
	}
	if _, ok := session.Location(); !ok {
		log.Printf("no location fix, stamping unknown location")
	}

	c, err := session.Capture(ctx)
	if err != nil {
		return fieldcam.Capture{}, fmt.Errorf("capture: %w", err)
	}
	return c, nil
}

// waitFrame waits until the preview has a frame. The preview is opened in
// the background by Mount.
func waitFrame(ctx context.Context, session *fieldcam.Session) error {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		var next <-chan struct{}
		if p := session.Preview(); p != nil {
			next = p.Next()
			if p.Screenshot() != nil {
				return nil
			}
		}
		select {
		case <-next:
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
