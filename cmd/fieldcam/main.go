// Command fieldcam serves the camera capture widget to mobile browsers on the
// local network.
//
// Examples:
//
//	# List available devices and quit.
//	fieldcam -listdevices
//
//	# Serve with default settings, or those from fieldcam.yaml if it exists.
//	fieldcam
//
//	# Serve on port 9000 using ffmpeg, starting with an explicit device.
//	fieldcam -addr :9000 -recorder ffmpeg -device /dev/video2 -verbose
//
// Settings can also come from the environment, or a .env file in the working
// directory: FIELDCAM_ADDR, FIELDCAM_RECORDER, FIELDCAM_DEVICE and
// FIELDCAM_LOCATION. Flags override both.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	fieldcam "github.com/edgeimpulse/fieldcam-go"
	"github.com/edgeimpulse/fieldcam-go/config"
	"github.com/edgeimpulse/fieldcam-go/image"
	"github.com/edgeimpulse/fieldcam-go/image/backend"
	"github.com/edgeimpulse/fieldcam-go/web"
)

var (
	configPath   string
	addr         string
	recorderType string
	deviceID     string
	listDevices  bool
	verbose      bool
)

func init() {
	flag.StringVar(&configPath, "config", "fieldcam.yaml", "yaml configuration file, optional if the default")
	flag.StringVar(&addr, "addr", "", "address to listen on, e.g. :8080")
	flag.StringVar(&recorderType, "recorder", "", "type of recorder to use: "+strings.Join(config.Recorders, ", ")+"; imagesnap on macOS and gstreamer elsewhere by default")
	flag.StringVar(&deviceID, "device", "", "device ID to select initially, by default the first device returned when listing devices")
	flag.BoolVar(&listDevices, "listdevices", false, "if set, lists devices and exits")
	flag.BoolVar(&verbose, "verbose", false, "print verbose output")
}

func usage() {
	log.Println("usage: fieldcam [flags]")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 0 {
		usage()
	}
	os.Exit(main0())
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		explicit := false
		flag.Visit(func(f *flag.Flag) {
			explicit = explicit || f.Name == "config"
		})
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if recorderType != "" {
		cfg.Camera.Recorder = recorderType
	}
	if deviceID != "" {
		cfg.Camera.Device = deviceID
	}
	if verbose {
		cfg.Camera.Verbose = true
	}
	return cfg, cfg.Validate()
}

func printDevices(devs []image.Device) {
	for i, dev := range devs {
		caps := ""
		if len(dev.Caps) > 0 {
			l := []string{}
			for _, c := range dev.Caps {
				l = append(l, fmt.Sprintf("%dx%d@%dfps", c.Width, c.Height, c.Framerate))
			}
			caps = fmt.Sprintf(" (caps: %s)", strings.Join(l, " "))
		}
		facing := ""
		if dev.Facing != "" {
			facing = ", facing " + dev.Facing
		}
		fmt.Printf("%s: %s%s%s\n", dev.ID, dev.Label(i), facing, caps)
	}
}

func main0() int {
	cfg, err := loadConfig()
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	src, err := backend.New(cfg.Camera.Recorder)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if listDevices {
		devs, err := src.ListDevices(ctx)
		if err != nil {
			log.Printf("listing devices: %v", err)
			return 1
		}
		printDevices(image.FilterVideo(devs))
		return 0
	}

	session, err := fieldcam.New(src, &fieldcam.Opts{
		Verbose:       cfg.Camera.Verbose,
		Interval:      cfg.Interval(),
		FacingMode:    cfg.Camera.FacingMode,
		DeviceID:      cfg.Camera.Device,
		Locator:       cfg.Locator(),
		LocateTimeout: cfg.LocateTimeout(),
		Style:         cfg.Style(),
	})
	if err != nil {
		log.Printf("new session: %v", err)
		return 1
	}
	defer session.Close()

	srv := web.NewServer(cfg.Server.Addr, session, web.Opts{
		DisplayWidth:   cfg.Server.DisplayWidth,
		LocationSource: cfg.Location.Source,
		Markers:        cfg.Gate.Markers,
	})
	if err := srv.Run(ctx); err != nil {
		log.Printf("web server: %v", err)
		return 1
	}
	return 0
}
