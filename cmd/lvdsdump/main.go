// Command lvdsdump receives video frames over a serial port and logs
// them, optionally writing each frame out as a PGM image.
//
// Three source modes are supported:
//
//	cooked  USB bridge emitting pre-assembled frames (the default)
//	raw     USB bridge passing the LVDS byte stream through untouched
//	direct  the sensor's UART tapped directly, no bridge
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/lvdscan/internal/config"
	"github.com/banshee-data/lvdscan/internal/serialsource"
	"github.com/banshee-data/lvdscan/internal/version"
	"github.com/banshee-data/lvdscan/internal/video"
	"github.com/banshee-data/lvdscan/internal/video/cooked"
	"github.com/banshee-data/lvdscan/internal/video/lvds"
)

func main() {
	var (
		portPath    = flag.String("port", "", "serial port path (required)")
		mode        = flag.String("mode", "cooked", "source mode: cooked, raw, or direct")
		configPath  = flag.String("config", "", "JSON config file (optional)")
		variantName = flag.String("variant", "", "protocol variant: nichia or osram (overrides config)")
		frameLimit  = flag.Int("frames", 0, "stop after this many frames (0 = run until interrupted)")
		outDir      = flag.String("out", "", "write each frame as a PGM file into this directory")
	)
	flag.Parse()

	if *portPath == "" {
		fmt.Fprintln(os.Stderr, "-port is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Empty()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	v := cfg.GetVariant()
	if *variantName != "" {
		named, ok := video.VariantByName(*variantName)
		if !ok {
			log.Fatalf("unknown variant %q", *variantName)
		}
		v = named
	}

	opts := cfg.GetSerial()
	if *mode == "direct" {
		opts = serialsource.VariantOptions(v)
	}

	port, err := serialsource.Open(*portPath, opts)
	if err != nil {
		log.Fatalf("opening port: %v", err)
	}
	defer port.Close()

	var rx video.Receiver
	switch *mode {
	case "cooked":
		if err := setupBridge(port, v, true); err != nil {
			log.Fatalf("configuring bridge: %v", err)
		}
		rx = cooked.NewReceiver(cooked.DefaultMaxPixels)
	case "raw":
		if err := setupBridge(port, v, false); err != nil {
			log.Fatalf("configuring bridge: %v", err)
		}
		rx = lvds.NewReassembler(v)
	case "direct":
		rx = lvds.NewReassembler(v)
	default:
		log.Fatalf("unknown mode %q: expected cooked, raw, or direct", *mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go consumeFrames(ctx, stop, rx, *frameLimit, *outDir)

	log.Printf("lvdsdump %s: dumping %s frames from %s (mode %s)",
		version.String(), v.Name, *portPath, *mode)
	if err := serialsource.Pump(ctx, port, rx); err != nil {
		log.Fatalf("serial pump: %v", err)
	}

	c := rx.Counters()
	log.Printf("receiver: frames=%d sync_losses=%d crc_errors=%d parity_errors=%d dropped=%d bytes=%d",
		c.Frames, c.SyncLosses, c.CRCErrors, c.ParityErrors, c.DroppedFrames, c.Bytes)
}

// setupBridge selects the sensor and output mode on the USB bridge.
func setupBridge(port serialsource.SerialPorter, v video.Variant, cookedOut bool) error {
	if err := serialsource.SelectVariant(port, v); err != nil {
		return err
	}
	return serialsource.SetCooked(port, cookedOut)
}

// consumeFrames logs frames as they arrive and stops the pump once the
// frame limit is reached.
func consumeFrames(ctx context.Context, stop func(), rx video.Receiver, limit int, outDir string) {
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-rx.Frames():
			seen++
			log.Printf("frame %d: %dx%d rows=%d/%d crc_errors=%d",
				frame.FrameID, frame.Width, frame.Height,
				frame.RowsReceived, frame.RowsExpected, frame.Counters.CRCErrors)
			if outDir != "" {
				if err := writePGM(outDir, seen, frame); err != nil {
					log.Printf("writing frame %d: %v", frame.FrameID, err)
				}
			}
			if limit > 0 && seen >= limit {
				stop()
				return
			}
		}
	}
}

// writePGM writes a frame as a binary PGM (P5) grayscale image.
func writePGM(dir string, n int, frame video.Frame) error {
	path := filepath.Join(dir, fmt.Sprintf("frame_%06d.pgm", n))
	header := fmt.Sprintf("P5\n%d %d\n255\n", frame.Width, frame.Height)
	return os.WriteFile(path, append([]byte(header), frame.Pixels...), 0o644)
}
