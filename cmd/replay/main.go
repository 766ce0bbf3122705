// Command replay feeds a recorded packet capture through the chunk
// decoder and frame assembler, pacing packets like the original capture.
//
// Both classic pcap and pcapng containers are accepted; the format is
// sniffed from the file. With -iface, packets come from a live network
// interface instead (requires a binary built with -tags=pcap).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/lvdscan/internal/config"
	"github.com/banshee-data/lvdscan/internal/monitoring"
	"github.com/banshee-data/lvdscan/internal/version"
	"github.com/banshee-data/lvdscan/internal/video"
	"github.com/banshee-data/lvdscan/internal/video/capture"
	"github.com/banshee-data/lvdscan/internal/video/chunkasm"
	"github.com/banshee-data/lvdscan/internal/video/livecap"
)

func main() {
	var (
		file        = flag.String("file", "", "capture file to replay (pcap or pcapng)")
		iface       = flag.String("iface", "", "capture live from this interface instead of a file")
		configPath  = flag.String("config", "", "JSON config file (optional)")
		variantName = flag.String("variant", "", "protocol variant: nichia or osram (overrides config)")
		speed       = flag.Float64("speed", 0, "replay speed multiplier (overrides config; 1.0 = real-time)")
		verbose     = flag.Bool("verbose", false, "log every assembled frame")
	)
	flag.Parse()

	if (*file == "") == (*iface == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -file or -iface is required")
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

	replayCfg := capture.Config{
		Variant:         v,
		SpeedMultiplier: cfg.GetSpeedMultiplier(),
		MaxWait:         cfg.GetMaxWait(),
		MinWait:         cfg.GetMinWait(),
	}
	if *speed > 0 {
		replayCfg.SpeedMultiplier = *speed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("replay %s", version.String())

	asm := chunkasm.New(v)
	chunks := make(chan video.LineChunk, 64)

	// The assembler runs off the replay goroutine's back pressure:
	// frames are drained after every chunk so the delivery channel
	// never overflows.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range chunks {
			asm.Add(chunk)
			drainFrames(asm, *verbose)
		}
		drainFrames(asm, *verbose)
	}()

	var err error
	if *iface != "" {
		err = livecap.Capture(ctx, *iface, v, chunks)
	} else {
		var summary *capture.Summary
		summary, err = capture.Replay(ctx, *file, replayCfg, chunks)
		if summary != nil {
			monitoring.Logf("%s", summary)
		}
	}
	close(chunks)
	<-done

	if err != nil && ctx.Err() == nil {
		log.Fatalf("replay: %v", err)
	}

	c := asm.Counters()
	log.Printf("assembler: frames=%d sync_losses=%d dropped=%d bytes=%d",
		c.Frames, c.SyncLosses, c.DroppedFrames, c.Bytes)
}

// drainFrames consumes any frames the assembler has emitted so far.
func drainFrames(asm *chunkasm.Assembler, verbose bool) {
	for {
		select {
		case frame := <-asm.Frames():
			if verbose {
				log.Printf("frame %d: %dx%d rows=%d/%d sync_losses=%d",
					frame.FrameID, frame.Width, frame.Height,
					frame.RowsReceived, frame.RowsExpected, frame.Counters.SyncLosses)
			}
		default:
			return
		}
	}
}
