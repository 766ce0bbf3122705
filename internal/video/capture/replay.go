package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lvdscan/internal/video"
	"github.com/banshee-data/lvdscan/internal/video/ethframe"
)

const (
	// DefaultMaxWait clamps a single inter-packet wait so a long gap in
	// a sparse recording cannot stall replay for minutes.
	DefaultMaxWait = time.Second

	// DefaultMinWait is the threshold below which a delta is not worth
	// scheduling a timer for.
	DefaultMinWait = time.Millisecond

	// pauseCheckInterval bounds how long a wait can run between pause
	// and cancellation checks.
	pauseCheckInterval = 50 * time.Millisecond
)

// Config tunes a replay session.
type Config struct {
	// Variant selects the protocol geometry for chunk decoding.
	Variant video.Variant

	// SpeedMultiplier controls replay pacing (1.0 = real-time, 2.0 =
	// twice as fast). Values <= 0 default to 1.0.
	SpeedMultiplier float64

	// MaxWait clamps a single inter-packet wait; 0 means
	// DefaultMaxWait.
	MaxWait time.Duration

	// MinWait skips waits shorter than this; 0 means DefaultMinWait.
	MinWait time.Duration

	// Gate, when non-nil, pauses replay while closed. Cancellation is
	// carried by the context passed to Replay.
	Gate *Gate
}

func (c Config) withDefaults() Config {
	if c.SpeedMultiplier <= 0 {
		c.SpeedMultiplier = 1.0
	}
	if c.MaxWait == 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.MinWait == 0 {
		c.MinWait = DefaultMinWait
	}
	return c
}

// Summary describes a completed or cancelled replay session.
type Summary struct {
	SessionID string        // unique id for correlating logs
	Format    string        // "pcap" or "pcapng"
	Packets   int           // packets read from the container
	Matches   int           // packets that decoded as video transport
	Chunks    int           // chunks delivered downstream
	Frames    int           // chunks with the end-of-frame flag set
	Elapsed   time.Duration // wall-clock replay duration
}

// String renders the human-readable session summary.
func (s *Summary) String() string {
	return fmt.Sprintf("replay %s: format=%s packets=%d matches=%d chunks=%d frames=%d elapsed=%v",
		s.SessionID, s.Format, s.Packets, s.Matches, s.Chunks, s.Frames, s.Elapsed.Round(time.Millisecond))
}

// Gate is a pause signal for replay: Pause blocks forward progress at
// the next check point without losing any state; Resume releases it.
type Gate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

// NewGate returns a Gate in the running state.
func NewGate() *Gate {
	resumed := make(chan struct{})
	close(resumed)
	return &Gate{resumed: resumed}
}

// Pause blocks subsequent Wait calls until Resume.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.resumed = make(chan struct{})
	}
}

// Resume releases any goroutines blocked in Wait.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resumed)
	}
}

// Wait blocks while the gate is paused. It returns early with the
// context error on cancellation.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.resumed
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Replay reads the capture file at path and streams decoded chunks to
// out with pacing derived from the recorded timestamps. It returns the
// session summary in every case, alongside the error that ended the
// session: nil at end of file, the context error on cancellation, or a
// decode/resource error. The file handle is closed before return and a
// partially read packet is never emitted.
func Replay(ctx context.Context, path string, cfg Config, out chan<- video.LineChunk) (*Summary, error) {
	cfg = cfg.withDefaults()
	summary := &Summary{SessionID: uuid.NewString()}
	start := time.Now()
	defer func() { summary.Elapsed = time.Since(start) }()

	f, err := os.Open(path)
	if err != nil {
		return summary, fmt.Errorf("capture: opening %s: %w", path, err)
	}
	defer f.Close()

	reader, format, err := openReader(bufio.NewReaderSize(f, 64<<10))
	if err != nil {
		return summary, err
	}
	summary.Format = format

	prevMicros := int64(-1)
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if cfg.Gate != nil {
			if err := cfg.Gate.Wait(ctx); err != nil {
				return summary, err
			}
		}

		rec, err := reader.next()
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			return summary, err
		}
		summary.Packets++

		if rec.TimestampMicros >= 0 {
			if prevMicros >= 0 {
				if err := cfg.waitDelta(ctx, rec.TimestampMicros-prevMicros); err != nil {
					return summary, err
				}
			}
			prevMicros = rec.TimestampMicros
		}

		chunk, ok := ethframe.Decode(rec.Data, cfg.Variant)
		if !ok {
			continue // expected: most captured traffic is not the protocol
		}
		summary.Matches++

		select {
		case out <- chunk:
			summary.Chunks++
			if chunk.EndOfFrame {
				summary.Frames++
			}
		case <-ctx.Done():
			return summary, ctx.Err()
		}
	}
}

// waitDelta sleeps for the scaled inter-packet gap, clamped to MaxWait
// and skipped below MinWait. The wait is sliced so cancellation and
// pausing are observed promptly even across long gaps.
func (c Config) waitDelta(ctx context.Context, deltaMicros int64) error {
	if deltaMicros <= 0 {
		return nil
	}
	wait := time.Duration(float64(deltaMicros) * float64(time.Microsecond) / c.SpeedMultiplier)
	if wait < c.MinWait {
		return nil
	}
	if wait > c.MaxWait {
		wait = c.MaxWait
	}

	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		slice := remaining
		if slice > pauseCheckInterval {
			slice = pauseCheckInterval
		}

		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if c.Gate != nil {
			if err := c.Gate.Wait(ctx); err != nil {
				return err
			}
		}
	}
}
