// Package chunkasm reassembles complete video frames from decoded
// Ethernet line chunks.
//
// The Ethernet transport is lossy and unordered in principle, so the
// assembler mirrors the serial reassembler's boundary inference at chunk
// granularity: an explicit end-of-frame flag, a change of the sender's
// frame counter, a repeated line, or full row coverage all complete the
// frame under accumulation. Anomalies degrade to diagnostic counters and
// never stop output.
package chunkasm

import (
	"sync"

	"github.com/banshee-data/lvdscan/internal/monitoring"
	"github.com/banshee-data/lvdscan/internal/video"
)

// gapLogLimit caps per-session sequence-gap logging; past the limit only
// the counter moves.
const gapLogLimit = 5

// frameChannelDepth buffers emitted frames so a slow consumer does not
// stall Add. Overflow increments Counters.DroppedFrames.
const frameChannelDepth = 8

// Assembler accumulates line chunks into complete frames. Add must be
// driven by a single producer goroutine; the Frames channel may be
// drained elsewhere.
type Assembler struct {
	variant video.Variant

	framebuf  []byte // Width*ActiveHeight accumulation buffer
	lineSeen  []bool
	linesSeen int

	frameID   uint32 // sender's frame counter for the current cycle
	haveFrame bool
	lastSeq   uint32
	haveSeq   bool

	mu        sync.Mutex
	counters  video.Counters
	gapLogged int

	frames chan video.Frame
}

// New creates an assembler for the given protocol variant.
func New(v video.Variant) *Assembler {
	return &Assembler{
		variant:  v,
		framebuf: make([]byte, v.ActivePixels()),
		lineSeen: make([]bool, v.ActiveHeight),
		frames:   make(chan video.Frame, frameChannelDepth),
	}
}

// Frames returns the frame delivery channel.
func (a *Assembler) Frames() <-chan video.Frame { return a.frames }

// Counters returns a snapshot of the diagnostic counters.
func (a *Assembler) Counters() video.Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

// Reset clears all accumulation and diagnostic state. Configuration is
// preserved.
func (a *Assembler) Reset() {
	a.linesSeen = 0
	for i := range a.lineSeen {
		a.lineSeen[i] = false
	}
	for i := range a.framebuf {
		a.framebuf[i] = 0
	}
	a.haveFrame = false
	a.haveSeq = false

	// Undelivered frames carry counter snapshots from before the reset;
	// flush them so consumers only ever see post-reset state.
	for {
		select {
		case <-a.frames:
		default:
			a.mu.Lock()
			a.counters = video.Counters{}
			a.gapLogged = 0
			a.mu.Unlock()
			return
		}
	}
}

// Add places one chunk's rows into the accumulation buffer and emits any
// frame completions before returning.
func (a *Assembler) Add(chunk video.LineChunk) {
	a.mu.Lock()
	a.counters.Bytes += uint64(len(chunk.Payload))
	a.mu.Unlock()

	if !a.accept(chunk) {
		a.mu.Lock()
		a.counters.SyncLosses++
		a.mu.Unlock()
		return
	}

	// The sender's frame counter moving on is a boundary even when the
	// end-of-frame chunk itself was lost.
	if a.haveFrame && chunk.FrameID != a.frameID && a.linesSeen > 0 {
		a.emitFrame()
	}
	a.frameID = chunk.FrameID
	a.haveFrame = true

	a.noteSequence(chunk.Sequence)

	for i := 0; i < chunk.LinesInChunk; i++ {
		idx := chunk.LineNumber - 1 + i
		// Wrap-around boundary: a repeated line means a new frame has
		// begun; emit before the repeat overwrites the old row.
		if a.lineSeen[idx] && a.linesSeen > 0 {
			a.emitFrame()
		}
		copy(a.framebuf[idx*a.variant.Width:], chunk.Payload[i*a.variant.Width:(i+1)*a.variant.Width])
		if !a.lineSeen[idx] {
			a.lineSeen[idx] = true
			a.linesSeen++
		}
	}

	if chunk.EndOfFrame || a.linesSeen == a.variant.ActiveHeight {
		a.emitFrame()
	}
}

// accept rejects chunks whose geometry does not match the configured
// variant. The Ethernet decoder never produces these, but chunks can
// also arrive from replayed captures of a different sensor.
func (a *Assembler) accept(chunk video.LineChunk) bool {
	if chunk.Width != a.variant.Width || chunk.LinesInChunk <= 0 {
		return false
	}
	if chunk.LineNumber < 1 || chunk.LineNumber-1+chunk.LinesInChunk > a.variant.ActiveHeight {
		return false
	}
	return len(chunk.Payload) >= chunk.Width*chunk.LinesInChunk
}

// noteSequence tracks the 16-bit send counter to surface transport loss.
// Gaps are diagnostic only: the missing lines simply stay stale.
func (a *Assembler) noteSequence(seq uint32) {
	if a.haveSeq {
		if want := (a.lastSeq + 1) & 0xFFFF; seq != want {
			a.mu.Lock()
			a.counters.SyncLosses++
			if a.gapLogged < gapLogLimit {
				a.gapLogged++
				monitoring.Logf("chunkasm: sequence gap: got %d, want %d (%d/%d logged this session)",
					seq, want, a.gapLogged, gapLogLimit)
			}
			a.mu.Unlock()
		}
	}
	a.lastSeq = seq
	a.haveSeq = true
}

// emitFrame copies the accumulation buffer into a fresh Frame and clears
// the per-line state for the next cycle.
func (a *Assembler) emitFrame() {
	if a.linesSeen == 0 {
		return
	}

	pixels := make([]byte, len(a.framebuf))
	copy(pixels, a.framebuf)

	a.mu.Lock()
	a.counters.Frames++
	snapshot := a.counters
	a.mu.Unlock()

	frame := video.Frame{
		Pixels:       pixels,
		Width:        a.variant.Width,
		Height:       a.variant.ActiveHeight,
		FrameID:      a.frameID,
		RowsReceived: a.linesSeen,
		RowsExpected: a.variant.ActiveHeight,
		Counters:     snapshot,
	}

	for i := range a.lineSeen {
		a.lineSeen[i] = false
	}
	a.linesSeen = 0

	select {
	case a.frames <- frame:
	default:
		a.mu.Lock()
		a.counters.DroppedFrames++
		a.mu.Unlock()
		monitoring.Logf("chunkasm: dropped frame %d: delivery channel full", a.frameID)
	}
}
