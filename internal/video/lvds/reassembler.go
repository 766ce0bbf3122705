// Package lvds reassembles complete video frames from the raw byte
// stream of an LVDS serial link.
//
// The link carries fixed-size line packets with no inter-frame marker:
//
//	[0x5D] [row] [Width pixel bytes] [CRC trailer]
//
// Frame boundaries are inferred from row repetition: seeing a row a
// second time before every row arrived once means a new frame has begun,
// so the accumulated buffer is emitted before the repeat overwrites it.
// A malfunctioning link must never stop video output, so every anomaly
// degrades to a diagnostic counter and the state machine resynchronises
// on its own.
package lvds

import (
	"math/bits"
	"sync"

	"github.com/banshee-data/lvdscan/internal/monitoring"
	"github.com/banshee-data/lvdscan/internal/vcrc"
	"github.com/banshee-data/lvdscan/internal/video"
)

// crcErrorLogLimit caps per-session CRC mismatch logging; past the limit
// only the counter moves.
const crcErrorLogLimit = 5

// frameChannelDepth buffers emitted frames so a slow consumer does not
// stall Push. Overflow increments Counters.DroppedFrames.
const frameChannelDepth = 8

type parseState int

const (
	waitSync parseState = iota
	readRowByte
	readPixels
	readCrc
)

// Reassembler converts the unstructured LVDS byte stream into complete
// frames. It implements video.Receiver. Push must be driven by a single
// producer goroutine; the Frames channel may be drained elsewhere.
type Reassembler struct {
	variant video.Variant

	state   parseState
	row     int
	line    []byte // scratch pixel accumulation, reused across lines
	linePos int
	crcBuf  [4]byte
	crcPos  int

	framebuf []byte // Width*TotalHeight accumulation buffer
	rowSeen  []bool
	rowsSeen int
	frameID  uint32

	mu        sync.Mutex
	counters  video.Counters
	crcLogged int

	frames chan video.Frame
}

// NewReassembler creates a reassembler for the given protocol variant.
func NewReassembler(v video.Variant) *Reassembler {
	return &Reassembler{
		variant:  v,
		line:     make([]byte, v.Width),
		framebuf: make([]byte, v.Width*v.TotalHeight),
		rowSeen:  make([]bool, v.TotalHeight),
		frames:   make(chan video.Frame, frameChannelDepth),
	}
}

// Frames returns the frame delivery channel.
func (r *Reassembler) Frames() <-chan video.Frame { return r.frames }

// Counters returns a snapshot of the diagnostic counters.
func (r *Reassembler) Counters() video.Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// Reset returns to the sync-scanning state, clears all partial-line and
// per-row state, and zeroes the diagnostic counters.
func (r *Reassembler) Reset() {
	r.state = waitSync
	r.linePos = 0
	r.crcPos = 0
	r.rowsSeen = 0
	for i := range r.rowSeen {
		r.rowSeen[i] = false
	}
	for i := range r.framebuf {
		r.framebuf[i] = 0
	}
	r.frameID = 0

	// Undelivered frames carry counter snapshots from before the reset;
	// flush them so consumers only ever see post-reset state.
	for {
		select {
		case <-r.frames:
		default:
			r.mu.Lock()
			r.counters = video.Counters{}
			r.crcLogged = 0
			r.mu.Unlock()
			return
		}
	}
}

// Push feeds raw link bytes through the parser. It is synchronous and
// bounded: each byte advances the state machine at most once, and any
// frame completions are delivered before Push returns.
func (r *Reassembler) Push(data []byte) {
	r.mu.Lock()
	r.counters.Bytes += uint64(len(data))
	r.mu.Unlock()

	for _, b := range data {
		switch r.state {
		case waitSync:
			// Cold scan. Non-sync bytes here are normal inter-line
			// idle traffic, not an error.
			if b == video.SyncByte {
				r.state = readRowByte
			}

		case readRowByte:
			if b == video.SyncByte {
				// A second 0x5D in a row: the previous one was noise
				// (or gap filler). Count the slip and keep waiting for
				// the real row byte.
				r.countSyncLoss()
				continue
			}
			row, parityOK := decodeRow(b, r.variant.ParityRow)
			if !parityOK {
				r.mu.Lock()
				r.counters.ParityErrors++
				r.mu.Unlock()
			}
			if row < 0 || row >= r.variant.TotalHeight {
				// Row address out of range: untrustworthy alignment.
				r.countSyncLoss()
				r.state = waitSync
				continue
			}
			r.row = row
			r.linePos = 0
			r.state = readPixels

		case readPixels:
			r.line[r.linePos] = b
			r.linePos++
			if r.linePos == r.variant.Width {
				r.crcPos = 0
				r.state = readCrc
			}

		case readCrc:
			r.crcBuf[r.crcPos] = b
			r.crcPos++
			if r.crcPos == r.variant.CRCLength {
				r.placeLine()
				r.state = waitSync
			}
		}
	}
}

// decodeRow extracts the row index from the row-address byte. For the
// parity-tagged encoding the low 7 bits are the index and bit 7 makes
// the whole byte odd parity; parityOK is always true for the raw
// encoding.
func decodeRow(b byte, parityRow bool) (row int, parityOK bool) {
	if !parityRow {
		return int(b), true
	}
	return int(b & 0x7F), bits.OnesCount8(b)%2 == 1
}

// encodeRow produces the on-wire row-address byte for row. Exposed for
// tests and synthetic stream generation.
func encodeRow(row int, parityRow bool) byte {
	b := byte(row)
	if !parityRow {
		return b
	}
	b &= 0x7F
	if bits.OnesCount8(b)%2 == 0 {
		b |= 0x80
	}
	return b
}

// placeLine verifies the CRC trailer (diagnostic only: the pixel data is
// placed regardless, since CRC failures are rare link noise and must not
// stall output), handles frame-boundary inference, and copies the line
// into the accumulation buffer.
func (r *Reassembler) placeLine() {
	if !r.verifyLineCRC() {
		r.mu.Lock()
		r.counters.CRCErrors++
		if r.crcLogged < crcErrorLogLimit {
			r.crcLogged++
			monitoring.Logf("lvds: CRC mismatch on row %d (%d/%d logged this session)",
				r.row, r.crcLogged, crcErrorLogLimit)
		}
		r.mu.Unlock()
	}

	// Wrap-around boundary: this row was already received in the
	// current cycle, so the previous frame is done. Emit it before the
	// new data overwrites the old row.
	if r.rowSeen[r.row] && r.rowsSeen > 0 {
		r.emitFrame()
	}

	copy(r.framebuf[r.row*r.variant.Width:], r.line[:r.variant.Width])
	if !r.rowSeen[r.row] {
		r.rowSeen[r.row] = true
		r.rowsSeen++
	}

	// Full coverage: every row arrived at least once, no need to wait
	// for a repeat.
	if r.rowsSeen == r.variant.TotalHeight {
		r.emitFrame()
	}
}

func (r *Reassembler) verifyLineCRC() bool {
	pixels := r.line[:r.variant.Width]
	switch r.variant.CRCLength {
	case 2:
		// CRC-16 trailer is transmitted big-endian.
		expected := uint16(r.crcBuf[0])<<8 | uint16(r.crcBuf[1])
		return vcrc.Verify16(pixels, expected)
	case 4:
		// CRC-32 trailer is transmitted little-endian.
		expected := uint32(r.crcBuf[0]) | uint32(r.crcBuf[1])<<8 |
			uint32(r.crcBuf[2])<<16 | uint32(r.crcBuf[3])<<24
		return vcrc.Verify32(pixels, expected)
	}
	return false
}

// emitFrame copies the active sub-region into a fresh Frame and clears
// the per-row state for the next accumulation cycle. Trailing metadata
// rows stay in the internal buffer but are never exposed.
func (r *Reassembler) emitFrame() {
	r.frameID++

	pixels := make([]byte, r.variant.ActivePixels())
	copy(pixels, r.framebuf[:len(pixels)])

	r.mu.Lock()
	r.counters.Frames++
	snapshot := r.counters
	r.mu.Unlock()

	frame := video.Frame{
		Pixels:       pixels,
		Width:        r.variant.Width,
		Height:       r.variant.ActiveHeight,
		FrameID:      r.frameID,
		RowsReceived: r.rowsSeen,
		RowsExpected: r.variant.TotalHeight,
		Counters:     snapshot,
	}

	for i := range r.rowSeen {
		r.rowSeen[i] = false
	}
	r.rowsSeen = 0

	select {
	case r.frames <- frame:
	default:
		r.mu.Lock()
		r.counters.DroppedFrames++
		r.mu.Unlock()
		monitoring.Logf("lvds: dropped frame %d: delivery channel full", r.frameID)
	}
}

func (r *Reassembler) countSyncLoss() {
	r.mu.Lock()
	r.counters.SyncLosses++
	r.mu.Unlock()
}
