// Package cooked receives pre-assembled frames from the USB bridge
// firmware. The bridge performs line reassembly, parity checking, and
// CRC verification on-device and forwards only complete frames over CDC:
//
//	[0xFE] [0xED] [frame_id u16 LE] [width u16 LE] [height u16 LE]
//	[width*height pixel bytes]
//
// Only frame-level synchronisation is needed here; data integrity is the
// upstream device's responsibility, so the CRC and parity counters are
// zero by contract and every emitted frame is complete.
package cooked

import (
	"sync"

	"github.com/banshee-data/lvdscan/internal/monitoring"
	"github.com/banshee-data/lvdscan/internal/video"
)

// Cooked-frame header constants, matching the bridge firmware.
const (
	Magic0     = 0xFE
	Magic1     = 0xED
	HeaderSize = 6 // frame id + width + height, all u16 little-endian
)

// DefaultMaxPixels bounds the declared frame size, sized for the largest
// supported sensor (Osram, 320x80).
const DefaultMaxPixels = 320 * 80

const frameChannelDepth = 8

type parseState int

const (
	scanMagic0 parseState = iota
	scanMagic1
	readHeader
	readPixels
)

// Receiver reassembles cooked frames from the bridge byte stream. It
// implements video.Receiver with the same single-producer contract as
// the LVDS reassembler.
type Receiver struct {
	maxPixels int

	state   parseState
	header  [HeaderSize]byte
	hdrPos  int
	frameID uint32
	width   int
	height  int
	pixels  []byte
	pixPos  int

	mu       sync.Mutex
	counters video.Counters

	frames chan video.Frame
}

// NewReceiver creates a cooked-frame receiver. maxPixels bounds the
// pixel count a header may declare; pass 0 for DefaultMaxPixels.
func NewReceiver(maxPixels int) *Receiver {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Receiver{
		maxPixels: maxPixels,
		frames:    make(chan video.Frame, frameChannelDepth),
	}
}

// Frames returns the frame delivery channel.
func (r *Receiver) Frames() <-chan video.Frame { return r.frames }

// Counters returns a snapshot of the diagnostic counters. CRCErrors and
// ParityErrors are always zero: the bridge validated the data already,
// and the zero values let callers treat both transports uniformly.
func (r *Receiver) Counters() video.Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// Reset returns to magic scanning and zeroes the diagnostic counters.
func (r *Receiver) Reset() {
	r.state = scanMagic0
	r.hdrPos = 0
	r.pixPos = 0

	// Undelivered frames carry counter snapshots from before the reset;
	// flush them so consumers only ever see post-reset state.
	for {
		select {
		case <-r.frames:
		default:
			r.mu.Lock()
			r.counters = video.Counters{}
			r.mu.Unlock()
			return
		}
	}
}

// Push feeds bridge CDC bytes through the frame scanner.
func (r *Receiver) Push(data []byte) {
	r.mu.Lock()
	r.counters.Bytes += uint64(len(data))
	r.mu.Unlock()

	for _, b := range data {
		switch r.state {
		case scanMagic0:
			if b == Magic0 {
				r.state = scanMagic1
			}

		case scanMagic1:
			switch b {
			case Magic1:
				r.hdrPos = 0
				r.state = readHeader
			case Magic0:
				// Could still be the start of a real magic pair.
			default:
				r.state = scanMagic0
			}

		case readHeader:
			r.header[r.hdrPos] = b
			r.hdrPos++
			if r.hdrPos == HeaderSize {
				if !r.acceptHeader() {
					r.mu.Lock()
					r.counters.SyncLosses++
					r.mu.Unlock()
					r.state = scanMagic0
					continue
				}
				r.pixPos = 0
				r.state = readPixels
			}

		case readPixels:
			r.pixels[r.pixPos] = b
			r.pixPos++
			if r.pixPos == len(r.pixels) {
				r.emitFrame()
				r.state = scanMagic0
			}
		}
	}
}

// acceptHeader validates the declared dimensions. A zero or over-maximum
// pixel count means the magic match was noise, not a frame header.
func (r *Receiver) acceptHeader() bool {
	r.frameID = uint32(r.header[0]) | uint32(r.header[1])<<8
	r.width = int(r.header[2]) | int(r.header[3])<<8
	r.height = int(r.header[4]) | int(r.header[5])<<8

	total := r.width * r.height
	if r.width == 0 || r.height == 0 || total > r.maxPixels {
		monitoring.Logf("cooked: rejecting header frame=%d dims=%dx%d (max %d pixels)",
			r.frameID, r.width, r.height, r.maxPixels)
		return false
	}

	if cap(r.pixels) < total {
		r.pixels = make([]byte, total)
	}
	r.pixels = r.pixels[:total]
	return true
}

// emitFrame hands off an owned copy of the pixel buffer. Cooked frames
// are complete by contract, so rows received equals height.
func (r *Receiver) emitFrame() {
	pixels := make([]byte, len(r.pixels))
	copy(pixels, r.pixels)

	r.mu.Lock()
	r.counters.Frames++
	snapshot := r.counters
	r.mu.Unlock()

	frame := video.Frame{
		Pixels:       pixels,
		Width:        r.width,
		Height:       r.height,
		FrameID:      r.frameID,
		RowsReceived: r.height,
		RowsExpected: r.height,
		Counters:     snapshot,
	}

	select {
	case r.frames <- frame:
	default:
		r.mu.Lock()
		r.counters.DroppedFrames++
		r.mu.Unlock()
		monitoring.Logf("cooked: dropped frame %d: delivery channel full", r.frameID)
	}
}
