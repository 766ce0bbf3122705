// Package ethframe decodes the proprietary LVDS-over-Ethernet video
// transport. Each Ethernet frame carrying the protocol holds one line
// chunk: a fixed 8-byte header followed by a fixed-size payload of
// LinesPerChunk contiguous pixel rows.
//
// Decode is a pure function with no internal state and is safe to call
// concurrently from a live-capture goroutine and a replay goroutine at
// the same time.
package ethframe

import (
	"encoding/binary"

	"github.com/banshee-data/lvdscan/internal/video"
)

// Binary layout constants. These are bit-exact wire values and must not
// change.
const (
	// EtherTypeLVDS identifies the video transport (IEEE 802 local
	// experimental EtherType used by the bridge's Ethernet mode).
	EtherTypeLVDS = 0x88B5

	// VLAN tag protocol identifiers: customer tag and service tag
	// (QinQ). Both are skipped transparently.
	TPIDCustomer = 0x8100
	TPIDService  = 0x88A8

	// EthernetHeaderSize is the minimum Ethernet header (dst + src +
	// EtherType) before any VLAN tags.
	EthernetHeaderSize = 14

	// HeaderSize is the protocol header following the EtherType.
	HeaderSize = 8

	// Header byte offsets within the protocol payload.
	offFlags    = 0 // bit 0: end-of-frame
	offLine     = 1 // 1-based starting line number
	offFrameID  = 2 // u16 little-endian
	offSequence = 4 // u16 little-endian; bytes 6-7 reserved

	flagEndOfFrame = 0x01

	// LinesPerChunk is a protocol constant: every chunk carries exactly
	// this many rows, so the payload size is Width*LinesPerChunk and is
	// never derived from the packet.
	LinesPerChunk = 4
)

// Decode inspects one captured or live Ethernet frame and extracts a
// line chunk if the frame carries the video transport. The boolean is
// false when the frame is not this protocol or is malformed; that is the
// common case for captured traffic and is not an error. The returned
// payload is a fresh copy, the only allocation Decode performs.
func Decode(frame []byte, v video.Variant) (video.LineChunk, bool) {
	if len(frame) < EthernetHeaderSize {
		return video.LineChunk{}, false
	}

	// Walk EtherType fields through any stacked VLAN tags. Each tag is
	// the 2-byte TPID we just read plus 2 bytes of tag control info.
	etOffset := 12
	etherType := binary.BigEndian.Uint16(frame[etOffset:])
	for etherType == TPIDCustomer || etherType == TPIDService {
		etOffset += 4
		if len(frame) < etOffset+2 {
			return video.LineChunk{}, false
		}
		etherType = binary.BigEndian.Uint16(frame[etOffset:])
	}
	if etherType != EtherTypeLVDS {
		return video.LineChunk{}, false
	}

	payloadSize := v.Width * LinesPerChunk
	base := etOffset + 2
	if len(frame) < base+HeaderSize+payloadSize {
		return video.LineChunk{}, false
	}
	header := frame[base : base+HeaderSize]

	line := int(header[offLine])
	if line == 0 || line > v.ActiveHeight {
		return video.LineChunk{}, false
	}

	payload := make([]byte, payloadSize)
	copy(payload, frame[base+HeaderSize:])

	return video.LineChunk{
		Width:        v.Width,
		Height:       v.ActiveHeight,
		LineNumber:   line,
		LinesInChunk: LinesPerChunk,
		EndOfFrame:   header[offFlags]&flagEndOfFrame != 0,
		FrameID:      uint32(binary.LittleEndian.Uint16(header[offFrameID:])),
		Sequence:     uint32(binary.LittleEndian.Uint16(header[offSequence:])),
		Payload:      payload,
	}, true
}
