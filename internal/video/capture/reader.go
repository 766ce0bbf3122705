// Package capture replays recorded packet-capture files through the
// Ethernet chunk decoder with timing that approximates the original
// capture. Both the classic fixed-header format and the next-generation
// block format are supported and produce identical chunk sequences for
// identical logical content.
//
// Per-packet decode failures are expected (most captured traffic is not
// the video transport) and are skipped silently; only unrecoverable
// container corruption or resource errors abort a replay.
package capture

import (
	"bufio"
	"errors"
	"fmt"
)

// Record is one decoded packet from a container file.
type Record struct {
	// TimestampMicros is the capture timestamp in microseconds, or -1
	// when the container block carries no per-packet timestamp (Simple
	// Packet Blocks).
	TimestampMicros int64

	// Data is the raw link-layer frame, captured-length bytes.
	Data []byte
}

// recordReader is the per-format packet iterator. next returns io.EOF
// at the clean end of the file.
type recordReader interface {
	next() (*Record, error)
}

// linkTypeEthernet is the only link-layer type the chunk decoder
// understands. Other link types are replayed anyway after a one-time
// warning; their frames simply fail the protocol check.
const linkTypeEthernet = 1

// maxPacketBytes bounds a single captured packet. A length beyond this
// means the container structure cannot be trusted any further.
const maxPacketBytes = 256 << 10

// ErrUnknownFormat reports a file whose first bytes match no known
// capture container magic.
var ErrUnknownFormat = errors.New("capture: unrecognised container format")

// openReader sniffs the container format from the first 4 bytes and
// returns the matching reader. The next-generation format is identified
// by its Section Header Block type value 0x0A0D0D0A, which reads the
// same under either byte order.
func openReader(r *bufio.Reader) (recordReader, string, error) {
	head, err := r.Peek(4)
	if err != nil {
		return nil, "", fmt.Errorf("capture: reading container magic: %w", err)
	}

	if head[0] == 0x0A && head[1] == 0x0D && head[2] == 0x0D && head[3] == 0x0A {
		ng, err := newNgReader(r)
		if err != nil {
			return nil, "", err
		}
		return ng, "pcapng", nil
	}

	classic, err := newClassicReader(r)
	if err != nil {
		return nil, "", err
	}
	return classic, "pcap", nil
}
