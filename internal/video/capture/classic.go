package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/banshee-data/lvdscan/internal/monitoring"
)

// Classic global-header magic values. The byte-swapped forms indicate a
// file written in the opposite byte order; the second pair signals
// nanosecond rather than microsecond sub-second timestamps.
const (
	classicMagicMicros        = 0xA1B2C3D4
	classicMagicMicrosSwapped = 0xD4C3B2A1
	classicMagicNanos         = 0xA1B23C4D
	classicMagicNanosSwapped  = 0x4D3CB2A1

	classicGlobalHeaderSize = 24
	classicRecordHeaderSize = 16
)

// classicReader iterates packets in the traditional fixed-header capture
// format.
type classicReader struct {
	r     *bufio.Reader
	order binary.ByteOrder

	// subDivisor converts the sub-second timestamp field to
	// microseconds: 1 for microsecond files, 1000 for nanosecond files.
	subDivisor int64

	warnedTruncated bool
}

func newClassicReader(r *bufio.Reader) (*classicReader, error) {
	header := make([]byte, classicGlobalHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("capture: reading classic global header: %w", err)
	}

	c := &classicReader{r: r}
	switch binary.BigEndian.Uint32(header[0:4]) {
	case classicMagicMicros:
		c.order, c.subDivisor = binary.BigEndian, 1
	case classicMagicMicrosSwapped:
		c.order, c.subDivisor = binary.LittleEndian, 1
	case classicMagicNanos:
		c.order, c.subDivisor = binary.BigEndian, 1000
	case classicMagicNanosSwapped:
		c.order, c.subDivisor = binary.LittleEndian, 1000
	default:
		return nil, fmt.Errorf("%w: magic 0x%08X", ErrUnknownFormat, binary.BigEndian.Uint32(header[0:4]))
	}

	if link := c.order.Uint32(header[20:24]); link != linkTypeEthernet {
		// Keep parsing: the frames will just fail the protocol check.
		monitoring.Logf("capture: classic file has link type %d, not Ethernet; expecting no protocol matches", link)
	}
	return c, nil
}

func (c *classicReader) next() (*Record, error) {
	header := make([]byte, classicRecordHeaderSize)
	if _, err := io.ReadFull(c.r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("capture: reading classic record header: %w", err)
	}

	sec := c.order.Uint32(header[0:4])
	sub := c.order.Uint32(header[4:8])
	capLen := c.order.Uint32(header[8:12])
	origLen := c.order.Uint32(header[12:16])

	if capLen > maxPacketBytes {
		return nil, fmt.Errorf("capture: classic record claims %d bytes; container corrupt", capLen)
	}
	if origLen > capLen && !c.warnedTruncated {
		c.warnedTruncated = true
		monitoring.Logf("capture: truncated capture (original %d > captured %d bytes); replaying captured bytes only", origLen, capLen)
	}

	data := make([]byte, capLen)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return nil, fmt.Errorf("capture: reading classic packet body: %w", err)
	}

	return &Record{
		TimestampMicros: int64(sec)*1_000_000 + int64(sub)/c.subDivisor,
		Data:            data,
	}, nil
}
