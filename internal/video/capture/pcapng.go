package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/banshee-data/lvdscan/internal/monitoring"
)

// Next-generation block-type and byte-order-marker constants.
const (
	blockTypeSHB = 0x0A0D0D0A // Section Header Block
	blockTypeIDB = 0x00000001 // Interface Description Block
	blockTypeSPB = 0x00000003 // Simple Packet Block
	blockTypeEPB = 0x00000006 // Enhanced Packet Block

	byteOrderMagic        = 0x1A2B3C4D
	byteOrderMagicSwapped = 0x4D3C2B1A

	// optTsResol is the IDB option carrying the timestamp resolution:
	// one byte, power of ten by default or power of two when the high
	// bit is set.
	optTsResol = 9
	optEndOfOpt = 0

	// blockOverhead is type + total length + trailing total length.
	blockOverhead = 12

	// maxBlockBytes bounds a single block; anything larger means the
	// length fields cannot be trusted.
	maxBlockBytes = 16 << 20

	// defaultUnitsPerSecond is microsecond resolution, used when an
	// interface carries no if_tsresol option.
	defaultUnitsPerSecond = 1_000_000
)

// ngInterface is the per-interface state recorded from an IDB.
type ngInterface struct {
	linkType       uint16
	snapLen        uint32
	unitsPerSecond uint64
}

// ngReader iterates packets in the next-generation block format. Blocks
// are self-describing: unknown types are skipped by length without
// error, and a trailing-length mismatch is logged and recovered from
// best-effort since reads are already length-driven.
type ngReader struct {
	r     *bufio.Reader
	order binary.ByteOrder

	ifaces         []ngInterface
	warnedLink     bool
	warnedTrailing bool
}

func newNgReader(r *bufio.Reader) (*ngReader, error) {
	return &ngReader{r: r}, nil
}

func (n *ngReader) next() (*Record, error) {
	for {
		var typeBuf [4]byte
		if _, err := io.ReadFull(n.r, typeBuf[:]); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("capture: reading block type: %w", err)
		}

		// The SHB type value is byte-order independent; everything else
		// needs an established section order first.
		isSHB := typeBuf[0] == 0x0A && typeBuf[1] == 0x0D && typeBuf[2] == 0x0D && typeBuf[3] == 0x0A
		if isSHB {
			if err := n.readSectionHeader(); err != nil {
				return nil, err
			}
			continue
		}
		if n.order == nil {
			return nil, fmt.Errorf("%w: block before section header", ErrUnknownFormat)
		}

		blockType := n.order.Uint32(typeBuf[:])
		body, err := n.readBlockBody()
		if err != nil {
			return nil, err
		}

		switch blockType {
		case blockTypeIDB:
			if err := n.parseInterfaceDescription(body); err != nil {
				return nil, err
			}
		case blockTypeEPB:
			rec, err := n.parseEnhancedPacket(body)
			if err != nil {
				return nil, err
			}
			return rec, nil
		case blockTypeSPB:
			rec, err := n.parseSimplePacket(body)
			if err != nil {
				return nil, err
			}
			return rec, nil
		default:
			// Unknown block: already skipped by length.
		}
	}
}

// readSectionHeader parses an SHB after its type field has been
// consumed. The byte-order marker inside the body determines how the
// length fields of this section are read, so it is decoded first.
func (n *ngReader) readSectionHeader() error {
	var buf [8]byte // total length + byte-order magic
	if _, err := io.ReadFull(n.r, buf[:]); err != nil {
		return fmt.Errorf("capture: reading section header: %w", err)
	}

	switch binary.BigEndian.Uint32(buf[4:8]) {
	case byteOrderMagic:
		n.order = binary.BigEndian
	case byteOrderMagicSwapped:
		n.order = binary.LittleEndian
	default:
		return fmt.Errorf("%w: unsupported section byte order 0x%08X",
			ErrUnknownFormat, binary.BigEndian.Uint32(buf[4:8]))
	}

	totalLen := n.order.Uint32(buf[0:4])
	if totalLen < 28 || totalLen > maxBlockBytes {
		return fmt.Errorf("capture: section header length %d out of range", totalLen)
	}

	// Discard version, section length, and options.
	rest := int(totalLen) - 4 - 4 - 4 - 4
	if _, err := io.CopyN(io.Discard, n.r, int64(rest)); err != nil {
		return fmt.Errorf("capture: skipping section header body: %w", err)
	}
	n.checkTrailingLength(totalLen)

	// A new section starts a fresh interface list.
	n.ifaces = nil
	return nil
}

// readBlockBody reads a non-SHB block after its type field, returning
// the body between the two length fields.
func (n *ngReader) readBlockBody() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(n.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("capture: reading block length: %w", err)
	}
	totalLen := n.order.Uint32(lenBuf[:])
	if totalLen < blockOverhead || totalLen > maxBlockBytes {
		return nil, fmt.Errorf("capture: block length %d out of range; container corrupt", totalLen)
	}

	body := make([]byte, totalLen-blockOverhead)
	if _, err := io.ReadFull(n.r, body); err != nil {
		return nil, fmt.Errorf("capture: reading block body: %w", err)
	}
	n.checkTrailingLength(totalLen)
	return body, nil
}

// checkTrailingLength consumes the repeated total-length field. Reads
// are length-driven, so a mismatch leaves the stream at the computed
// block end already; recovery is simply to continue from here.
func (n *ngReader) checkTrailingLength(totalLen uint32) {
	var trailer [4]byte
	if _, err := io.ReadFull(n.r, trailer[:]); err != nil {
		return // the next read will surface the real error
	}
	if got := n.order.Uint32(trailer[:]); got != totalLen && !n.warnedTrailing {
		n.warnedTrailing = true
		monitoring.Logf("capture: block trailing length %d != %d; continuing from computed block end", got, totalLen)
	}
}

func (n *ngReader) parseInterfaceDescription(body []byte) error {
	if len(body) < 8 {
		return fmt.Errorf("capture: interface description block too short (%d bytes)", len(body))
	}

	iface := ngInterface{
		linkType:       n.order.Uint16(body[0:2]),
		snapLen:        n.order.Uint32(body[4:8]),
		unitsPerSecond: defaultUnitsPerSecond,
	}

	// Options: u16 code, u16 length, value padded to 32 bits.
	opts := body[8:]
	for len(opts) >= 4 {
		code := n.order.Uint16(opts[0:2])
		optLen := int(n.order.Uint16(opts[2:4]))
		opts = opts[4:]
		if code == optEndOfOpt {
			break
		}
		if optLen > len(opts) {
			break // malformed options: keep the defaults
		}
		if code == optTsResol && optLen >= 1 {
			iface.unitsPerSecond = tsResolUnits(opts[0])
		}
		opts = opts[(optLen+3)&^3:]
	}

	if iface.linkType != linkTypeEthernet && !n.warnedLink {
		n.warnedLink = true
		monitoring.Logf("capture: pcapng interface %d has link type %d, not Ethernet; expecting no protocol matches",
			len(n.ifaces), iface.linkType)
	}

	n.ifaces = append(n.ifaces, iface)
	return nil
}

// tsResolUnits decodes an if_tsresol option byte into timestamp units
// per second: a power of two when the high bit is set, a power of ten
// otherwise.
func tsResolUnits(v byte) uint64 {
	exp := int(v & 0x7F)
	if exp > 63 {
		exp = 63 // beyond representable; clamp rather than overflow
	}
	if v&0x80 != 0 {
		return 1 << uint(exp)
	}
	units := uint64(1)
	for i := 0; i < exp && units < 1<<60; i++ {
		units *= 10
	}
	return units
}

func (n *ngReader) parseEnhancedPacket(body []byte) (*Record, error) {
	if len(body) < 20 {
		return nil, fmt.Errorf("capture: enhanced packet block too short (%d bytes)", len(body))
	}

	ifaceID := n.order.Uint32(body[0:4])
	ticks := uint64(n.order.Uint32(body[4:8]))<<32 | uint64(n.order.Uint32(body[8:12]))
	capLen := n.order.Uint32(body[12:16])

	if capLen > maxPacketBytes || int(capLen) > len(body)-20 {
		return nil, fmt.Errorf("capture: enhanced packet claims %d bytes; container corrupt", capLen)
	}

	units := uint64(defaultUnitsPerSecond)
	if int(ifaceID) < len(n.ifaces) {
		units = n.ifaces[ifaceID].unitsPerSecond
	}

	data := make([]byte, capLen)
	copy(data, body[20:])
	// Padding and options after the packet data were consumed with the
	// body and need no further handling.

	return &Record{TimestampMicros: ticksToMicros(ticks, units), Data: data}, nil
}

func (n *ngReader) parseSimplePacket(body []byte) (*Record, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("capture: simple packet block too short (%d bytes)", len(body))
	}

	origLen := n.order.Uint32(body[0:4])
	capLen := origLen

	// Simple Packet Blocks imply the first interface of the section and
	// are bounded by its snap length.
	if len(n.ifaces) > 0 && n.ifaces[0].snapLen > 0 && capLen > n.ifaces[0].snapLen {
		capLen = n.ifaces[0].snapLen
	}
	if int(capLen) > len(body)-4 {
		capLen = uint32(len(body) - 4)
	}

	data := make([]byte, capLen)
	copy(data, body[4:])

	// No per-packet timestamp: replay timing falls back to the
	// inter-packet default.
	return &Record{TimestampMicros: -1, Data: data}, nil
}

// ticksToMicros converts an interface-resolution tick count into
// microseconds without overflowing on high-resolution timestamps.
func ticksToMicros(ticks, unitsPerSecond uint64) int64 {
	if unitsPerSecond == 0 {
		unitsPerSecond = defaultUnitsPerSecond
	}
	sec := ticks / unitsPerSecond
	frac := ticks % unitsPerSecond

	var fracMicros uint64
	if unitsPerSecond > 1_000_000_000_000 {
		fracMicros = frac / (unitsPerSecond / 1_000_000)
	} else {
		fracMicros = frac * 1_000_000 / unitsPerSecond
	}
	return int64(sec)*1_000_000 + int64(fracMicros)
}
