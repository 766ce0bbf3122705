package video

// SyncByte marks the start of a line packet on the LVDS serial link.
const SyncByte = 0x5D

// Variant describes one LVDS link protocol. The two production sensors
// differ in geometry, row-address encoding, and CRC trailer format; the
// frame layouts on the wire are otherwise identical:
//
//	[sync] [row] [Width pixel bytes] [CRC trailer]
//
// TotalHeight exceeds ActiveHeight by a few trailing metadata rows that
// the sensor appends after the visible image; those rows participate in
// frame-boundary detection but are never exposed in emitted frames.
type Variant struct {
	Name         string
	Width        int
	ActiveHeight int
	TotalHeight  int

	// ParityRow selects row-address decoding: when true the row byte's
	// low 7 bits are the row index and bit 7 is an odd-parity bit over
	// the whole byte; when false the row byte is the index directly
	// (the link's hardware parity is invisible at this layer).
	ParityRow bool

	// CRCLength is the trailer size in bytes: 2 for the CRC-16 variant
	// (transmitted big-endian), 4 for the CRC-32 variant (transmitted
	// little-endian).
	CRCLength int

	// Baud is the raw link rate, used when opening the UART directly
	// rather than through the USB bridge.
	Baud int
}

// The two supported sensors.
var (
	Nichia = Variant{
		Name:         "nichia",
		Width:        256,
		ActiveHeight: 64,
		TotalHeight:  68,
		ParityRow:    true,
		CRCLength:    2,
		Baud:         12500000,
	}

	Osram = Variant{
		Name:         "osram",
		Width:        320,
		ActiveHeight: 80,
		TotalHeight:  84,
		ParityRow:    false,
		CRCLength:    4,
		Baud:         20000000,
	}
)

// VariantByName returns the named protocol variant, or false when the
// name is unknown.
func VariantByName(name string) (Variant, bool) {
	switch name {
	case Nichia.Name:
		return Nichia, true
	case Osram.Name:
		return Osram, true
	}
	return Variant{}, false
}

// LineSize is the full on-wire size of one line packet.
func (v Variant) LineSize() int {
	return 2 + v.Width + v.CRCLength // sync + row + pixels + trailer
}

// ActivePixels is the emitted frame size in bytes.
func (v Variant) ActivePixels() int {
	return v.Width * v.ActiveHeight
}
