// Package vcrc implements the two checksum algorithms used by the LVDS
// line protocol: CRC-16/CCITT-FALSE over each line's pixel bytes and
// CRC-32/ISO-HDLC (the Ethernet/ZIP variant) for the wide-trailer link.
//
// Both algorithms are table-driven. The tables are built once at package
// initialisation and never mutated afterwards, so every function in this
// package is safe for unrestricted concurrent use.
package vcrc

// CRC parameters. The 16-bit algorithm is non-reflected with no final
// XOR; the 32-bit algorithm is reflected on input and output, so its
// table is built from the bit-reversed form of poly 0x04C11DB7.
const (
	poly16 = 0x1021
	init16 = 0xFFFF

	poly32Reflected = 0xEDB88320
	init32          = 0xFFFFFFFF
	xorOut32        = 0xFFFFFFFF
)

var (
	table16 [256]uint16
	table32 [256]uint32
)

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly16
			} else {
				crc <<= 1
			}
		}
		table16[i] = crc
	}

	for i := 0; i < 256; i++ {
		crc := uint32(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ poly32Reflected
			} else {
				crc >>= 1
			}
		}
		table32[i] = crc
	}
}

// Checksum16 computes CRC-16/CCITT-FALSE over data.
// "123456789" yields 0x29B1; empty input yields 0xFFFF.
func Checksum16(data []byte) uint16 {
	crc := uint16(init16)
	for _, b := range data {
		crc = crc<<8 ^ table16[byte(crc>>8)^b]
	}
	return crc
}

// Verify16 reports whether data checksums to expected under
// CRC-16/CCITT-FALSE.
func Verify16(data []byte, expected uint16) bool {
	return Checksum16(data) == expected
}

// Checksum32 computes CRC-32/ISO-HDLC over data.
// "123456789" yields 0xCBF43926; empty input yields 0x00000000.
func Checksum32(data []byte) uint32 {
	crc := uint32(init32)
	for _, b := range data {
		crc = crc>>8 ^ table32[byte(crc)^b]
	}
	return crc ^ xorOut32
}

// Verify32 reports whether data checksums to expected under
// CRC-32/ISO-HDLC.
func Verify32(data []byte, expected uint32) bool {
	return Checksum32(data) == expected
}
