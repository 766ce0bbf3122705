package ethframe

import "encoding/binary"

// Encode builds the on-wire Ethernet frame for one line chunk, with the
// given number of stacked VLAN tags (0 for untagged, 1 for 802.1Q, 2 for
// QinQ). It is the transmit-side counterpart of Decode, used to generate
// synthetic capture files and test traffic.
func Encode(vlanTags int, endOfFrame bool, line int, frameID, sequence uint16, payload []byte) []byte {
	frame := make([]byte, 0, EthernetHeaderSize+4*vlanTags+HeaderSize+len(payload))

	// Locally administered MACs for synthetic traffic.
	frame = append(frame,
		0x02, 0x4C, 0x56, 0x44, 0x53, 0x01, // dst
		0x02, 0x4C, 0x56, 0x44, 0x53, 0x02, // src
	)

	for i := 0; i < vlanTags; i++ {
		tpid := uint16(TPIDCustomer)
		if vlanTags == 2 && i == 0 {
			tpid = TPIDService // outer tag of a QinQ pair
		}
		frame = binary.BigEndian.AppendUint16(frame, tpid)
		frame = binary.BigEndian.AppendUint16(frame, 0x0064) // VID 100
	}

	frame = binary.BigEndian.AppendUint16(frame, EtherTypeLVDS)

	header := make([]byte, HeaderSize)
	if endOfFrame {
		header[offFlags] |= flagEndOfFrame
	}
	header[offLine] = byte(line)
	binary.LittleEndian.PutUint16(header[offFrameID:], frameID)
	binary.LittleEndian.PutUint16(header[offSequence:], sequence)

	frame = append(frame, header...)
	return append(frame, payload...)
}
