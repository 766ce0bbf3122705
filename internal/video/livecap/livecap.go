//go:build pcap
// +build pcap

// Package livecap streams chunks decoded from a live network interface.
// It needs cgo and libpcap; build with -tags=pcap to enable it.
package livecap

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/lvdscan/internal/monitoring"
	"github.com/banshee-data/lvdscan/internal/video"
	"github.com/banshee-data/lvdscan/internal/video/ethframe"
)

// snapLen comfortably covers a maximum-geometry chunk frame.
const snapLen = 2048

// Capture opens iface in promiscuous mode and streams every decoded
// chunk to out until the context is cancelled. Non-protocol traffic is
// skipped; only capture-layer failures end the session.
func Capture(ctx context.Context, iface string, v video.Variant, out chan<- video.LineChunk) error {
	handle, err := pcap.OpenLive(iface, snapLen, true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("livecap: opening %s: %w", iface, err)
	}
	defer handle.Close()

	// The protocol rides directly on Ethernet, so a capture filter on
	// the EtherType keeps kernel-to-user copies to protocol traffic
	// only. VLAN-encapsulated chunks need the tag-aware form.
	filter := fmt.Sprintf("ether proto 0x%04X or (vlan and ether proto 0x%04X)",
		ethframe.EtherTypeLVDS, ethframe.EtherTypeLVDS)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("livecap: setting filter %q: %w", filter, err)
	}
	monitoring.Logf("livecap: capturing on %s (filter %q)", iface, filter)

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := 0
	chunks := 0
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("livecap: stopping on %s: %d packets, %d chunks", iface, packets, chunks)
			return ctx.Err()
		case packet := <-source.Packets():
			if packet == nil {
				monitoring.Logf("livecap: capture on %s closed: %d packets, %d chunks", iface, packets, chunks)
				return nil
			}
			packets++

			chunk, ok := ethframe.Decode(packet.Data(), v)
			if !ok {
				continue
			}
			select {
			case out <- chunk:
				chunks++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
