//go:build !pcap
// +build !pcap

// Package livecap streams chunks decoded from a live network interface.
// It needs cgo and libpcap; build with -tags=pcap to enable it.
package livecap

import (
	"context"
	"fmt"

	"github.com/banshee-data/lvdscan/internal/video"
)

// Capture is a stub implementation when live capture support is
// disabled. Build with -tags=pcap to enable capturing from an interface.
func Capture(ctx context.Context, iface string, v video.Variant, out chan<- video.LineChunk) error {
	return fmt.Errorf("live capture not enabled: rebuild with -tags=pcap to capture from %s", iface)
}
