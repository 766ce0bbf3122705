package serialsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/lvdscan/internal/monitoring"
	"github.com/banshee-data/lvdscan/internal/video"
)

// Bridge control commands: one byte each, no framing, no reply. The
// bridge applies the command at the next frame boundary.
const (
	CmdSelectNichia byte = 'N' // switch the LVDS side to the Nichia link
	CmdSelectOsram  byte = 'O' // switch the LVDS side to the Osram link
	CmdCookedOutput byte = 'S' // emit pre-assembled cooked frames
	CmdRawOutput    byte = 'R' // pass the LVDS byte stream through untouched
	CmdReboot       byte = 'B' // reboot the bridge into its bootloader
)

// readBufSize bounds a single serial read. Large enough to keep up with
// the 20 Mbaud link without a syscall per line.
const readBufSize = 16 << 10

// pumpReadTimeout keeps reads bounded so cancellation is observed even
// on an idle link.
const pumpReadTimeout = 100 * time.Millisecond

// SelectVariant switches the bridge's LVDS side to the named sensor.
func SelectVariant(port SerialPorter, v video.Variant) error {
	cmd := CmdSelectNichia
	if v.Name == video.Osram.Name {
		cmd = CmdSelectOsram
	}
	return sendCommand(port, cmd)
}

// SetCooked selects between cooked-frame output and raw passthrough.
func SetCooked(port SerialPorter, cooked bool) error {
	cmd := CmdRawOutput
	if cooked {
		cmd = CmdCookedOutput
	}
	return sendCommand(port, cmd)
}

// Reboot asks the bridge to reboot. The port becomes unusable once the
// device re-enumerates.
func Reboot(port SerialPorter) error {
	return sendCommand(port, CmdReboot)
}

func sendCommand(port SerialPorter, cmd byte) error {
	if _, err := port.Write([]byte{cmd}); err != nil {
		return fmt.Errorf("serialsource: sending command %q: %w", cmd, err)
	}
	return nil
}

// Pump reads the port until the context is cancelled or the port fails,
// pushing every chunk of bytes into the receiver. It returns nil on
// cancellation and on a clean port EOF (device unplugged mid-session is
// surfaced as an error by the driver, not as EOF).
func Pump(ctx context.Context, port SerialPorter, rx video.Receiver) error {
	if tp, ok := port.(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(pumpReadTimeout); err != nil {
			monitoring.Logf("serialsource: cannot set read timeout: %v; reads may block past cancellation", err)
		}
	}

	buf := make([]byte, readBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := port.Read(buf)
		if n > 0 {
			rx.Push(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("serialsource: reading port: %w", err)
		}
		// n == 0 without an error is a read timeout; loop back to the
		// cancellation check.
	}
}
