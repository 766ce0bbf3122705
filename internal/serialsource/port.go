// Package serialsource feeds a video receiver from a serial port: either
// the raw LVDS UART of a sensor, or the USB bridge that pre-assembles
// cooked frames and accepts single-byte control commands.
package serialsource

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// This is an optional interface that serial ports may implement; the
// pump uses it to keep reads bounded so cancellation is observed.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortOpener is a function type for opening serial ports. It
// allows tests to substitute a mock for the real factory.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)
