package serialsource

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/lvdscan/internal/monitoring"
	"github.com/banshee-data/lvdscan/internal/video"
	"github.com/banshee-data/lvdscan/internal/video/cooked"
)

func init() {
	monitoring.SetLogger(nil)
}

// cookedFrame builds one on-wire cooked frame for the pump tests.
func cookedFrame(frameID uint16, width, height int) []byte {
	out := []byte{cooked.Magic0, cooked.Magic1}
	out = binary.LittleEndian.AppendUint16(out, frameID)
	out = binary.LittleEndian.AppendUint16(out, uint16(width))
	out = binary.LittleEndian.AppendUint16(out, uint16(height))
	for i := 0; i < width*height; i++ {
		out = append(out, byte(i))
	}
	return out
}

func TestPumpFeedsReceiver(t *testing.T) {
	t.Parallel()

	frame := cookedFrame(3, 8, 4)
	// Split across reads the way a CDC driver would chunk them.
	port := NewMockSerialPort(frame[:5], frame[5:20], frame[20:])
	rx := cooked.NewReceiver(cooked.DefaultMaxPixels)

	err := Pump(context.Background(), port, rx)
	require.NoError(t, err, "script exhaustion reads as clean EOF")

	assert.Equal(t, pumpReadTimeout, port.ReadTimeout, "pump must bound reads")
	assert.Equal(t, uint64(len(frame)), rx.Counters().Bytes)

	select {
	case f := <-rx.Frames():
		assert.Equal(t, uint32(3), f.FrameID)
		assert.Equal(t, 8, f.Width)
		assert.Equal(t, 4, f.Height)
	default:
		t.Fatal("expected a decoded frame")
	}
}

func TestPumpPortError(t *testing.T) {
	t.Parallel()

	portErr := errors.New("device gone")
	port := NewMockSerialPort([]byte{1, 2, 3})
	port.ReadError = portErr

	err := Pump(context.Background(), port, cooked.NewReceiver(cooked.DefaultMaxPixels))
	require.ErrorIs(t, err, portErr)
}

func TestPumpCancellation(t *testing.T) {
	t.Parallel()

	// An endless script of zero-byte reads models an idle link with a
	// read timeout; cancellation is the only way out.
	reads := make([][]byte, 0, 1<<16)
	for i := 0; i < 1<<16; i++ {
		reads = append(reads, nil)
	}
	port := NewMockSerialPort(reads...)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- Pump(ctx, port, cooked.NewReceiver(cooked.DefaultMaxPixels)) }()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean stop")
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not observe cancellation")
	}
}

func TestBridgeCommands(t *testing.T) {
	t.Parallel()

	port := NewMockSerialPort()

	require.NoError(t, SelectVariant(port, video.Nichia))
	require.NoError(t, SelectVariant(port, video.Osram))
	require.NoError(t, SetCooked(port, true))
	require.NoError(t, SetCooked(port, false))
	require.NoError(t, Reboot(port))

	assert.Equal(t, []byte{'N', 'O', 'S', 'R', 'B'}, port.Written())
}

func TestPortOptions(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		opts, err := PortOptions{}.Normalize()
		require.NoError(t, err)
		assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, opts)
	})

	t.Run("parity spellings", func(t *testing.T) {
		t.Parallel()
		for in, want := range map[string]string{"odd": "O", "EVEN": "E", "none": "N", " n ": "N"} {
			opts, err := PortOptions{Parity: in}.Normalize()
			require.NoError(t, err)
			assert.Equal(t, want, opts.Parity, "input %q", in)
		}
	})

	t.Run("rejects bad values", func(t *testing.T) {
		t.Parallel()
		_, err := PortOptions{DataBits: 9}.Normalize()
		assert.Error(t, err)
		_, err = PortOptions{StopBits: 3}.Normalize()
		assert.Error(t, err)
		_, err = PortOptions{Parity: "mark"}.Normalize()
		assert.Error(t, err)
	})

	t.Run("serial mode", func(t *testing.T) {
		t.Parallel()
		mode, err := VariantOptions(video.Nichia).SerialMode()
		require.NoError(t, err)
		assert.Equal(t, video.Nichia.Baud, mode.BaudRate)
		assert.Equal(t, serial.OddParity, mode.Parity)

		mode, err = VariantOptions(video.Osram).SerialMode()
		require.NoError(t, err)
		assert.Equal(t, video.Osram.Baud, mode.BaudRate)
		assert.Equal(t, serial.NoParity, mode.Parity)
	})

	t.Run("bridge preset", func(t *testing.T) {
		t.Parallel()
		mode, err := BridgeOptions().SerialMode()
		require.NoError(t, err)
		assert.Equal(t, 115200, mode.BaudRate)
		assert.Equal(t, serial.NoParity, mode.Parity)
	})
}
