package video

// Frame is one complete (or best-effort) reconstructed video frame.
// Pixels is always a fresh allocation owned by the consumer; the emitting
// receiver never writes to it again after emission.
type Frame struct {
	Pixels []byte // row-major grayscale, Width*Height bytes
	Width  int
	Height int

	// FrameID is the emitter's sequential frame counter for the UART
	// paths, or the upstream device's 16-bit counter for cooked frames.
	FrameID uint32

	// RowsReceived is how many distinct rows were actually placed in the
	// accumulation cycle that produced this frame; RowsExpected is the
	// full row count of the link (active rows plus trailing metadata
	// rows for the LVDS protocol).
	RowsReceived int
	RowsExpected int

	// Counters is a snapshot of the emitting receiver's diagnostics as
	// of this emission.
	Counters Counters
}

// LineChunk is the transport-agnostic unit decoded from one Ethernet
// frame: one or more contiguous pixel rows plus routing metadata.
// Payload length is always Width*LinesInChunk.
type LineChunk struct {
	Width        int
	Height       int
	LineNumber   int // 1-based first row carried by this chunk
	LinesInChunk int
	EndOfFrame   bool
	FrameID      uint32
	Sequence     uint32
	Payload      []byte
}

// Counters are the per-receiver diagnostic counters. All values increase
// monotonically until Reset. Per-unit anomalies only ever surface here;
// they never stop the pipeline.
type Counters struct {
	Frames        uint64 // complete frames emitted
	SyncLosses    uint64 // desync events (bad sync, out-of-range row, bad header)
	CRCErrors     uint64 // CRC trailer mismatches (line still placed)
	ParityErrors  uint64 // row-address parity mismatches (line still placed)
	Bytes         uint64 // total bytes pushed
	DroppedFrames uint64 // frames lost to a full delivery channel
}

// Receiver is the shared byte-stream-to-frame contract implemented by
// the LVDS line reassembler and the cooked-frame receiver. Push is
// driven by exactly one producer goroutine; emitted frames may safely be
// consumed elsewhere because they are independent copies.
type Receiver interface {
	// Push feeds an arbitrary-length chunk of raw transport bytes and
	// may cause zero or more frame emissions. It never blocks on I/O.
	Push(data []byte)

	// Reset returns to the initial scanning state and zeroes all
	// partial-line, per-row, and diagnostic state, discarding any
	// frames still waiting in the delivery channel. Configuration is
	// preserved.
	Reset()

	// Counters returns a snapshot of the diagnostic counters.
	Counters() Counters

	// Frames is the delivery channel for emitted frames.
	Frames() <-chan Frame
}
