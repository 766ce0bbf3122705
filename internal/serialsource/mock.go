package serialsource

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// MockSerialPort implements SerialPorter with configurable behaviour for
// testing without real hardware. Reads drain a script of chunks; writes
// are captured for inspection.
type MockSerialPort struct {
	mu sync.Mutex

	// reads is the remaining script: each Read call returns at most one
	// entry, preserving the chunking a real driver would produce.
	reads [][]byte

	// WriteBuffer captures data written to the port.
	WriteBuffer bytes.Buffer

	// ReadError is returned once the read script is exhausted; nil
	// means io.EOF.
	ReadError error

	// Closed indicates whether Close was called.
	Closed bool

	// ReadTimeout records the last SetReadTimeout value.
	ReadTimeout time.Duration
}

// NewMockSerialPort creates a mock port whose reads replay the given
// chunks in order.
func NewMockSerialPort(reads ...[]byte) *MockSerialPort {
	return &MockSerialPort{reads: reads}
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.reads) == 0 {
		if m.ReadError != nil {
			return 0, m.ReadError
		}
		return 0, io.EOF
	}

	n := copy(p, m.reads[0])
	if n < len(m.reads[0]) {
		m.reads[0] = m.reads[0][n:]
	} else {
		m.reads = m.reads[1:]
	}
	return n, nil
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.WriteBuffer.Write(p)
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetReadTimeout implements TimeoutSerialPorter.
func (m *MockSerialPort) SetReadTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadTimeout = timeout
	return nil
}

// Written returns a copy of everything written to the port so far.
func (m *MockSerialPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, m.WriteBuffer.Len())
	copy(out, m.WriteBuffer.Bytes())
	return out
}
