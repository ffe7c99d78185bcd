package audioio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrReadRange is returned for a ReadRange that falls outside the buffer.
var ErrReadRange = errors.New("audioio: read range out of bounds")

// MicrophoneSource captures audio continuously into a fixed-length circular
// buffer. The write cursor advances as the device delivers samples and
// wraps to zero at BufferLength.
type MicrophoneSource interface {
	// Start begins capture. The write cursor restarts at 0.
	Start() error

	// Stop halts capture. It is safe to call Stop multiple times.
	Stop() error

	// Position returns the current write cursor in [0, BufferLength).
	Position() int

	// BufferLength returns the ring length in samples.
	BufferLength() int

	// SampleRate returns the capture rate in Hz.
	SampleRate() int

	// ReadRange copies len(dst) contiguous samples starting at start.
	// The range must not cross the end of the ring.
	ReadRange(dst []float32, start int) error
}

// WriteCounter is implemented by sources that count every sample they have
// captured since Start. Consumers use it to detect cursor laps exactly.
type WriteCounter interface {
	Written() int64
}

// RingMicrophone is a MicrophoneSource over an in-memory ring. Device
// backends and mocks feed it through Write; tests can drive it directly.
type RingMicrophone struct {
	sampleRate int

	mu      sync.Mutex
	buf     []float32
	pos     int
	written int64
	running bool
}

// NewRingMicrophone creates a ring of length samples at sampleRate.
func NewRingMicrophone(length, sampleRate int) *RingMicrophone {
	if length <= 0 {
		length = 1
	}
	return &RingMicrophone{
		sampleRate: sampleRate,
		buf:        make([]float32, length),
	}
}

// Start resets the cursor and begins accepting writes.
func (m *RingMicrophone) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = 0
	m.written = 0
	clear(m.buf)
	m.running = true
	return nil
}

// Stop stops accepting writes.
func (m *RingMicrophone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Running reports whether the ring is accepting writes.
func (m *RingMicrophone) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Write stores samples at the cursor, wrapping and overwriting the oldest
// data, and advances the cursor. Writes while stopped are discarded.
func (m *RingMicrophone) Write(samples []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	m.written += int64(len(samples))
	if len(samples) > len(m.buf) {
		// Only the last lap survives.
		skip := len(samples) - len(m.buf)
		m.pos = (m.pos + skip) % len(m.buf)
		samples = samples[skip:]
	}

	n := copy(m.buf[m.pos:], samples)
	if n < len(samples) {
		copy(m.buf, samples[n:])
	}
	m.pos = (m.pos + len(samples)) % len(m.buf)
}

// Position returns the write cursor.
func (m *RingMicrophone) Position() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// Written returns the number of samples captured since Start.
func (m *RingMicrophone) Written() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written
}

// BufferLength returns the ring length.
func (m *RingMicrophone) BufferLength() int {
	return len(m.buf)
}

// SampleRate returns the capture rate.
func (m *RingMicrophone) SampleRate() int {
	return m.sampleRate
}

// ReadRange copies buf[start:start+len(dst)] into dst.
func (m *RingMicrophone) ReadRange(dst []float32, start int) error {
	if start < 0 || start+len(dst) > len(m.buf) {
		return fmt.Errorf("%w: start=%d len=%d ring=%d", ErrReadRange, start, len(dst), len(m.buf))
	}
	m.mu.Lock()
	copy(dst, m.buf[start:start+len(dst)])
	m.mu.Unlock()
	return nil
}

var (
	_ MicrophoneSource = (*RingMicrophone)(nil)
	_ WriteCounter     = (*RingMicrophone)(nil)
)
