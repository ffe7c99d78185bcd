package audioio

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockMicrophone is a RingMicrophone fed by a generator goroutine.
// It produces silence or a sine wave, one buffer per BufferDuration.
type MockMicrophone struct {
	*RingMicrophone

	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockMicrophoneOption configures a MockMicrophone.
type MockMicrophoneOption func(*MockMicrophone)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockMicrophoneOption {
	return func(m *MockMicrophone) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// NewMockMicrophone creates a new mock microphone.
func NewMockMicrophone(cfg Config, logger *slog.Logger, opts ...MockMicrophoneOption) *MockMicrophone {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockMicrophone{
		RingMicrophone: NewRingMicrophone(cfg.MicBufferSize(), cfg.SampleRate),
		cfg:            cfg,
		logger:         logger,
		amplitude:      0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start resets the ring and begins generating audio.
func (m *MockMicrophone) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopCh != nil {
		return nil
	}
	if err := m.RingMicrophone.Start(); err != nil {
		return err
	}

	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.generateLoop(m.stopCh, m.done)

	m.logger.Info("mock microphone started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
	)
	return nil
}

func (m *MockMicrophone) generateLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	buf := make([]float32, m.cfg.BufferSize())
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.generate(buf)
			m.Write(buf)
		}
	}
}

func (m *MockMicrophone) generate(buf []float32) {
	if m.frequency <= 0 {
		clear(buf)
		return
	}
	for i := range buf {
		buf[i] = float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
		m.phase++
		if m.phase >= float64(m.cfg.SampleRate) {
			m.phase = 0
		}
	}
}

// Stop halts audio generation.
func (m *MockMicrophone) Stop() error {
	m.mu.Lock()
	stopCh, done := m.stopCh, m.done
	m.stopCh, m.done = nil, nil
	m.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	<-done

	m.logger.Info("mock microphone stopped")
	return m.RingMicrophone.Stop()
}

// MockSink is a mock audio sink for testing.
//
// With a positive period it calls the installed RenderFunc from a ticker
// goroutine, like a device clock. With period zero nothing is rendered until
// the test calls Render.
type MockSink struct {
	cfg    Config
	logger *slog.Logger
	period time.Duration

	mu     sync.Mutex
	fn     RenderFunc
	stopCh chan struct{}
	done   chan struct{}

	// Stats
	callbacks atomic.Int64
	rendered  atomic.Int64

	// Tail of recently rendered audio, for assertions.
	historyMu sync.Mutex
	history   []float32
	keep      int
}

// NewMockSink creates a mock sink rendering one BufferSize block per
// period. Pass period 0 for a manually clocked sink.
func NewMockSink(cfg Config, logger *slog.Logger, period time.Duration) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{
		cfg:    cfg,
		logger: logger,
		period: period,
		keep:   cfg.SampleRate,
	}
}

// Install starts rendering through fn.
func (s *MockSink) Install(fn RenderFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fn = fn
	if s.period > 0 && s.stopCh == nil {
		s.stopCh = make(chan struct{})
		s.done = make(chan struct{})
		go s.clockLoop(s.stopCh, s.done)
	}
	s.logger.Info("mock audio sink installed")
	return nil
}

func (s *MockSink) clockLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.Render(s.cfg.BufferSize())
		}
	}
}

// Render invokes the installed function for n samples and returns them.
// It returns nil when nothing is installed.
func (s *MockSink) Render(n int) []float32 {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn == nil {
		return nil
	}

	out := make([]float32, n)
	fn(out)

	s.callbacks.Add(1)
	s.rendered.Add(int64(n))

	s.historyMu.Lock()
	s.history = append(s.history, out...)
	if over := len(s.history) - s.keep; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
	s.historyMu.Unlock()

	return out
}

// History returns a copy of the most recently rendered samples.
func (s *MockSink) History() []float32 {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return append([]float32(nil), s.history...)
}

// Uninstall stops rendering.
func (s *MockSink) Uninstall() error {
	s.mu.Lock()
	stopCh, done := s.stopCh, s.done
	wasInstalled := s.fn != nil
	s.fn, s.stopCh, s.done = nil, nil, nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-done
	}
	if wasInstalled {
		s.logger.Info("mock audio sink uninstalled")
	}
	return nil
}

// Installed reports whether a render function is active.
func (s *MockSink) Installed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fn != nil
}

// Stats returns sink statistics.
func (s *MockSink) Stats() SinkStats {
	return SinkStats{
		Callbacks:       s.callbacks.Load(),
		SamplesRendered: s.rendered.Load(),
		Installed:       s.Installed(),
		Backend:         "mock",
	}
}

var (
	_ MicrophoneSource = (*MockMicrophone)(nil)
	_ SinkWithStats    = (*MockSink)(nil)
)
