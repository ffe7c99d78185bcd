//go:build portaudio

package audioio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

const portAudioAvailable = true

var (
	paMu   sync.Mutex
	paRefs int
)

// acquirePortAudio initializes the library on first use.
func acquirePortAudio() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio initialize: %w", err)
		}
	}
	paRefs++
	return nil
}

// releasePortAudio terminates the library after the last stream closes.
func releasePortAudio() {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		return
	}
	paRefs--
	if paRefs == 0 {
		portaudio.Terminate()
	}
}

// PortAudioMicrophone captures from the default input device into a ring.
type PortAudioMicrophone struct {
	*RingMicrophone

	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream

	callbacks atomic.Int64
}

func newPortAudioMicrophone(cfg Config, logger *slog.Logger) (MicrophoneSource, error) {
	return &PortAudioMicrophone{
		RingMicrophone: NewRingMicrophone(cfg.MicBufferSize(), cfg.SampleRate),
		cfg:            cfg,
		logger:         logger,
	}, nil
}

// Start opens the default input stream and begins capture.
func (m *PortAudioMicrophone) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return nil
	}
	if err := acquirePortAudio(); err != nil {
		return err
	}

	rate := m.cfg.deviceRate()
	frames := ResampledLen(m.cfg.BufferSize(), m.cfg.SampleRate, rate)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(rate), frames, func(in []float32) {
		m.callbacks.Add(1)
		m.Write(Resample(in, rate, m.cfg.SampleRate))
	})
	if err != nil {
		releasePortAudio()
		return fmt.Errorf("open input stream: %w", err)
	}

	if err := m.RingMicrophone.Start(); err != nil {
		stream.Close()
		releasePortAudio()
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		releasePortAudio()
		return fmt.Errorf("start input stream: %w", err)
	}
	m.stream = stream

	m.logger.Info("portaudio microphone started",
		"device_rate", rate,
		"sample_rate", m.cfg.SampleRate,
		"frames_per_buffer", frames,
	)
	return nil
}

// Stop closes the input stream.
func (m *PortAudioMicrophone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil
	}
	_ = m.RingMicrophone.Stop()

	err := m.stream.Stop()
	if cerr := m.stream.Close(); err == nil {
		err = cerr
	}
	m.stream = nil
	releasePortAudio()

	m.logger.Info("portaudio microphone stopped", "callbacks", m.callbacks.Load())
	return err
}

// PortAudioSink renders to the default output device.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	fn     atomic.Pointer[RenderFunc]

	callbacks atomic.Int64
	rendered  atomic.Int64
}

func newPortAudioSink(cfg Config, logger *slog.Logger) (SinkWithStats, error) {
	return &PortAudioSink{cfg: cfg, logger: logger}, nil
}

// Install opens the default output stream, or swaps the render function
// when one is already running.
func (s *PortAudioSink) Install(fn RenderFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fn.Store(&fn)
	if s.stream != nil {
		return nil
	}
	if err := acquirePortAudio(); err != nil {
		return err
	}

	rate := s.cfg.deviceRate()
	block := make([]float32, s.cfg.BufferSize())

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), ResampledLen(len(block), s.cfg.SampleRate, rate), func(out []float32) {
		s.callbacks.Add(1)
		render := s.fn.Load()
		if render == nil {
			clear(out)
			return
		}
		if rate == s.cfg.SampleRate {
			(*render)(out)
			s.rendered.Add(int64(len(out)))
			return
		}
		need := ResampledLen(len(out), rate, s.cfg.SampleRate)
		if need > len(block) {
			block = make([]float32, need)
		}
		(*render)(block[:need])
		s.rendered.Add(int64(need))
		n := copy(out, Resample(block[:need], s.cfg.SampleRate, rate))
		clear(out[n:])
	})
	if err != nil {
		s.fn.Store(nil)
		releasePortAudio()
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		s.fn.Store(nil)
		releasePortAudio()
		return fmt.Errorf("start output stream: %w", err)
	}
	s.stream = stream

	s.logger.Info("portaudio sink installed", "device_rate", rate)
	return nil
}

// Uninstall stops playback and closes the stream.
func (s *PortAudioSink) Uninstall() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fn.Store(nil)
	if s.stream == nil {
		return nil
	}

	err := s.stream.Stop()
	if cerr := s.stream.Close(); err == nil {
		err = cerr
	}
	s.stream = nil
	releasePortAudio()

	s.logger.Info("portaudio sink uninstalled")
	return err
}

// Stats returns sink statistics.
func (s *PortAudioSink) Stats() SinkStats {
	s.mu.Lock()
	installed := s.stream != nil
	s.mu.Unlock()
	return SinkStats{
		Callbacks:       s.callbacks.Load(),
		SamplesRendered: s.rendered.Load(),
		Installed:       installed,
		Backend:         string(BackendPortAudio),
	}
}
