// Package capture extracts newly captured audio from a microphone's
// circular buffer once per control-loop tick.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-voicecall/pkg/audioio"
)

var (
	// ErrNotStarted is returned by Tick before Start.
	ErrNotStarted = errors.New("capture: sampler not started")

	// ErrCaptureOverrun means the microphone lapped the read cursor between
	// two ticks. Audio from that interval is partly lost; the samples that
	// could be read are still returned.
	ErrCaptureOverrun = errors.New("capture: overrun")
)

// Option configures a Sampler.
type Option func(*Sampler)

// WithClock sets the time source used for overrun detection.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// Sampler tracks the last consumed position in a microphone ring and
// returns each captured sample exactly once, in order.
//
// A Sampler is not safe for concurrent use; it belongs to the control loop.
type Sampler struct {
	logger *slog.Logger
	now    func() time.Time

	mic      audioio.MicrophoneSource
	counter  audioio.WriteCounter
	length   int
	last     int
	lastTick time.Time
	written  int64

	overruns int64
}

// New creates a stopped Sampler.
func New(opts ...Option) *Sampler {
	s := &Sampler{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "capture")
	return s
}

// Start begins capture on mic and resets the cursor to 0.
func (s *Sampler) Start(mic audioio.MicrophoneSource) error {
	if s.mic != nil {
		if err := s.Stop(); err != nil {
			return err
		}
	}
	if mic.BufferLength() <= 0 {
		return fmt.Errorf("capture: invalid buffer length %d", mic.BufferLength())
	}
	if err := mic.Start(); err != nil {
		return fmt.Errorf("capture: start microphone: %w", err)
	}

	s.mic = mic
	s.counter, _ = mic.(audioio.WriteCounter)
	s.length = mic.BufferLength()
	s.last = 0
	s.written = 0
	s.lastTick = s.now()

	s.logger.Debug("capture started",
		"ring_samples", s.length,
		"sample_rate", mic.SampleRate(),
		"exact_overrun", s.counter != nil,
	)
	return nil
}

// Tick returns the samples written since the previous tick, or nil when
// nothing new has been captured. On overrun it returns the samples it could
// read together with ErrCaptureOverrun.
func (s *Sampler) Tick() ([]float32, error) {
	if s.mic == nil {
		return nil, ErrNotStarted
	}

	pos := s.mic.Position()
	now := s.now()
	overrun := s.lapped(now)
	s.lastTick = now

	diff := pos - s.last
	if diff < 0 {
		diff += s.length
	}
	if diff == 0 {
		if overrun {
			return nil, s.overrun()
		}
		return nil, nil
	}

	out := make([]float32, diff)
	first := min(diff, s.length-s.last)
	if err := s.mic.ReadRange(out[:first], s.last); err != nil {
		return nil, fmt.Errorf("capture: read: %w", err)
	}
	if first < diff {
		if err := s.mic.ReadRange(out[first:], 0); err != nil {
			return nil, fmt.Errorf("capture: read after wrap: %w", err)
		}
	}
	s.last = pos

	if overrun {
		return out, s.overrun()
	}
	return out, nil
}

// lapped reports whether a full ring or more was written since the last
// tick. Sources that count writes are checked exactly; others are judged
// by elapsed time.
func (s *Sampler) lapped(now time.Time) bool {
	if s.counter != nil {
		written := s.counter.Written()
		delta := written - s.written
		s.written = written
		return delta >= int64(s.length)
	}
	elapsed := now.Sub(s.lastTick)
	return elapsed.Seconds()*float64(s.mic.SampleRate()) >= float64(s.length)
}

func (s *Sampler) overrun() error {
	s.overruns++
	s.logger.Warn("capture overrun", "overruns", s.overruns)
	return ErrCaptureOverrun
}

// Overruns returns the number of overruns since the sampler was created.
func (s *Sampler) Overruns() int64 {
	return s.overruns
}

// Position returns the last consumed ring position.
func (s *Sampler) Position() int {
	return s.last
}

// Running reports whether capture is active.
func (s *Sampler) Running() bool {
	return s.mic != nil
}

// Stop halts the microphone and then resets the cursor. Stopping an idle
// sampler is a no-op.
func (s *Sampler) Stop() error {
	if s.mic == nil {
		return nil
	}
	err := s.mic.Stop()

	s.mic = nil
	s.counter = nil
	s.last = 0
	s.written = 0

	if err != nil {
		return fmt.Errorf("capture: stop microphone: %w", err)
	}
	s.logger.Debug("capture stopped")
	return nil
}
