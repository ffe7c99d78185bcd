// Package audioio provides the microphone and speaker capabilities used by
// the call engine.
//
// A MicrophoneSource captures continuously into a circular buffer and exposes
// its write cursor; consumers poll the cursor and copy out what is new. An
// AudioSink is pull based: the device invokes an installed render function
// whenever it needs the next block of samples.
//
// This package supports multiple backends:
//   - PortAudio - real devices, built with -tags portaudio
//   - Mock - CI/testing without hardware
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (portaudio when compiled in, otherwise mock)
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the engine sample rate in Hz.
	// Default: 16000
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// DeviceSampleRate is the rate the hardware stream is opened at.
	// Audio is resampled to SampleRate when they differ. 0 means SampleRate.
	DeviceSampleRate int `yaml:"device_sample_rate" json:"device_sample_rate"`

	// BufferDuration is the device callback period.
	// Default: 20ms (320 samples at 16kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// MicBuffer is the length of the microphone's circular buffer.
	// Default: 1s
	MicBuffer time.Duration `yaml:"mic_buffer" json:"mic_buffer"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		BufferDuration: 20 * time.Millisecond,
		MicBuffer:      time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.DeviceSampleRate < 0 {
		return fmt.Errorf("device_sample_rate cannot be negative, got %d", c.DeviceSampleRate)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	if c.MicBuffer < c.BufferDuration {
		return fmt.Errorf("mic_buffer (%v) must hold at least one buffer (%v)", c.MicBuffer, c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of samples per callback buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// MicBufferSize returns the length of the microphone ring in samples.
func (c *Config) MicBufferSize() int {
	return int(float64(c.SampleRate) * c.MicBuffer.Seconds())
}

// deviceRate returns the hardware stream rate.
func (c *Config) deviceRate() int {
	if c.DeviceSampleRate > 0 {
		return c.DeviceSampleRate
	}
	return c.SampleRate
}
