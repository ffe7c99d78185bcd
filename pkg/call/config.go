package call

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-voicecall/pkg/capture"
	"github.com/teslashibe/go-voicecall/pkg/metrics"
	"github.com/teslashibe/go-voicecall/pkg/negotiate"
	"github.com/teslashibe/go-voicecall/pkg/playback"
	"github.com/teslashibe/go-voicecall/pkg/transport"
)

// Config holds configuration for a Controller.
type Config struct {
	// Credentials authenticate negotiation.
	Credentials negotiate.Credentials

	// Gain multiplies captured samples before encoding. Must be >= 1.
	Gain float32

	// Volume scales rendered samples. Range 0.0 to 1.0.
	Volume float32

	// Queue buffers received audio. Nil means an unbounded queue.
	Queue *playback.Queue

	// EventBuffer is the capacity of the event channel.
	EventBuffer int

	// Logger is the structured logger to use.
	Logger *slog.Logger

	// Metrics receives engine instruments. Nil registers them on a private
	// registry that nothing exports.
	Metrics *metrics.Metrics

	// TransportOptions are passed to every transport.Open.
	TransportOptions []transport.Option

	// SamplerOptions configure the capture sampler.
	SamplerOptions []capture.Option
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Gain:        1,
		Volume:      1,
		EventBuffer: 64,
		Logger:      slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Gain < 1 {
		return fmt.Errorf("call: gain must be >= 1, got %v", c.Gain)
	}
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("call: volume must be in [0, 1], got %v", c.Volume)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("call: event buffer must be positive, got %d", c.EventBuffer)
	}
	return nil
}

// Option is a functional option for configuring a Controller.
type Option func(*Config)

// WithCredentials sets the negotiation credentials.
func WithCredentials(creds negotiate.Credentials) Option {
	return func(c *Config) {
		c.Credentials = creds
	}
}

// WithGain sets the capture gain.
func WithGain(gain float32) Option {
	return func(c *Config) {
		c.Gain = gain
	}
}

// WithVolume sets the output volume.
func WithVolume(volume float32) Option {
	return func(c *Config) {
		c.Volume = volume
	}
}

// WithQueue sets the playback queue.
func WithQueue(q *playback.Queue) Option {
	return func(c *Config) {
		c.Queue = q
	}
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Config) {
		c.EventBuffer = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithTransportOptions appends options for transport.Open.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Config) {
		c.TransportOptions = append(c.TransportOptions, opts...)
	}
}

// WithSamplerOptions appends options for the capture sampler.
func WithSamplerOptions(opts ...capture.Option) Option {
	return func(c *Config) {
		c.SamplerOptions = append(c.SamplerOptions, opts...)
	}
}
