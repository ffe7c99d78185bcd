package audioio

import (
	"fmt"
	"log/slog"
)

// NewMicrophone creates a microphone source with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewMicrophone(cfg Config, logger *slog.Logger) (MicrophoneSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := resolveBackend(cfg.Backend)

	logger.Info("creating microphone",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"ring_samples", cfg.MicBufferSize(),
	)

	switch backend {
	case BackendMock:
		return NewMockMicrophone(cfg, logger), nil
	case BackendPortAudio:
		return newPortAudioMicrophone(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// NewSink creates a new audio sink with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSink(cfg Config, logger *slog.Logger) (SinkWithStats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := resolveBackend(cfg.Backend)

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger, cfg.BufferDuration), nil
	case BackendPortAudio:
		return newPortAudioSink(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

func resolveBackend(b Backend) Backend {
	if b == BackendAuto || b == "" {
		return detectBestBackend()
	}
	return b
}

// detectBestBackend returns portaudio when it was compiled in.
func detectBestBackend() Backend {
	if portAudioAvailable {
		return BackendPortAudio
	}
	return BackendMock
}

// AvailableBackends returns the list of backends compiled into this binary.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if portAudioAvailable {
		backends = append(backends, BackendPortAudio)
	}
	return backends
}
