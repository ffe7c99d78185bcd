package audioio

// RenderFunc fills out with the next block of samples to play. It runs on
// the device's clock and must return quickly without blocking.
type RenderFunc func(out []float32)

// AudioSink plays audio by periodically invoking an installed RenderFunc.
type AudioSink interface {
	// Install starts playback, pulling samples from fn. Installing over an
	// existing function replaces it.
	Install(fn RenderFunc) error

	// Uninstall stops playback and releases the output stream.
	// It is safe to call Uninstall multiple times.
	Uninstall() error
}

// SinkStats contains statistics about the audio sink.
type SinkStats struct {
	// Callbacks is the total number of render invocations.
	Callbacks int64 `json:"callbacks"`

	// SamplesRendered is the total number of samples rendered.
	SamplesRendered int64 `json:"samples_rendered"`

	// Installed indicates if a render function is active.
	Installed bool `json:"installed"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SinkWithStats extends AudioSink with statistics.
type SinkWithStats interface {
	AudioSink
	Stats() SinkStats
}
