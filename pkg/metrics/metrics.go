// Package metrics defines the Prometheus instruments of the call engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicecall"

// Metrics contains all Prometheus metrics for the call engine
type Metrics struct {
	// Session lifecycle
	State            prometheus.Gauge
	Sessions         *prometheus.CounterVec
	NegotiateSeconds prometheus.Histogram
	ConnectSeconds   prometheus.Histogram
	SessionSeconds   prometheus.Histogram

	// Audio path
	FramesSent      prometheus.Counter
	BytesSent       prometheus.Counter
	FramesReceived  prometheus.Counter
	MalformedFrames prometheus.Counter
	SendFailures    prometheus.Counter
	CaptureOverruns prometheus.Counter

	// Playback queue
	QueueDepth    prometheus.Gauge
	QueueDropped  prometheus.Counter
	QueueUnderrun prometheus.Counter

	// Diagnostics
	Events        *prometheus.CounterVec
	EventsDropped prometheus.Counter
}

// New creates and registers all metrics on reg. Each controller needs its
// own registry, or a prometheus.WrapRegistererWith prefix.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		State: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current session state (0=idle 1=negotiating 2=connecting 3=active 4=disconnecting)",
		}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session attempts by outcome",
		}, []string{"outcome"}),
		NegotiateSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiate_duration_seconds",
			Help:      "Time to create a call",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		ConnectSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Time to open the audio connection",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		SessionSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time spent Active per session",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Captured PCM16 frames queued for sending",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Captured PCM16 bytes queued for sending",
		}),
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound binary frames decoded into the playback queue",
		}),
		MalformedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Inbound binary frames discarded as malformed",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Frames that could not be queued for sending",
		}),
		CaptureOverruns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_overruns_total",
			Help:      "Ticks where the microphone lapped the capture cursor",
		}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_samples",
			Help:      "Samples waiting in the playback queue",
		}),
		QueueDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_dropped_samples_total",
			Help:      "Samples dropped by the playback overflow policy",
		}),
		QueueUnderrun: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_underruns_total",
			Help:      "Render callbacks padded with silence",
		}),

		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Diagnostic events by kind",
		}, []string{"kind"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Diagnostic events dropped because no one was reading",
		}),
	}
}

// Session outcomes.
const (
	OutcomeNegotiationFailed = "negotiation_failed"
	OutcomeConnectFailed     = "connect_failed"
	OutcomeConnected         = "connected"
	OutcomeCancelled         = "cancelled"
)
