package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// gathered returns the first sample value of each metric family in reg.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	out := make(map[string]float64, len(families))
	for _, f := range families {
		ms := f.GetMetric()
		if len(ms) == 0 {
			continue
		}
		switch {
		case ms[0].GetCounter() != nil:
			out[f.GetName()] = ms[0].GetCounter().GetValue()
		case ms[0].GetGauge() != nil:
			out[f.GetName()] = ms[0].GetGauge().GetValue()
		}
	}
	return out
}

func TestNew_RegistersOnCallerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FramesSent.Add(3)
	m.Sessions.WithLabelValues(OutcomeConnected).Inc()
	m.State.Set(3)

	got := gathered(t, reg)
	if got["voicecall_frames_sent_total"] != 3 {
		t.Errorf("frames_sent_total = %v, want 3", got["voicecall_frames_sent_total"])
	}
	if got["voicecall_sessions_total"] != 1 {
		t.Errorf("sessions_total = %v, want 1", got["voicecall_sessions_total"])
	}
	if got["voicecall_state"] != 3 {
		t.Errorf("state = %v, want 3", got["voicecall_state"])
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	// Two engines must not collide.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
