package audioio

import (
	"testing"
	"time"
)

func TestMockMicrophone_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	mic := NewMockMicrophone(cfg, nil)

	// Start should succeed
	if err := mic.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Starting again should be a no-op
	if err := mic.Start(); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	// Stop should succeed
	if err := mic.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Stopping again should be a no-op
	if err := mic.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}

func TestMockMicrophone_AdvancesCursor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 5 * time.Millisecond

	mic := NewMockMicrophone(cfg, nil, WithSineWave(440, 0.5))
	if err := mic.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mic.Stop()

	deadline := time.Now().Add(time.Second)
	for mic.Written() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("mock microphone produced no samples")
		}
		time.Sleep(time.Millisecond)
	}

	if mic.Written()%int64(cfg.BufferSize()) != 0 {
		t.Errorf("expected whole buffers, got %d samples", mic.Written())
	}

	buf := make([]float32, cfg.BufferSize())
	if err := mic.ReadRange(buf, 0); err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if RMS(buf) == 0 {
		t.Error("expected non-silent sine output")
	}
}

func TestMockSink_ManualRender(t *testing.T) {
	cfg := DefaultConfig()
	sink := NewMockSink(cfg, nil, 0)

	if out := sink.Render(4); out != nil {
		t.Fatalf("expected nil before Install, got %v", out)
	}

	err := sink.Install(func(out []float32) {
		for i := range out {
			out[i] = 0.25
		}
	})
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	out := sink.Render(4)
	if len(out) != 4 || out[3] != 0.25 {
		t.Fatalf("unexpected render %v", out)
	}

	stats := sink.Stats()
	if stats.Callbacks != 1 || stats.SamplesRendered != 4 || !stats.Installed {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(sink.History()) != 4 {
		t.Errorf("expected 4 samples of history, got %d", len(sink.History()))
	}

	if err := sink.Uninstall(); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if sink.Installed() {
		t.Error("expected sink to be uninstalled")
	}
	if err := sink.Uninstall(); err != nil {
		t.Errorf("second Uninstall failed: %v", err)
	}
}

func TestMockSink_Clocked(t *testing.T) {
	cfg := DefaultConfig()
	sink := NewMockSink(cfg, nil, 2*time.Millisecond)

	calls := make(chan int, 64)
	_ = sink.Install(func(out []float32) {
		select {
		case calls <- len(out):
		default:
		}
	})
	defer sink.Uninstall()

	select {
	case n := <-calls:
		if n != cfg.BufferSize() {
			t.Errorf("expected %d samples per callback, got %d", cfg.BufferSize(), n)
		}
	case <-time.After(time.Second):
		t.Fatal("clocked sink never rendered")
	}
}

func TestFactory_Mock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock

	mic, err := NewMicrophone(cfg, nil)
	if err != nil {
		t.Fatalf("NewMicrophone failed: %v", err)
	}
	if mic.BufferLength() != cfg.MicBufferSize() {
		t.Errorf("expected ring of %d, got %d", cfg.MicBufferSize(), mic.BufferLength())
	}

	sink, err := NewSink(cfg, nil)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	if sink.Stats().Backend != "mock" {
		t.Errorf("unexpected backend %q", sink.Stats().Backend)
	}

	cfg.Backend = "alsa"
	if _, err := NewMicrophone(cfg, nil); err == nil {
		t.Error("expected error for unsupported backend")
	}

	cfg.Backend = BackendMock
	cfg.SampleRate = 0
	if _, err := NewSink(cfg, nil); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestAvailableBackends(t *testing.T) {
	backends := AvailableBackends()
	if len(backends) == 0 || backends[0] != BackendMock {
		t.Errorf("mock backend must always be available, got %v", backends)
	}
}
