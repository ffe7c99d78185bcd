package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-voicecall/pkg/audioio"
)

// cursorMic is a MicrophoneSource whose cursor the test moves by hand.
// Sample i of the ring holds the value i.
type cursorMic struct {
	buf     []float32
	pos     int
	rate    int
	started int
	stopped int
}

func newCursorMic(length, rate int) *cursorMic {
	m := &cursorMic{buf: make([]float32, length), rate: rate}
	for i := range m.buf {
		m.buf[i] = float32(i)
	}
	return m
}

func (m *cursorMic) Start() error      { m.started++; m.pos = 0; return nil }
func (m *cursorMic) Stop() error       { m.stopped++; return nil }
func (m *cursorMic) Position() int     { return m.pos }
func (m *cursorMic) BufferLength() int { return len(m.buf) }
func (m *cursorMic) SampleRate() int   { return m.rate }
func (m *cursorMic) ReadRange(dst []float32, start int) error {
	if start < 0 || start+len(dst) > len(m.buf) {
		return audioio.ErrReadRange
	}
	copy(dst, m.buf[start:])
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSampler() (*Sampler, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	return New(WithClock(clk.now)), clk
}

func assertRange(t *testing.T, got []float32, from, n, length int) {
	t.Helper()
	if len(got) != n {
		t.Fatalf("expected %d samples, got %d", n, len(got))
	}
	for i, v := range got {
		want := float32((from + i) % length)
		if v != want {
			t.Fatalf("sample %d: got %v, want %v", i, v, want)
		}
	}
}

func TestSampler_NotStarted(t *testing.T) {
	s, _ := newTestSampler()
	if _, err := s.Tick(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop on idle sampler: %v", err)
	}
}

func TestSampler_ContiguousTicks(t *testing.T) {
	mic := newCursorMic(100, 16000)
	s, clk := newTestSampler()
	if err := s.Start(mic); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	t.Run("no new samples", func(t *testing.T) {
		got, err := s.Tick()
		if err != nil || got != nil {
			t.Fatalf("expected nil, nil; got %v, %v", got, err)
		}
	})

	t.Run("p1 then p2 covers [p1,p2)", func(t *testing.T) {
		mic.pos = 30
		clk.advance(time.Millisecond)
		first, err := s.Tick()
		if err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		assertRange(t, first, 0, 30, 100)

		mic.pos = 72
		clk.advance(time.Millisecond)
		second, err := s.Tick()
		if err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		assertRange(t, second, 30, 42, 100)

		if s.Position() != 72 {
			t.Errorf("expected cursor 72, got %d", s.Position())
		}
	})
}

func TestSampler_Wraparound(t *testing.T) {
	const length = 64
	mic := newCursorMic(length, 16000)
	s, clk := newTestSampler()
	_ = s.Start(mic)

	mic.pos = length - 5
	clk.advance(time.Millisecond)
	if _, err := s.Tick(); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	mic.pos = 3
	clk.advance(time.Millisecond)
	got, err := s.Tick()
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	assertRange(t, got, length-5, 8, length)
}

func TestSampler_OverrunByElapsedTime(t *testing.T) {
	// 1600 samples at 16kHz is 100ms of ring.
	mic := newCursorMic(1600, 16000)
	s, clk := newTestSampler()
	_ = s.Start(mic)

	mic.pos = 400
	clk.advance(25 * time.Millisecond)
	if _, err := s.Tick(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mic.pos = 500
	clk.advance(150 * time.Millisecond)
	got, err := s.Tick()
	if !errors.Is(err, ErrCaptureOverrun) {
		t.Fatalf("expected ErrCaptureOverrun, got %v", err)
	}
	// The readable part is still delivered and the cursor advances.
	assertRange(t, got, 400, 100, 1600)
	if s.Position() != 500 {
		t.Errorf("expected cursor 500, got %d", s.Position())
	}
	if s.Overruns() != 1 {
		t.Errorf("expected 1 overrun, got %d", s.Overruns())
	}

	mic.pos = 600
	clk.advance(10 * time.Millisecond)
	if _, err := s.Tick(); err != nil {
		t.Errorf("session should continue after overrun, got %v", err)
	}
}

func TestSampler_OverrunByWriteCounter(t *testing.T) {
	mic := audioio.NewRingMicrophone(8, 16000)
	s, _ := newTestSampler()
	if err := s.Start(mic); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mic.Write([]float32{1, 2, 3})
	got, err := s.Tick()
	if err != nil || len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d (%v)", len(got), err)
	}

	// Eleven samples lap an 8-sample ring even though the clock never moved.
	mic.Write(make([]float32, 11))
	if _, err := s.Tick(); !errors.Is(err, ErrCaptureOverrun) {
		t.Fatalf("expected ErrCaptureOverrun, got %v", err)
	}

	mic.Write([]float32{0.5})
	got, err = s.Tick()
	if err != nil || len(got) != 1 || got[0] != 0.5 {
		t.Fatalf("expected [0.5], got %v (%v)", got, err)
	}
}

func TestSampler_StopResets(t *testing.T) {
	mic := newCursorMic(32, 16000)
	s, clk := newTestSampler()
	_ = s.Start(mic)

	mic.pos = 10
	clk.advance(time.Millisecond)
	_, _ = s.Tick()

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if mic.stopped != 1 {
		t.Errorf("expected mic stopped once, got %d", mic.stopped)
	}
	if s.Position() != 0 || s.Running() {
		t.Errorf("expected reset sampler, pos=%d running=%v", s.Position(), s.Running())
	}
	if _, err := s.Tick(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted after Stop, got %v", err)
	}

	// Restart begins at 0 again.
	_ = s.Start(mic)
	mic.pos = 4
	clk.advance(time.Millisecond)
	got, _ := s.Tick()
	assertRange(t, got, 0, 4, 32)
}
