package playback

import (
	"sync"
	"testing"
)

func seq(from, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(from + i)
	}
	return out
}

func assertSamples(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestQueue_PullAlwaysReturnsN(t *testing.T) {
	q := New(0, DropOldest)

	t.Run("empty queue yields silence", func(t *testing.T) {
		got := q.Pull(8)
		assertSamples(t, got, make([]float32, 8))
	})

	t.Run("shortfall padded with zeros", func(t *testing.T) {
		q.PushMany([]float32{0.5, -0.5, 0.25})
		got := q.Pull(6)
		assertSamples(t, got, []float32{0.5, -0.5, 0.25, 0, 0, 0})
		if q.Len() != 0 {
			t.Errorf("expected empty queue, got %d", q.Len())
		}
	})

	t.Run("n much larger than size", func(t *testing.T) {
		q.PushMany([]float32{1})
		got := q.Pull(100000)
		if len(got) != 100000 || got[0] != 1 || got[99999] != 0 {
			t.Error("unexpected large pull result")
		}
	})

	t.Run("zero and negative n", func(t *testing.T) {
		if len(q.Pull(0)) != 0 || len(q.Pull(-3)) != 0 {
			t.Error("expected empty result")
		}
	})
}

func TestQueue_FIFOAcrossWrap(t *testing.T) {
	q := New(8, DropOldest)

	q.PushMany(seq(0, 6))
	assertSamples(t, q.Pull(4), seq(0, 4))

	// Tail wraps around the end of the ring.
	q.PushMany(seq(6, 5))
	assertSamples(t, q.Pull(7), seq(4, 7))

	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestQueue_Fill(t *testing.T) {
	q := New(16, DropOldest)
	q.PushMany(seq(1, 3))

	out := []float32{9, 9, 9, 9, 9}
	n := q.Fill(out)
	if n != 3 {
		t.Fatalf("expected 3 real samples, got %d", n)
	}
	assertSamples(t, out, []float32{1, 2, 3, 0, 0})

	st := q.Stats()
	if st.Underruns != 1 {
		t.Errorf("expected 1 underrun, got %d", st.Underruns)
	}
	if st.Pulled != 3 || st.Pushed != 3 {
		t.Errorf("unexpected counters: %+v", st)
	}
}

func TestQueue_Overflow(t *testing.T) {
	t.Run("drop oldest", func(t *testing.T) {
		q := New(4, DropOldest)
		if d := q.PushMany(seq(0, 3)); d != 0 {
			t.Fatalf("unexpected drop: %d", d)
		}
		if d := q.PushMany(seq(3, 3)); d != 2 {
			t.Fatalf("expected 2 dropped, got %d", d)
		}
		assertSamples(t, q.Pull(4), seq(2, 4))
	})

	t.Run("drop newest", func(t *testing.T) {
		q := New(4, DropNewest)
		q.PushMany(seq(0, 3))
		if d := q.PushMany(seq(3, 3)); d != 2 {
			t.Fatalf("expected 2 dropped, got %d", d)
		}
		assertSamples(t, q.Pull(4), seq(0, 4))
	})

	t.Run("drop oldest with oversized push", func(t *testing.T) {
		q := New(4, DropOldest)
		q.PushMany(seq(100, 2))
		if d := q.PushMany(seq(0, 10)); d != 8 {
			t.Fatalf("expected 8 dropped, got %d", d)
		}
		assertSamples(t, q.Pull(4), seq(6, 4))
	})

	t.Run("drop newest with oversized push", func(t *testing.T) {
		q := New(4, DropNewest)
		q.PushMany(seq(100, 1))
		if d := q.PushMany(seq(0, 10)); d != 7 {
			t.Fatalf("expected 7 dropped, got %d", d)
		}
		assertSamples(t, q.Pull(4), []float32{100, 0, 1, 2})
	})

	t.Run("stats count drops", func(t *testing.T) {
		q := New(2, DropOldest)
		q.PushMany(seq(0, 5))
		if st := q.Stats(); st.Dropped != 3 || st.Buffered != 2 || st.Capacity != 2 {
			t.Errorf("unexpected stats: %+v", st)
		}
	})
}

func TestQueue_UnboundedGrowth(t *testing.T) {
	q := New(0, DropOldest)
	q.PushMany(seq(0, 3000))
	q.Pull(1000)
	// Forces growth while the live region is offset from index 0.
	q.PushMany(seq(3000, 10000))

	if q.Len() != 12000 {
		t.Fatalf("expected 12000 queued, got %d", q.Len())
	}
	assertSamples(t, q.Pull(12000), seq(1000, 12000))
	if q.Stats().Dropped != 0 {
		t.Error("unbounded queue must not drop")
	}
}

func TestQueue_Clear(t *testing.T) {
	q := New(8, DropOldest)
	q.PushMany(seq(0, 5))
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after Clear, got %d", q.Len())
	}
	q.PushMany([]float32{7})
	assertSamples(t, q.Pull(1), []float32{7})
}

func TestParseOverflowPolicy(t *testing.T) {
	for _, name := range []string{"drop_oldest", "drop_newest"} {
		p, err := ParseOverflowPolicy(name)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if p.String() != name {
			t.Errorf("round trip: got %q, want %q", p.String(), name)
		}
	}
	if _, err := ParseOverflowPolicy("block"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	const total = 50000
	q := New(0, DropOldest)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i += 100 {
			q.PushMany(seq(i+1, 100))
		}
	}()

	got := make([]float32, 0, total)
	buf := make([]float32, 64)
	for len(got) < total {
		n := q.Fill(buf)
		got = append(got, buf[:n]...)
	}
	wg.Wait()

	for i, v := range got {
		if v != float32(i+1) {
			t.Fatalf("order broken at %d: got %v", i, v)
		}
	}
}
