// Package playback provides the sample queue between the network receive
// loop and the audio render callback.
//
// The queue has exactly one producer and one consumer. Pull and Fill never
// block: a shortfall is padded with silence so the device clock is never
// stalled.
package playback

import (
	"fmt"
	"sync"
)

// OverflowPolicy decides which samples are lost when a bounded queue is full.
type OverflowPolicy int

const (
	// DropOldest discards queued samples from the head to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming samples that do not fit.
	DropNewest
)

// String returns the config name of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy parses "drop_oldest" or "drop_newest".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "drop_oldest", "":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("playback: unknown overflow policy %q", s)
	}
}

// initialUnbounded is the starting ring size of an uncapped queue.
const initialUnbounded = 4096

// Stats is a snapshot of queue counters.
type Stats struct {
	Pushed    int64 `json:"pushed"`
	Pulled    int64 `json:"pulled"`
	Dropped   int64 `json:"dropped"`
	// Underruns counts Fill calls padded with silence after the first push.
	Underruns int64 `json:"underruns"`
	Buffered  int   `json:"buffered"`
	Capacity  int   `json:"capacity"`
}

// Queue is a FIFO of float samples backed by a ring buffer and guarded by a
// single mutex. Capacity 0 means unbounded: the ring grows on demand.
type Queue struct {
	capacity int
	policy   OverflowPolicy

	mu    sync.Mutex
	buf   []float32
	head  int
	count int

	pushed    int64
	pulled    int64
	dropped   int64
	underruns int64
}

// New creates a queue holding at most capacity samples. A capacity of zero
// or less disables the cap.
func New(capacity int, policy OverflowPolicy) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	size := capacity
	if size == 0 {
		size = initialUnbounded
	}
	return &Queue{
		capacity: capacity,
		policy:   policy,
		buf:      make([]float32, size),
	}
}

// PushMany appends samples to the tail and returns how many samples were
// discarded by the overflow policy.
func (q *Queue) PushMany(samples []float32) (dropped int) {
	if len(samples) == 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity == 0 {
		q.growLocked(q.count + len(samples))
	} else {
		if len(samples) > q.capacity {
			// Only the newest capacity samples can ever survive.
			if q.policy == DropNewest {
				dropped = len(samples) - (q.capacity - q.count)
				samples = samples[:q.capacity-q.count]
			} else {
				dropped = len(samples) - q.capacity + q.count
				q.head, q.count = 0, 0
				samples = samples[len(samples)-q.capacity:]
			}
		} else if free := q.capacity - q.count; len(samples) > free {
			over := len(samples) - free
			if q.policy == DropNewest {
				samples = samples[:free]
			} else {
				q.head = (q.head + over) % len(q.buf)
				q.count -= over
			}
			dropped = over
		}
	}

	q.writeLocked(samples)
	q.pushed += int64(len(samples))
	q.dropped += int64(dropped)
	return dropped
}

func (q *Queue) writeLocked(samples []float32) {
	tail := (q.head + q.count) % len(q.buf)
	n := copy(q.buf[tail:], samples)
	if n < len(samples) {
		copy(q.buf, samples[n:])
	}
	q.count += len(samples)
}

func (q *Queue) growLocked(need int) {
	if need <= len(q.buf) {
		return
	}
	size := len(q.buf) * 2
	for size < need {
		size *= 2
	}
	buf := make([]float32, size)
	q.readLocked(buf[:q.count])
	q.buf = buf
	q.head = 0
}

// readLocked copies len(dst) samples from the head without consuming them.
func (q *Queue) readLocked(dst []float32) {
	n := copy(dst, q.buf[q.head:min(q.head+len(dst), len(q.buf))])
	if n < len(dst) {
		copy(dst[n:], q.buf)
	}
}

// Fill copies up to len(out) samples from the head into out and pads the
// rest with silence. It returns the number of real samples copied. Fill is
// the allocation-free form used by render callbacks.
func (q *Queue) Fill(out []float32) int {
	q.mu.Lock()
	n := min(len(out), q.count)
	q.readLocked(out[:n])
	q.head = (q.head + n) % len(q.buf)
	q.count -= n
	q.pulled += int64(n)
	if n < len(out) && q.pushed > 0 {
		q.underruns++
	}
	q.mu.Unlock()

	clear(out[n:])
	return n
}

// Pull removes up to n samples from the head. The result always has length
// n; missing samples are 0.0.
func (q *Queue) Pull(n int) []float32 {
	if n <= 0 {
		return []float32{}
	}
	out := make([]float32, n)
	q.Fill(out)
	return out
}

// Len returns the number of queued samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the configured capacity, 0 meaning unbounded.
func (q *Queue) Cap() int {
	return q.capacity
}

// Policy returns the overflow policy.
func (q *Queue) Policy() OverflowPolicy {
	return q.policy
}

// Clear discards all queued samples.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head, q.count = 0, 0
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pushed:    q.pushed,
		Pulled:    q.pulled,
		Dropped:   q.dropped,
		Underruns: q.underruns,
		Buffered:  q.count,
		Capacity:  q.capacity,
	}
}
