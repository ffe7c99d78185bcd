// Package pcm converts between normalized float samples and the 16-bit
// signed little-endian PCM used on the wire.
//
// All functions are pure: they keep no state between calls.
package pcm

import (
	"encoding/binary"
	"errors"
	"math"
)

// BytesPerSample is the wire size of one mono PCM16 sample.
const BytesPerSample = 2

const (
	encodeScale = 32767
	decodeScale = 32768
)

// ErrMalformedFrame is returned by Decode for a frame with an odd byte count.
var ErrMalformedFrame = errors.New("pcm: malformed frame")

// Encode converts samples to PCM16 little-endian bytes. Each sample is
// scaled by 32767, rounded, and clamped to the int16 range. Gain is not
// applied here.
func Encode(samples []float32) []byte {
	return EncodeInto(nil, samples)
}

// EncodeInto is Encode writing into dst, which is grown if too small.
// It returns the filled slice.
func EncodeInto(dst []byte, samples []float32) []byte {
	n := len(samples) * BytesPerSample
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]

	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(quantize(s)))
	}
	return dst
}

func quantize(s float32) int16 {
	v := math.Round(float64(s) * encodeScale)
	if math.IsNaN(v) {
		return 0
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Decode converts PCM16 little-endian bytes to samples in [-1.0, 1.0).
// A frame with an odd length is rejected whole with ErrMalformedFrame.
func Decode(b []byte) ([]float32, error) {
	if len(b)%BytesPerSample != 0 {
		return nil, ErrMalformedFrame
	}
	out := make([]float32, len(b)/BytesPerSample)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
		out[i] = float32(v) / decodeScale
	}
	return out, nil
}

// ApplyGain multiplies samples by gain in place. Values are not clamped;
// Encode clamps on quantization.
func ApplyGain(samples []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i := range samples {
		samples[i] *= gain
	}
}

// Samples returns the number of samples encoded in n wire bytes.
func Samples(n int) int {
	return n / BytesPerSample
}
