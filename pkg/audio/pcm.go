// Package audio holds the PCM helpers used on both sides of a call: loudness
// measurement, gain, resampling, mu-law conversion and container handling.
package audio

import (
	"encoding/binary"
	"math"
)

const bytesPerSample = 2

// Samples converts little-endian PCM16 bytes to samples. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	n := len(pcm) / bytesPerSample
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:]))
	}
	return out
}

// Bytes converts samples back to little-endian PCM16.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(s))
	}
	return out
}

// RMS returns the root-mean-square amplitude of a PCM16 chunk in raw sample units.
func RMS(pcm []byte) float64 {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// ApplyGain scales every sample by gain and saturates at the int16 range.
func ApplyGain(pcm []byte, gain float64) []byte {
	samples := Samples(pcm)
	for i, s := range samples {
		samples[i] = Clamp16(float64(s) * gain)
	}
	return Bytes(samples)
}

// Clamp16 rounds v and saturates it to the int16 range.
func Clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// DurationMillis reports how long a mono PCM16 chunk plays at rate.
func DurationMillis(pcm []byte, rate int) int {
	if rate <= 0 {
		return 0
	}
	return len(pcm) / bytesPerSample * 1000 / rate
}
