// Package audio holds PCM16 helpers shared by the voice path: sample
// conversion, RMS, gain, resampling, client input codecs and WAV framing.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// SampleRate is the mono PCM16 rate used end to end (client playback,
// upstream peer, VAD).
const SampleRate = 24000

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// RMS returns the root mean square of samples normalized to [-1, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ApplyGain scales PCM16 bytes by gain, clamping to the int16 range.
// Gain 1 returns the input as is; gain 0 returns silence of equal length.
func ApplyGain(pcm []byte, gain float64) []byte {
	if gain == 1 {
		return pcm
	}
	out := make([]byte, len(pcm)-len(pcm)%2)
	if gain == 0 {
		return out
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * gain
		binary.LittleEndian.PutUint16(out[i:], uint16(clamp16(v)))
	}
	return out
}

// Duration returns how long n samples last at rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// Resample converts audio from one sample rate to another using linear
// interpolation. Good enough for speech.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	result := make([]int16, newLen)

	for i := range result {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		s1 := float64(samples[idx])
		s2 := float64(samples[idx+1])
		result[i] = int16(s1 + frac*(s2-s1))
	}
	return result
}

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
