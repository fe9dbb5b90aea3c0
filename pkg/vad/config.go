// Package vad implements energy-based voice activity detection with an
// adaptive noise floor, utterance segmentation and barge-in arbitration.
package vad

import (
	"errors"
	"time"
)

var (
	// ErrInvalidThreshold indicates a non-positive static threshold or noise factor.
	ErrInvalidThreshold = errors.New("vad: threshold must be positive")

	// ErrInvalidFrame indicates a non-positive frame size or sample rate.
	ErrInvalidFrame = errors.New("vad: frame size and sample rate must be positive")

	// ErrInvalidAlpha indicates a noise smoothing factor outside (0, 1].
	ErrInvalidAlpha = errors.New("vad: noise alpha must be in (0, 1]")
)

// Config holds detector and segmenter parameters.
type Config struct {
	// SampleRate of the mono PCM16 input in Hz.
	SampleRate int

	// FrameSamples is the number of samples analysed per frame.
	FrameSamples int

	// StaticThreshold is the minimum RMS (normalized) counted as voice.
	StaticThreshold float64

	// NoiseFactor multiplies the noise floor to get the dynamic threshold.
	NoiseFactor float64

	// NoiseAlpha is the EWMA weight of each new idle frame.
	NoiseAlpha float64

	// Silence ends an utterance once exceeded.
	Silence time.Duration

	// MinUtteranceSamples below which an utterance is treated as noise.
	MinUtteranceSamples int
}

// DefaultConfig returns a Config tuned for 24kHz speech.
func DefaultConfig() *Config {
	return &Config{
		SampleRate:          24000,
		FrameSamples:        480, // 20ms
		StaticThreshold:     0.008,
		NoiseFactor:         3.0,
		NoiseAlpha:          0.05,
		Silence:             600 * time.Millisecond,
		MinUtteranceSamples: 4800,
	}
}

// Option is a functional option for Config.
type Option func(*Config)

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.StaticThreshold <= 0 || c.NoiseFactor <= 0 {
		return ErrInvalidThreshold
	}
	if c.FrameSamples <= 0 || c.SampleRate <= 0 {
		return ErrInvalidFrame
	}
	if c.NoiseAlpha <= 0 || c.NoiseAlpha > 1 {
		return ErrInvalidAlpha
	}
	return nil
}

// WithStaticThreshold sets the static voice threshold.
func WithStaticThreshold(v float64) Option {
	return func(c *Config) { c.StaticThreshold = v }
}

// WithNoiseFactor sets the noise floor multiplier.
func WithNoiseFactor(v float64) Option {
	return func(c *Config) { c.NoiseFactor = v }
}

// WithSilence sets the end-of-utterance silence window.
func WithSilence(d time.Duration) Option {
	return func(c *Config) { c.Silence = d }
}

// WithMinUtteranceSamples sets the minimum utterance length.
func WithMinUtteranceSamples(n int) Option {
	return func(c *Config) { c.MinUtteranceSamples = n }
}

// frameDuration is the audio-clock length of one frame.
func (c *Config) frameDuration() time.Duration {
	return time.Duration(int64(c.FrameSamples) * int64(time.Second) / int64(c.SampleRate))
}
