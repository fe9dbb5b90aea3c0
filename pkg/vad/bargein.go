package vad

import "time"

// BargeInConfig controls when user speech interrupts assistant playback.
type BargeInConfig struct {
	// MinDuration of speech since first voice.
	MinDuration time.Duration

	// MinSamples accumulated in the utterance.
	MinSamples int

	// TranscribeMultiplier scales MinSamples when full transcription mode is
	// on, to reduce false positives.
	TranscribeMultiplier float64
}

// DefaultBargeInConfig returns the default thresholds.
func DefaultBargeInConfig() BargeInConfig {
	return BargeInConfig{
		MinDuration:          200 * time.Millisecond,
		MinSamples:           2400,
		TranscribeMultiplier: 2,
	}
}

// Arbiter decides when an accumulating utterance interrupts the assistant.
// It fires at most once per utterance; call Reset when a new one starts.
type Arbiter struct {
	cfg   BargeInConfig
	fired bool
}

// NewArbiter creates an arbiter.
func NewArbiter(cfg BargeInConfig) *Arbiter {
	if cfg.TranscribeMultiplier <= 0 {
		cfg.TranscribeMultiplier = 1
	}
	return &Arbiter{cfg: cfg}
}

// SampleThreshold returns the sample count required in the given mode.
func (a *Arbiter) SampleThreshold(transcribeMode bool) int {
	if transcribeMode {
		return int(float64(a.cfg.MinSamples) * a.cfg.TranscribeMultiplier)
	}
	return a.cfg.MinSamples
}

// Check returns true exactly once per utterance, when the assistant is
// talking and both the duration and sample thresholds are met.
func (a *Arbiter) Check(assistantTalking bool, elapsed time.Duration, samples int, transcribeMode bool) bool {
	if a.fired || !assistantTalking {
		return false
	}
	if elapsed < a.cfg.MinDuration || samples < a.SampleThreshold(transcribeMode) {
		return false
	}
	a.fired = true
	return true
}

// Reset arms the arbiter for the next utterance.
func (a *Arbiter) Reset() {
	a.fired = false
}
