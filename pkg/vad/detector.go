package vad

import "math"

// Detector classifies frames against a dynamic threshold derived from an
// exponentially weighted noise floor.
type Detector struct {
	cfg   *Config
	floor float64
}

// NewDetector creates a detector with the floor at half the static threshold.
func NewDetector(cfg *Config) *Detector {
	return &Detector{cfg: cfg, floor: cfg.StaticThreshold / 2}
}

// Threshold returns max(static, floor*factor).
func (d *Detector) Threshold() float64 {
	return math.Max(d.cfg.StaticThreshold, d.floor*d.cfg.NoiseFactor)
}

// IsVoice reports whether rms exceeds the current threshold.
func (d *Detector) IsVoice(rms float64) bool {
	return rms > d.Threshold()
}

// Observe folds an idle frame into the noise floor.
// Callers must not observe frames while an utterance is active.
func (d *Detector) Observe(rms float64) {
	a := d.cfg.NoiseAlpha
	d.floor = (1-a)*d.floor + a*rms
	d.floor = math.Max(d.floor, d.cfg.StaticThreshold/2)
}

// NoiseFloor returns the current floor estimate.
func (d *Detector) NoiseFloor() float64 {
	return d.floor
}

// Reset restores the initial floor.
func (d *Detector) Reset() {
	d.floor = d.cfg.StaticThreshold / 2
}
