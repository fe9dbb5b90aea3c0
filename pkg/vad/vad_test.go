package vad

import (
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-voicebridge/pkg/audio"
)

// square returns ms milliseconds of a square wave whose RMS equals rms.
func square(ms int, rms float64) []byte {
	n := 24 * ms
	v := int16(math.Round(rms * 32768))
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = v
		} else {
			samples[i] = -v
		}
	}
	return audio.SamplesToBytes(samples)
}

func silence(ms int) []byte {
	return make([]byte, 24*ms*2)
}

func newTestSegmenter() *Segmenter {
	s := NewSegmenter(DefaultConfig())
	n := 0
	s.newID = func() string {
		n++
		return "ph-" + string(rune('0'+n))
	}
	return s
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func find(events []Event, t EventType) *Event {
	for i := range events {
		if events[i].Type == t {
			return &events[i]
		}
	}
	return nil
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}

	tests := []struct {
		name string
		opt  Option
		want error
	}{
		{"zero threshold", WithStaticThreshold(0), ErrInvalidThreshold},
		{"negative factor", WithNoiseFactor(-1), ErrInvalidThreshold},
		{"bad alpha", func(c *Config) { c.NoiseAlpha = 2 }, ErrInvalidAlpha},
		{"no frame", func(c *Config) { c.FrameSamples = 0 }, ErrInvalidFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Apply(tt.opt)
			if err := cfg.Validate(); err != tt.want {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDetectorThreshold(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg)

	if d.NoiseFloor() != cfg.StaticThreshold/2 {
		t.Errorf("initial floor = %f", d.NoiseFloor())
	}

	// Silence cannot push the floor below static/2.
	for i := 0; i < 200; i++ {
		d.Observe(0)
	}
	if d.NoiseFloor() < cfg.StaticThreshold/2 {
		t.Errorf("floor dropped below bound: %f", d.NoiseFloor())
	}
	if d.Threshold() < cfg.StaticThreshold {
		t.Errorf("threshold %f below static", d.Threshold())
	}

	// Steady noise raises the floor and the threshold with it.
	before := d.Threshold()
	for i := 0; i < 200; i++ {
		d.Observe(0.02)
	}
	if d.Threshold() <= before {
		t.Errorf("threshold did not adapt: %f <= %f", d.Threshold(), before)
	}
	if math.Abs(d.NoiseFloor()-0.02) > 0.001 {
		t.Errorf("floor = %f, want ~0.02", d.NoiseFloor())
	}
}

func TestThresholdMonotonicity(t *testing.T) {
	for _, level := range []float64{0.5, 0.9, 0.99} {
		s := newTestSegmenter()
		th := s.Detector().Threshold()
		if ev := s.Write(square(100, th*level), false); len(ev) != 0 || s.Active() {
			t.Errorf("rms %.4f below threshold %.4f started an utterance: %v", th*level, th, types(ev))
		}
	}
	for _, level := range []float64{1.1, 2, 10} {
		s := newTestSegmenter()
		th := s.Detector().Threshold()
		ev := s.Write(square(20, th*level), false)
		if find(ev, EventStart) == nil || !s.Active() {
			t.Errorf("rms %.4f above threshold %.4f did not start an utterance", th*level, th)
		}
	}
}

func TestSegmenterUtterance(t *testing.T) {
	s := newTestSegmenter()

	var events []Event
	events = append(events, s.Write(square(300, 0.02), false)...)
	events = append(events, s.Write(silence(700), false)...)

	if find(events, EventStart) == nil {
		t.Fatal("missing start event")
	}
	ph := find(events, EventPlaceholder)
	if ph == nil || ph.PlaceholderID != "ph-1" {
		t.Fatalf("missing placeholder event: %v", types(events))
	}
	end := find(events, EventEnd)
	if end == nil {
		t.Fatalf("missing end event: %v", types(events))
	}

	u := end.Utterance
	if u.Samples() < DefaultConfig().MinUtteranceSamples {
		t.Errorf("Samples() = %d, want >= %d", u.Samples(), DefaultConfig().MinUtteranceSamples)
	}
	if u.Samples() != 300*24 {
		t.Errorf("Samples() = %d, want %d (trailing silence trimmed)", u.Samples(), 300*24)
	}
	if len(u.PCM()) != u.Samples()*2 {
		t.Errorf("PCM() len = %d", len(u.PCM()))
	}
	if u.Duration() != 300*time.Millisecond {
		t.Errorf("Duration() = %v", u.Duration())
	}
	if u.PlaceholderID != "ph-1" || end.PlaceholderID != "ph-1" {
		t.Errorf("placeholder not carried: %q", u.PlaceholderID)
	}
	if s.Active() {
		t.Error("segmenter should be idle after finalization")
	}
}

func TestSegmenterChunking(t *testing.T) {
	s := newTestSegmenter()
	voice := square(300, 0.02)

	var events []Event
	// Odd chunk sizes must not lose or duplicate samples.
	for len(voice) > 0 {
		n := 333
		if n > len(voice) {
			n = len(voice)
		}
		events = append(events, s.Write(voice[:n], false)...)
		voice = voice[n:]
	}
	events = append(events, s.Write(silence(700), false)...)

	end := find(events, EventEnd)
	if end == nil {
		t.Fatalf("missing end event: %v", types(events))
	}
	if end.Utterance.Samples() != 300*24 {
		t.Errorf("Samples() = %d", end.Utterance.Samples())
	}
}

func TestUtteranceSampleCount(t *testing.T) {
	s := newTestSegmenter()
	minSamples := DefaultConfig().MinUtteranceSamples
	frame := DefaultConfig().FrameSamples * 2

	var stream []byte
	stream = append(stream, square(150, 0.03)...)
	stream = append(stream, silence(200)...)
	stream = append(stream, square(150, 0.03)...)
	stream = append(stream, silence(100)...)

	placeholders, prev := 0, 0
	for off := 0; off < len(stream); off += frame {
		events := s.Write(stream[off:off+frame], false)
		u := s.current
		if u == nil {
			t.Fatalf("at %d: utterance ended early: %v", off, types(events))
		}
		want := 0
		for _, f := range u.Frames[:u.voiced] {
			want += len(f)
		}
		if u.Samples() != want {
			t.Fatalf("at %d: Samples() = %d, want %d", off, u.Samples(), want)
		}
		if find(events, EventPlaceholder) != nil {
			placeholders++
			if prev >= minSamples || u.Samples() < minSamples {
				t.Errorf("placeholder fired at %d samples (previous %d), want first crossing of %d", u.Samples(), prev, minSamples)
			}
		}
		prev = u.Samples()
	}
	if placeholders != 1 {
		t.Errorf("placeholders = %d, want 1", placeholders)
	}
	if got, want := prev, 500*24; got != want {
		t.Errorf("final Samples() = %d, want %d", got, want)
	}
}

func TestSegmenterMinimumLength(t *testing.T) {
	s := newTestSegmenter()

	var events []Event
	events = append(events, s.Write(square(100, 0.05), false)...)
	events = append(events, s.Write(silence(700), false)...)

	if find(events, EventEnd) != nil {
		t.Fatal("short utterance must not be handed to transcription")
	}
	if find(events, EventPlaceholder) != nil {
		t.Fatal("short utterance must not get a placeholder")
	}
	d := find(events, EventDiscard)
	if d == nil {
		t.Fatalf("missing discard: %v", types(events))
	}
	if d.PlaceholderID != "" {
		t.Errorf("discard placeholder = %q, want empty", d.PlaceholderID)
	}
}

func TestSegmenterInterWordGap(t *testing.T) {
	s := newTestSegmenter()

	var events []Event
	events = append(events, s.Write(square(200, 0.03), false)...)
	events = append(events, s.Write(silence(300), false)...)
	events = append(events, s.Write(square(200, 0.03), false)...)
	events = append(events, s.Write(silence(700), false)...)

	ends := 0
	for _, e := range events {
		if e.Type == EventEnd {
			ends++
			if got, want := e.Utterance.Samples(), 700*24; got != want {
				t.Errorf("Samples() = %d, want %d", got, want)
			}
		}
	}
	if ends != 1 {
		t.Errorf("got %d utterances, want 1: %v", ends, types(events))
	}
}

func TestSegmenterMute(t *testing.T) {
	s := newTestSegmenter()
	s.Write(square(300, 0.02), false)
	floor := s.Detector().NoiseFloor()

	events := s.Write(square(100, 0.5), true)
	if len(events) != 1 || events[0].Type != EventDiscard {
		t.Fatalf("muted write events = %v, want [discard]", types(events))
	}
	if events[0].PlaceholderID != "ph-1" {
		t.Errorf("discard should carry placeholder, got %q", events[0].PlaceholderID)
	}
	if s.Active() {
		t.Error("muted write must clear the utterance")
	}
	if s.Detector().NoiseFloor() != floor {
		t.Error("muted write must not touch the noise floor")
	}

	// Loud muted audio never starts anything.
	if ev := s.Write(square(500, 0.5), true); len(ev) != 0 {
		t.Errorf("muted write on idle segmenter = %v", types(ev))
	}
	if s.Detector().NoiseFloor() != floor {
		t.Error("muted write must not touch the noise floor")
	}
}

func TestSegmenterReset(t *testing.T) {
	s := newTestSegmenter()
	s.Write(square(100, 0.02), false)
	s.Write(make([]byte, 7), false)
	s.Reset()

	if s.Active() {
		t.Error("Reset() should clear the utterance")
	}
	if len(s.remainder) != 0 {
		t.Error("Reset() should drop buffered bytes")
	}
}

func TestArbiter(t *testing.T) {
	a := NewArbiter(DefaultBargeInConfig())

	if a.Check(false, time.Second, 48000, false) {
		t.Error("must not fire while the assistant is silent")
	}
	if a.Check(true, 150*time.Millisecond, 48000, false) {
		t.Error("must not fire before MinDuration")
	}
	if a.Check(true, 300*time.Millisecond, 2000, false) {
		t.Error("must not fire below MinSamples")
	}
	if a.Check(true, 300*time.Millisecond, 3000, true) {
		t.Error("transcribe mode doubles the sample threshold")
	}
	if !a.Check(true, 300*time.Millisecond, 3000, false) {
		t.Error("should fire once thresholds are met")
	}
	if a.Check(true, time.Second, 48000, false) {
		t.Error("must fire at most once per utterance")
	}
	a.Reset()
	if !a.Check(true, time.Second, 48000, true) {
		t.Error("should fire again after Reset()")
	}

	if got := a.SampleThreshold(true); got != 4800 {
		t.Errorf("SampleThreshold(true) = %d, want 4800", got)
	}
}

func TestSegmenterBargeIn(t *testing.T) {
	for _, transcribe := range []bool{false, true} {
		s := newTestSegmenter()
		talking := true
		s.AttachArbiter(NewArbiter(DefaultBargeInConfig()), func() bool { return talking }, transcribe)

		events := s.Write(square(250, 0.05), false)
		n := 0
		for _, e := range events {
			if e.Type == EventBargeIn {
				n++
			}
		}
		if n != 1 {
			t.Errorf("transcribe=%v: barge-in events = %d, want 1 (%v)", transcribe, n, types(events))
		}
	}

	t.Run("assistant silent", func(t *testing.T) {
		s := newTestSegmenter()
		s.AttachArbiter(NewArbiter(DefaultBargeInConfig()), func() bool { return false }, false)
		if find(s.Write(square(500, 0.05), false), EventBargeIn) != nil {
			t.Error("no barge-in expected while assistant is silent")
		}
	})
}
