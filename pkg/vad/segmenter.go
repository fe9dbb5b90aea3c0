package vad

import (
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voicebridge/pkg/audio"
)

// EventType identifies a segmenter event.
type EventType int

const (
	// EventStart fires on the first voiced frame of an utterance.
	EventStart EventType = iota + 1

	// EventPlaceholder fires once the utterance crosses MinUtteranceSamples.
	EventPlaceholder

	// EventEnd carries a finalized utterance long enough to transcribe.
	EventEnd

	// EventDiscard fires when an utterance is dropped as noise or by mute.
	EventDiscard

	// EventBargeIn fires when the arbiter decides to interrupt the assistant.
	EventBargeIn
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventPlaceholder:
		return "placeholder"
	case EventEnd:
		return "end"
	case EventDiscard:
		return "discard"
	case EventBargeIn:
		return "barge_in"
	default:
		return "unknown"
	}
}

// Event is emitted by Segmenter.Write.
type Event struct {
	Type          EventType
	PlaceholderID string
	Utterance     *Utterance
}

// Utterance is a contiguous block of user speech.
type Utterance struct {
	Frames        [][]int16
	FirstVoice    time.Duration // audio clock
	LastVoice     time.Duration // audio clock, end of last voiced frame
	PlaceholderID string

	voiced  int // frames up to and including the last voiced one
	samples int // samples in Frames[:voiced]
	total   int // samples in Frames
}

// Samples returns the number of samples up to the last voiced frame.
func (u *Utterance) Samples() int {
	return u.samples
}

// PCM returns the merged PCM16 bytes of the utterance.
func (u *Utterance) PCM() []byte {
	samples := make([]int16, 0, u.Samples())
	for _, f := range u.Frames[:u.voiced] {
		samples = append(samples, f...)
	}
	return audio.SamplesToBytes(samples)
}

// Duration returns the span from first to last voice.
func (u *Utterance) Duration() time.Duration {
	return u.LastVoice - u.FirstVoice
}

// Segmenter slices streamed PCM16 into frames, runs the detector and groups
// voiced frames into utterances. It is not safe for concurrent use; one
// session owns one segmenter.
type Segmenter struct {
	cfg      *Config
	detector *Detector

	arbiter        *Arbiter
	talking        func() bool
	transcribeMode bool

	remainder []byte
	clock     int64 // samples consumed
	current   *Utterance

	newID func() string
}

// NewSegmenter creates a segmenter. cfg must be valid.
func NewSegmenter(cfg *Config) *Segmenter {
	return &Segmenter{
		cfg:      cfg,
		detector: NewDetector(cfg),
		newID:    uuid.NewString,
	}
}

// AttachArbiter enables barge-in events. talking reports whether assistant
// audio is currently playing.
func (s *Segmenter) AttachArbiter(a *Arbiter, talking func() bool, transcribeMode bool) {
	s.arbiter = a
	s.talking = talking
	s.transcribeMode = transcribeMode
}

// Detector exposes the underlying detector.
func (s *Segmenter) Detector() *Detector {
	return s.detector
}

// Active reports whether an utterance is accumulating.
func (s *Segmenter) Active() bool {
	return s.current != nil
}

// Clock returns the audio clock position.
func (s *Segmenter) Clock() time.Duration {
	return audio.Duration(int(s.clock), s.cfg.SampleRate)
}

// Write consumes a chunk of PCM16 audio. Muted chunks never touch the noise
// floor and drop any utterance in flight.
func (s *Segmenter) Write(pcm []byte, muted bool) []Event {
	if muted {
		s.clock += int64(len(pcm) / 2)
		s.remainder = s.remainder[:0]
		if s.current == nil {
			return nil
		}
		return []Event{s.discard()}
	}

	data := pcm
	if len(s.remainder) > 0 {
		data = append(s.remainder, pcm...)
	}
	frameBytes := s.cfg.FrameSamples * 2

	var events []Event
	for len(data) >= frameBytes {
		frame := audio.BytesToSamples(data[:frameBytes])
		data = data[frameBytes:]
		events = append(events, s.frame(frame)...)
	}
	s.remainder = append(s.remainder[:0], data...)
	return events
}

// Reset drops all segmentation state, including the noise floor.
func (s *Segmenter) Reset() {
	s.current = nil
	s.remainder = s.remainder[:0]
	s.detector.Reset()
	if s.arbiter != nil {
		s.arbiter.Reset()
	}
}

func (s *Segmenter) frame(frame []int16) []Event {
	start := audio.Duration(int(s.clock), s.cfg.SampleRate)
	s.clock += int64(len(frame))
	end := audio.Duration(int(s.clock), s.cfg.SampleRate)

	rms := audio.RMS(frame)
	voice := s.detector.IsVoice(rms)

	if s.current == nil {
		if !voice {
			s.detector.Observe(rms)
			return nil
		}
		s.current = &Utterance{
			Frames:     [][]int16{frame},
			FirstVoice: start,
			LastVoice:  end,
			voiced:     1,
			samples:    len(frame),
			total:      len(frame),
		}
		if s.arbiter != nil {
			s.arbiter.Reset()
		}
		events := []Event{{Type: EventStart}}
		return append(events, s.progress(end)...)
	}

	u := s.current
	u.Frames = append(u.Frames, frame)
	u.total += len(frame)
	if voice {
		u.LastVoice = end
		u.voiced = len(u.Frames)
		u.samples = u.total
	} else if end-u.LastVoice > s.cfg.Silence {
		return []Event{s.finalize()}
	}
	return s.progress(end)
}

// progress assigns the placeholder and consults the arbiter.
func (s *Segmenter) progress(now time.Duration) []Event {
	u := s.current
	var events []Event
	samples := u.Samples()

	if u.PlaceholderID == "" && samples >= s.cfg.MinUtteranceSamples {
		u.PlaceholderID = s.newID()
		events = append(events, Event{Type: EventPlaceholder, PlaceholderID: u.PlaceholderID})
	}

	if s.arbiter != nil && s.talking != nil {
		if s.arbiter.Check(s.talking(), now-u.FirstVoice, samples, s.transcribeMode) {
			events = append(events, Event{Type: EventBargeIn, PlaceholderID: u.PlaceholderID})
		}
	}
	return events
}

func (s *Segmenter) finalize() Event {
	u := s.current
	s.current = nil
	u.Frames = u.Frames[:u.voiced]
	u.total = u.samples

	if u.Samples() < s.cfg.MinUtteranceSamples {
		return Event{Type: EventDiscard, PlaceholderID: u.PlaceholderID}
	}
	return Event{Type: EventEnd, PlaceholderID: u.PlaceholderID, Utterance: u}
}

func (s *Segmenter) discard() Event {
	id := s.current.PlaceholderID
	s.current = nil
	return Event{Type: EventDiscard, PlaceholderID: id}
}
