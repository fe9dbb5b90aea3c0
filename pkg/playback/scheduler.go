// Package playback models the client's audio playback timeline on the server
// so the session knows whether the assistant is audibly talking.
//
// The browser schedules each decoded buffer at max(now, nextStart) on a
// shared clock. Scheduler mirrors that arithmetic for every binary frame it
// forwards, applies the mute gain, and answers Talking(now).
package playback

import (
	"sync"
	"time"

	"github.com/teslashibe/go-voicebridge/pkg/audio"
)

// Scheduler tracks the end of the last scheduled buffer.
type Scheduler struct {
	mu         sync.Mutex
	sampleRate int
	nextStart  time.Time
	muted      bool
	scheduled  int64 // samples since last Stop
}

// New creates a scheduler for mono PCM16 at sampleRate.
func New(sampleRate int) *Scheduler {
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	return &Scheduler{sampleRate: sampleRate}
}

// Schedule places pcm on the timeline and returns the gain-applied audio to
// send to the client.
func (s *Scheduler) Schedule(pcm []byte, now time.Time) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.nextStart
	if now.After(start) {
		start = now
	}
	n := len(pcm) / 2
	s.nextStart = start.Add(audio.Duration(n, s.sampleRate))
	s.scheduled += int64(n)

	gain := 1.0
	if s.muted {
		gain = 0
	}
	return audio.ApplyGain(pcm, gain)
}

// Talking reports whether scheduled audio is still playing at now.
func (s *Scheduler) Talking(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.nextStart)
}

// Remaining returns how much scheduled audio is left at now.
func (s *Scheduler) Remaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !now.Before(s.nextStart) {
		return 0
	}
	return s.nextStart.Sub(now)
}

// Stop drops every scheduled buffer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextStart = time.Time{}
	s.scheduled = 0
}

// Scheduled returns the number of samples scheduled since the last Stop.
func (s *Scheduler) Scheduled() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

// SetMuted sets the speaker mute gain.
func (s *Scheduler) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

// Muted reports whether the speaker is muted.
func (s *Scheduler) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}
