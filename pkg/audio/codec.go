package audio

import (
	"errors"
	"fmt"

	"github.com/zaf/g711"
	"gopkg.in/hraban/opus.v2"
)

// Input formats accepted in client.audio.start.
const (
	FormatPCM16 = "pcm16"
	FormatULaw  = "g711_ulaw"
	FormatALaw  = "g711_alaw"
	FormatOpus  = "opus"
)

// ErrUnsupportedFormat is returned for an unknown input format.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// maxOpusFrame is 120ms at 48kHz, the largest opus frame.
const maxOpusFrame = 5760

// Decoder turns one client chunk into PCM16 bytes at SampleRate.
type Decoder interface {
	Decode(payload []byte) ([]byte, error)
	Format() string
}

// NewDecoder returns a decoder for the given format. sampleRate is the rate
// of the incoming audio; zero means the format's natural rate.
func NewDecoder(format string, sampleRate int) (Decoder, error) {
	switch format {
	case "", FormatPCM16:
		return &pcmDecoder{rate: rateOr(sampleRate, SampleRate)}, nil
	case FormatULaw:
		return &g711Decoder{alaw: false, rate: rateOr(sampleRate, 8000)}, nil
	case FormatALaw:
		return &g711Decoder{alaw: true, rate: rateOr(sampleRate, 8000)}, nil
	case FormatOpus:
		rate := rateOr(sampleRate, 48000)
		dec, err := opus.NewDecoder(rate, 1)
		if err != nil {
			return nil, fmt.Errorf("audio: opus decoder: %w", err)
		}
		return &opusDecoder{dec: dec, rate: rate, buf: make([]int16, maxOpusFrame)}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func rateOr(rate, def int) int {
	if rate <= 0 {
		return def
	}
	return rate
}

type pcmDecoder struct {
	rate int

	// odd holds a trailing byte split from its sample by chunking.
	odd    byte
	hasOdd bool
}

func (d *pcmDecoder) Format() string { return FormatPCM16 }

func (d *pcmDecoder) Decode(payload []byte) ([]byte, error) {
	data := payload
	if d.hasOdd {
		data = make([]byte, 0, len(payload)+1)
		data = append(append(data, d.odd), payload...)
		d.hasOdd = false
	}
	if len(data)%2 == 1 {
		d.odd = data[len(data)-1]
		d.hasOdd = true
		data = data[:len(data)-1]
	}
	if d.rate == SampleRate {
		return data, nil
	}
	return SamplesToBytes(Resample(BytesToSamples(data), d.rate, SampleRate)), nil
}

type g711Decoder struct {
	alaw bool
	rate int
}

func (d *g711Decoder) Format() string {
	if d.alaw {
		return FormatALaw
	}
	return FormatULaw
}

func (d *g711Decoder) Decode(payload []byte) ([]byte, error) {
	var pcm []byte
	if d.alaw {
		pcm = g711.DecodeAlaw(payload)
	} else {
		pcm = g711.DecodeUlaw(payload)
	}
	return SamplesToBytes(Resample(BytesToSamples(pcm), d.rate, SampleRate)), nil
}

type opusDecoder struct {
	dec  *opus.Decoder
	rate int
	buf  []int16
}

func (d *opusDecoder) Format() string { return FormatOpus }

func (d *opusDecoder) Decode(payload []byte) ([]byte, error) {
	n, err := d.dec.Decode(payload, d.buf)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return SamplesToBytes(Resample(d.buf[:n], d.rate, SampleRate)), nil
}
