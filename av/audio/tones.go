package audio

import (
	"math"
	"time"
)

// Tone is a call-progress indication.
type Tone int

const (
	ToneDial Tone = iota
	ToneRing
	ToneBusy
)

func (t Tone) String() string {
	switch t {
	case ToneDial:
		return "dial"
	case ToneRing:
		return "ring"
	case ToneBusy:
		return "busy"
	}
	return "unknown"
}

const (
	toneFrequency = 425.0
	toneAmplitude = 8000.0
)

// cadence returns the on and off periods of the tone. A zero off period
// means the tone is continuous.
func (t Tone) cadence() (on, off time.Duration) {
	switch t {
	case ToneRing:
		return time.Second, 4 * time.Second
	case ToneBusy:
		return 500 * time.Millisecond, 500 * time.Millisecond
	}
	return time.Second, 0
}

// ToneGenerator produces successive frames of a tone. Consecutive frames
// are phase continuous.
type ToneGenerator struct {
	tone   Tone
	format Format
	phase  float64
	pos    int // position within the cadence, in samples per channel
	on     int
	period int
}

// NewToneGenerator creates a generator starting at the beginning of the
// tone's cadence.
func NewToneGenerator(tone Tone, format Format) *ToneGenerator {
	on, off := tone.cadence()
	onSamples := int(on * time.Duration(format.SampleRate) / time.Second)
	offSamples := int(off * time.Duration(format.SampleRate) / time.Second)

	return &ToneGenerator{
		tone:   tone,
		format: format,
		on:     onSamples,
		period: onSamples + offSamples,
	}
}

// Tone returns the tone being generated.
func (g *ToneGenerator) Tone() Tone {
	return g.tone
}

// Next fills frame with the next interleaved samples of the tone.
func (g *ToneGenerator) Next(frame []int16) {
	channels := g.format.Channels
	step := 2 * math.Pi * toneFrequency / float64(g.format.SampleRate)

	for i := 0; i+channels <= len(frame); i += channels {
		var v int16
		if g.pos < g.on {
			v = int16(toneAmplitude * math.Sin(g.phase))
		}
		for c := 0; c < channels; c++ {
			frame[i+c] = v
		}

		g.phase += step
		if g.phase >= 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
		g.pos++
		if g.pos >= g.period {
			g.pos = 0
		}
	}
}
