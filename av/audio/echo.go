package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultEchoTail is the adaptive filter length in samples.
	DefaultEchoTail = 1024

	echoStep      = 0.3
	echoRegulator = 1e3
	// Far-end frames buffered between Playback and Process.
	echoBacklog = 8
)

// EchoCanceller removes the far-end signal from captured audio with a
// normalized LMS adaptive filter. Playback feeds the reference signal that
// was written to the speaker; Process cleans the microphone frame.
type EchoCanceller struct {
	weights []float64
	history []float64 // circular, newest sample at pos
	pos     int
	energy  float64

	pending []int16 // far-end samples not yet aligned with capture
	limit   int
}

// NewEchoCanceller creates a canceller with a tail of tail samples for
// frames of the given format.
func NewEchoCanceller(format Format, tail int) (*EchoCanceller, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if tail <= 0 {
		return nil, fmt.Errorf("echo tail must be positive, got %d", tail)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewEchoCanceller",
		"tail":     tail,
		"frame":    format.Samples(),
	}).Debug("Creating echo canceller")

	return &EchoCanceller{
		weights: make([]float64, tail),
		history: make([]float64, tail),
		limit:   echoBacklog * format.Samples(),
	}, nil
}

// Playback records a frame that is about to be played.
func (e *EchoCanceller) Playback(frame []int16) {
	e.pending = append(e.pending, frame...)
	if over := len(e.pending) - e.limit; over > 0 {
		e.pending = e.pending[over:]
	}
}

// Process cancels the echo in a captured frame in place.
func (e *EchoCanceller) Process(samples []int16) ([]int16, error) {
	taps := len(e.weights)

	for i, near := range samples {
		var far float64
		if len(e.pending) > 0 {
			far = float64(e.pending[0])
			e.pending = e.pending[1:]
		}
		e.push(far)

		var estimate float64
		idx := e.pos
		for k := 0; k < taps; k++ {
			estimate += e.weights[k] * e.history[idx]
			idx--
			if idx < 0 {
				idx = taps - 1
			}
		}

		residual := float64(near) - estimate
		if e.energy > 0 {
			step := echoStep * residual / (e.energy + echoRegulator)
			idx = e.pos
			for k := 0; k < taps; k++ {
				e.weights[k] += step * e.history[idx]
				idx--
				if idx < 0 {
					idx = taps - 1
				}
			}
		}

		samples[i] = saturate(residual)
	}

	return samples, nil
}

func (e *EchoCanceller) push(far float64) {
	e.pos++
	if e.pos == len(e.history) {
		e.pos = 0
	}
	old := e.history[e.pos]
	e.energy += far*far - old*old
	if e.energy < 0 {
		e.energy = 0
	}
	e.history[e.pos] = far
}

// Reset forgets the adapted filter and buffered reference.
func (e *EchoCanceller) Reset() {
	clear(e.weights)
	clear(e.history)
	e.pending = e.pending[:0]
	e.energy = 0
	e.pos = 0
}

// Name returns the effect name.
func (e *EchoCanceller) Name() string {
	return fmt.Sprintf("echo(%d)", len(e.weights))
}

// Close releases the filter state.
func (e *EchoCanceller) Close() error {
	e.weights = nil
	e.history = nil
	e.pending = nil
	return nil
}

func saturate(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
