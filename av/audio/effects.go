package audio

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Effect processes one captured frame before it is encoded.
type Effect interface {
	// Process transforms samples, in place where possible.
	Process(samples []int16) ([]int16, error)
	// Name identifies the effect in logs.
	Name() string
	// Close releases effect state.
	Close() error
}

// MaxGain bounds the linear gain accepted by GainEffect.
const MaxGain = 4.0

// GainEffect applies a linear gain with saturation.
type GainEffect struct {
	gain float64
}

// NewGainEffect creates a gain stage. 0 mutes, 1 is unity.
func NewGainEffect(gain float64) (*GainEffect, error) {
	if gain < 0 || gain > MaxGain {
		logrus.WithFields(logrus.Fields{
			"function": "NewGainEffect",
			"gain":     gain,
		}).Error("Gain out of range")
		return nil, fmt.Errorf("gain %.2f outside [0, %.1f]", gain, MaxGain)
	}
	return &GainEffect{gain: gain}, nil
}

// Process scales samples in place, clipping to the int16 range.
func (g *GainEffect) Process(samples []int16) ([]int16, error) {
	clipped := 0
	for i, sample := range samples {
		v := float64(sample) * g.gain
		switch {
		case v > 32767:
			samples[i] = 32767
			clipped++
		case v < -32768:
			samples[i] = -32768
			clipped++
		default:
			samples[i] = int16(v)
		}
	}

	if clipped > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "GainEffect.Process",
			"clipped":  clipped,
			"gain":     g.gain,
		}).Debug("Gain stage clipped samples")
	}
	return samples, nil
}

// Name returns the effect name.
func (g *GainEffect) Name() string {
	return fmt.Sprintf("gain(%.2f)", g.gain)
}

// Gain returns the configured multiplier.
func (g *GainEffect) Gain() float64 {
	return g.gain
}

// Close is a no-op.
func (g *GainEffect) Close() error {
	return nil
}

// Chain runs effects in insertion order. A failing effect aborts the frame.
type Chain struct {
	effects []Effect
}

// NewChain creates a chain from the non-nil effects given.
func NewChain(effects ...Effect) *Chain {
	c := &Chain{}
	for _, e := range effects {
		if e != nil {
			c.Add(e)
		}
	}
	return c
}

// Add appends an effect.
func (c *Chain) Add(e Effect) {
	c.effects = append(c.effects, e)
}

// Len returns the number of effects.
func (c *Chain) Len() int {
	return len(c.effects)
}

// Names lists the effects in processing order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.effects))
	for i, e := range c.effects {
		names[i] = e.Name()
	}
	return names
}

// Process runs samples through every effect.
func (c *Chain) Process(samples []int16) ([]int16, error) {
	current := samples
	for i, e := range c.effects {
		out, err := e.Process(current)
		if err != nil {
			return nil, fmt.Errorf("effect %d (%s): %w", i, e.Name(), err)
		}
		current = out
	}
	return current, nil
}

// Close closes every effect and empties the chain.
func (c *Chain) Close() error {
	var errs []error
	for _, e := range c.effects {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.Name(), err))
		}
	}
	c.effects = nil
	return errors.Join(errs...)
}
