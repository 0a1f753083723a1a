package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Codec turns one PCM frame into a fixed-size payload and back. A codec
// instance carries per-call state and is not shared between calls.
type Codec interface {
	// Encode compresses exactly one frame of interleaved samples.
	Encode(pcm []int16) ([]byte, error)
	// Decode expands one payload into one frame of samples.
	Decode(payload []byte) ([]int16, error)
	// PayloadSize is the encoded size of every frame.
	PayloadSize() int
	// Close releases codec state.
	Close() error
}

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// ULawCodec implements G.711 u-law companding, one byte per sample.
type ULawCodec struct {
	samples int
}

// NewULawCodec creates a codec for frames of the given format.
func NewULawCodec(format Format) (*ULawCodec, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewULawCodec",
		"format":   format.String(),
	}).Debug("Creating u-law codec")

	return &ULawCodec{samples: format.Samples()}, nil
}

// PayloadSize returns the encoded frame size in bytes.
func (c *ULawCodec) PayloadSize() int {
	return c.samples
}

// Encode compresses pcm, which must hold exactly one frame.
func (c *ULawCodec) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != c.samples {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(pcm), c.samples)
	}

	out := make([]byte, len(pcm))
	for i, sample := range pcm {
		out[i] = linearToULaw(sample)
	}
	return out, nil
}

// Decode expands payload, which must be exactly PayloadSize bytes.
func (c *ULawCodec) Decode(payload []byte) ([]int16, error) {
	if len(payload) != c.samples {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrPayloadSize, len(payload), c.samples)
	}

	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = uLawToLinear(b)
	}
	return out, nil
}

// Close is a no-op; the codec holds no external resources.
func (c *ULawCodec) Close() error {
	return nil
}

func linearToULaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exponent := 7
	for mask := 0x4000; exponent > 0 && s&mask == 0; exponent-- {
		mask >>= 1
	}
	mantissa := (s >> (exponent + 3)) & 0x0F

	return ^byte(sign | exponent<<4 | mantissa)
}

func uLawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	value := ((int(mantissa) << 3) + ulawBias) << exponent
	value -= ulawBias
	if sign != 0 {
		value = -value
	}
	return int16(value)
}
