package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULawCodec_RoundTrip(t *testing.T) {
	codec, err := NewULawCodec(DefaultFormat())
	require.NoError(t, err)
	defer codec.Close()

	pcm := make([]int16, FrameSize)
	for i := range pcm {
		pcm[i] = int16((i - FrameSize/2) * 200)
	}

	payload, err := codec.Encode(pcm)
	require.NoError(t, err)
	assert.Len(t, payload, codec.PayloadSize())

	decoded, err := codec.Decode(payload)
	require.NoError(t, err)
	require.Len(t, decoded, FrameSize)

	// u-law keeps the error within a few percent of the magnitude.
	for i := range pcm {
		diff := int(decoded[i]) - int(pcm[i])
		if diff < 0 {
			diff = -diff
		}
		mag := int(pcm[i])
		if mag < 0 {
			mag = -mag
		}
		assert.LessOrEqual(t, diff, mag/16+16, "sample %d: %d -> %d", i, pcm[i], decoded[i])
	}
}

func TestULawCodec_KnownValues(t *testing.T) {
	tests := []struct {
		name   string
		sample int16
		code   byte
	}{
		{"zero", 0, 0xFF},
		{"max positive", 32767, 0x80},
		{"max negative", -32768, 0x00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, linearToULaw(tt.sample))
		})
	}

	assert.Equal(t, int16(0), uLawToLinear(0xFF))
	assert.Equal(t, int16(32124), uLawToLinear(0x80))
	assert.Equal(t, int16(-32124), uLawToLinear(0x00))
}

func TestULawCodec_SizeChecks(t *testing.T) {
	codec, err := NewULawCodec(DefaultFormat())
	require.NoError(t, err)

	_, err = codec.Encode(make([]int16, FrameSize-1))
	assert.ErrorIs(t, err, ErrFrameSize)

	_, err = codec.Decode(make([]byte, FrameSize+1))
	assert.ErrorIs(t, err, ErrPayloadSize)
}

func TestNewULawCodec_InvalidFormat(t *testing.T) {
	_, err := NewULawCodec(Format{SampleRate: 44100, Channels: 1, FrameSize: 256})
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
