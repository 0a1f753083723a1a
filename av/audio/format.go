package audio

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// SampleRate is the call sample rate in Hz.
	SampleRate = 48000
	// Channels is the call channel count.
	Channels = 1
	// FrameSize is the number of samples per channel in one frame. The
	// media sequence number advances by this much per packet.
	FrameSize = 256
)

// Format describes the PCM stream exchanged with a device.
type Format struct {
	SampleRate int
	Channels   int
	FrameSize  int
}

// DefaultFormat returns the format used on the wire.
func DefaultFormat() Format {
	return Format{SampleRate: SampleRate, Channels: Channels, FrameSize: FrameSize}
}

// Samples returns the number of int16 values in one interleaved frame.
func (f Format) Samples() int {
	return f.FrameSize * f.Channels
}

// Period returns the playback duration of one frame.
func (f Format) Period() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameSize) * time.Second / time.Duration(f.SampleRate)
}

// Validate checks that the format describes a usable voice stream.
func (f Format) Validate() error {
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("%w: %d channels", ErrInvalidFormat, f.Channels)
	}
	if f.FrameSize <= 0 {
		return fmt.Errorf("%w: frame size %d", ErrInvalidFormat, f.FrameSize)
	}
	return CheckSampleRate(f.SampleRate)
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d samples/frame", f.SampleRate, f.Channels, f.FrameSize)
}

// CheckSampleRate accepts the narrowband to fullband voice rates.
func CheckSampleRate(sampleRate int) error {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function":    "CheckSampleRate",
		"sample_rate": sampleRate,
	}).Warn("Unsupported sample rate")
	return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, sampleRate)
}
