package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrPlaybackStalled indicates the device stopped accepting frames.
var ErrPlaybackStalled = errors.New("audio playback stalled")

// PlayTone writes frames frames of g to dev and returns once the last one
// has been queued. The device is started for the duration of the call and
// stopped afterwards.
func PlayTone(dev Device, g *ToneGenerator, frames int) error {
	if frames <= 0 {
		return nil
	}

	if err := dev.Start(); err != nil {
		return err
	}
	defer dev.Stop()

	format := dev.Format()
	frame := make([]int16, format.Samples())
	fds := make([]unix.PollFd, dev.PollDescriptorCount())
	wait := int((4*format.Period() + 50*time.Millisecond) / time.Millisecond)

	for written := 0; written < frames; {
		n := dev.FillPollDescriptors(fds)
		ready, err := pollRetry(fds[:n], wait)
		if err != nil {
			return fmt.Errorf("poll audio device: %w", err)
		}
		if ready == 0 {
			return ErrPlaybackStalled
		}
		if !dev.PlaybackReady(fds[:n]) {
			// Capture data is not wanted here.
			if dev.CaptureReady(fds[:n]) {
				dev.ReadFrame(frame)
			}
			continue
		}

		g.Next(frame)
		if _, err := dev.WriteFrame(frame); err != nil {
			if errors.Is(err, ErrNotReady) {
				continue
			}
			return err
		}
		written++
	}

	logrus.WithFields(logrus.Fields{
		"function": "PlayTone",
		"tone":     g.Tone().String(),
		"frames":   frames,
	}).Trace("Tone played")
	return nil
}

func pollRetry(fds []unix.PollFd, timeoutMs int) (int, error) {
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}
