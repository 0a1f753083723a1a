//go:build !noportaudio

package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
)

// portAudioBackend drives one blocking input stream and one blocking output
// stream bound to fixed frame buffers.
type portAudioBackend struct {
	in     *portaudio.Stream
	out    *portaudio.Stream
	inBuf  []int16
	outBuf []int16
}

func openHardwareBackend(name string, format Format) (backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}

	inDev, outDev, err := pickDevices(name)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "openHardwareBackend",
		"input":    inDev.Name,
		"output":   outDev.Name,
	}).Info("Selected PortAudio devices")

	inParams := portaudio.HighLatencyParameters(inDev, nil)
	inParams.SampleRate = float64(format.SampleRate)
	inParams.Input.Channels = format.Channels
	inParams.FramesPerBuffer = format.FrameSize
	inBuf := make([]int16, format.Samples())
	in, err := portaudio.OpenStream(inParams, inBuf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}

	outParams := portaudio.HighLatencyParameters(nil, outDev)
	outParams.SampleRate = float64(format.SampleRate)
	outParams.Output.Channels = format.Channels
	outParams.FramesPerBuffer = format.FrameSize
	outBuf := make([]int16, format.Samples())
	out, err := portaudio.OpenStream(outParams, outBuf)
	if err != nil {
		_ = in.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}

	return &portAudioBackend{in: in, out: out, inBuf: inBuf, outBuf: outBuf}, nil
}

// pickDevices resolves name to an input and an output device. "" and
// "default" select the host defaults; anything else matches the first
// devices whose name contains it, ignoring case.
func pickDevices(name string) (*portaudio.DeviceInfo, *portaudio.DeviceInfo, error) {
	keyword := strings.ToLower(strings.TrimSpace(name))
	if keyword == "" || keyword == "default" {
		in, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, nil, err
		}
		out, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, nil, err
		}
		return in, out, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, nil, err
	}

	var in, out *portaudio.DeviceInfo
	for _, d := range devices {
		if !strings.Contains(strings.ToLower(d.Name), keyword) {
			continue
		}
		if in == nil && d.MaxInputChannels > 0 {
			in = d
		}
		if out == nil && d.MaxOutputChannels > 0 {
			out = d
		}
	}
	if in == nil || out == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}
	return in, out, nil
}

func (b *portAudioBackend) start() error {
	if err := b.in.Start(); err != nil {
		return err
	}
	if err := b.out.Start(); err != nil {
		_ = b.in.Stop()
		return err
	}
	return nil
}

func (b *portAudioBackend) stop() error {
	return errors.Join(b.in.Stop(), b.out.Stop())
}

func (b *portAudioBackend) close() error {
	return errors.Join(b.in.Close(), b.out.Close(), portaudio.Terminate())
}

// read blocks for one frame. An input overflow lost older samples but the
// buffer is still filled, so it is not an error.
func (b *portAudioBackend) read(pcm []int16) error {
	err := b.in.Read()
	if errors.Is(err, portaudio.InputOverflowed) {
		logrus.WithFields(logrus.Fields{
			"function": "portAudioBackend.read",
		}).Debug("Input overflow")
		err = nil
	}
	if err != nil {
		return err
	}
	copy(pcm, b.inBuf)
	return nil
}

// write blocks until the frame is queued. An output underflow already
// played silence and is not an error.
func (b *portAudioBackend) write(pcm []int16) error {
	copy(b.outBuf, pcm)
	err := b.out.Write()
	if errors.Is(err, portaudio.OutputUnderflowed) {
		logrus.WithFields(logrus.Fields{
			"function": "portAudioBackend.write",
		}).Debug("Output underflow")
		err = nil
	}
	return err
}
