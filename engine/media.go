package engine

import (
	"errors"

	"github.com/opd-ai/transsip/av/audio"
	"github.com/opd-ai/transsip/av/jitter"
)

// media is the per-call audio state. A fresh one is built for every call
// and released when the call ends.
type media struct {
	codec   audio.Codec
	jitter  *jitter.Buffer
	echo    *audio.EchoCanceller
	capture *audio.Chain

	pcm     []int16
	silence []int16
}

func (e *Engine) newMedia() (*media, error) {
	codec, err := audio.NewULawCodec(e.format)
	if err != nil {
		return nil, err
	}

	m := &media{
		codec:   codec,
		jitter:  jitter.New(uint32(e.format.FrameSize), e.cfg.JitterMargin),
		capture: audio.NewChain(),
		pcm:     make([]int16, e.format.Samples()),
		silence: make([]int16, e.format.Samples()),
	}

	if e.cfg.EchoCancel {
		echo, err := audio.NewEchoCanceller(e.format, e.cfg.EchoTail)
		if err != nil {
			codec.Close()
			return nil, err
		}
		m.echo = echo
		m.capture.Add(echo)
	}

	if e.cfg.CaptureGain != 1.0 {
		gain, err := audio.NewGainEffect(e.cfg.CaptureGain)
		if err != nil {
			m.close()
			return nil, err
		}
		m.capture.Add(gain)
	}

	return m, nil
}

// playbackFrame returns the next frame to play, silence when nothing is
// due or the call is held.
func (m *media) playbackFrame(held bool) []int16 {
	m.jitter.Tick()
	payload, ok := m.jitter.Get()
	if !ok || held {
		return m.silence
	}

	pcm, err := m.codec.Decode(payload)
	if err != nil {
		return m.silence
	}
	return pcm
}

func (m *media) close() error {
	// The chain owns the echo canceller once added.
	return errors.Join(m.capture.Close(), m.codec.Close())
}
