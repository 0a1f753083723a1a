// Package audio provides the audio collaborators used by the transsip call
// engine while a call is in progress.
//
// # Architecture Overview
//
// Every stage works on one fixed-size frame at a time. The frame size,
// channel count and sample rate are fixed by Format and shared by both
// peers:
//
//	Capture:  Device.ReadFrame → capture Chain (echo, gain) → Codec.Encode → network
//	Playback: network → jitter buffer → Codec.Decode → EchoCanceller.Playback → Device.WriteFrame
//
// # Devices
//
// A Device exposes pollable readiness descriptors so the engine can wait on
// capture, playback, sockets and the control channel in a single poll call:
//
//	dev, err := audio.Open("default", audio.DefaultFormat())
//	n := dev.PollDescriptorCount()
//	fds := make([]unix.PollFd, n)
//	dev.FillPollDescriptors(fds)
//	// unix.Poll(...)
//	if dev.CaptureReady(fds) {
//	    dev.ReadFrame(pcm)
//	}
//
// The PortAudio backend is used for named devices. The device name "null"
// selects a clocked silent device that needs no sound hardware. Building
// with the noportaudio tag removes the PortAudio dependency.
//
// # Codec
//
// ULawCodec implements G.711 u-law, one byte per sample, so the encoded
// payload has the same fixed size for every frame.
//
// # Tones
//
// Dial, ring and busy indications are generated in memory as 425 Hz
// cadences and written to the device frame by frame.
//
// # Dependencies
//
//   - github.com/gordonklaus/portaudio: audio device streams
//   - golang.org/x/sys/unix: readiness pipes
//   - github.com/sirupsen/logrus: structured logging
package audio
