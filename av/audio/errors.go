package audio

import "errors"

var (
	// ErrInvalidFormat indicates a sample rate, channel count or frame size
	// the call path cannot carry.
	ErrInvalidFormat = errors.New("invalid audio format")

	// ErrFrameSize indicates a buffer that does not hold exactly one frame.
	ErrFrameSize = errors.New("buffer is not one audio frame")

	// ErrPayloadSize indicates an encoded payload of the wrong length.
	ErrPayloadSize = errors.New("encoded payload has wrong size")

	// ErrNotReady indicates a frame read or write attempted while the device
	// had not signaled readiness.
	ErrNotReady = errors.New("audio device not ready")

	// ErrDeviceClosed indicates use of a closed device.
	ErrDeviceClosed = errors.New("audio device closed")

	// ErrDeviceNotFound indicates no device matched the requested name.
	ErrDeviceNotFound = errors.New("audio device not found")

	// ErrBackendUnavailable indicates the binary was built without a
	// hardware audio backend.
	ErrBackendUnavailable = errors.New("audio backend not available in this build")
)
