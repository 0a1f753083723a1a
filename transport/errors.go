package transport

import "errors"

// Wire errors.
var (
	// ErrShortHeader indicates a datagram smaller than HeaderSize.
	ErrShortHeader = errors.New("datagram shorter than transsip header")

	// ErrNotUDP indicates a listener or dialer produced a non-UDP socket.
	ErrNotUDP = errors.New("socket is not a UDP socket")
)

// STUN errors.
var (
	// ErrNoSTUNServer indicates the probe was skipped because no server is configured.
	ErrNoSTUNServer = errors.New("no STUN server configured")

	// ErrNoMappedAddress indicates the response carried no usable mapped address.
	ErrNoMappedAddress = errors.New("no mapped address found in STUN response")

	// ErrSTUNInterrupted indicates another peer's datagram reached the
	// signaling socket before the STUN response. It is left queued.
	ErrSTUNInterrupted = errors.New("STUN request interrupted by another datagram")
)
