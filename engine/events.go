package engine

import (
	"github.com/opd-ai/transsip/notifier"
)

// Events dispatched through the engine's notifier chain. Hooks run on the
// engine goroutine and must return promptly.
const (
	// EventStateChanged carries the State about to run. It is dispatched on
	// every pass of the engine loop, so hooks see repeats.
	EventStateChanged notifier.Event = iota + 1
	// EventIncomingCall carries the caller's netip.AddrPort.
	EventIncomingCall
	// EventOutgoingCall carries an OutgoingCall.
	EventOutgoingCall
	// EventCallEnded carries the EndReason of a finished call attempt.
	EventCallEnded
	// EventSTUNResult carries the transport.ProbeResult of the startup probe.
	EventSTUNResult
)

// OutgoingCall describes a call being placed.
type OutgoingCall struct {
	User    string
	Address string
	Port    string
}

// EndReason tells why a call attempt or call ended.
type EndReason int

const (
	EndLocalHangup EndReason = iota
	EndRemoteHangup
	EndRemoteBusy
	EndNoAnswer
	EndDialFailed
	EndSendFailed
	EndReceiveFailed
	EndDeviceFailed
	EndShutdown
)

func (r EndReason) String() string {
	switch r {
	case EndLocalHangup:
		return "local-hangup"
	case EndRemoteHangup:
		return "remote-hangup"
	case EndRemoteBusy:
		return "remote-busy"
	case EndNoAnswer:
		return "no-answer"
	case EndDialFailed:
		return "dial-failed"
	case EndSendFailed:
		return "send-failed"
	case EndReceiveFailed:
		return "receive-failed"
	case EndDeviceFailed:
		return "device-failed"
	case EndShutdown:
		return "shutdown"
	}
	return "unknown"
}
