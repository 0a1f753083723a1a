package engine

import "errors"

var (
	// ErrNoActiveSession indicates Speaking was entered without an active
	// session. It is a programming error and ends the engine task.
	ErrNoActiveSession = errors.New("speaking entered without an active session")

	// ErrEngineRunning indicates Run was called on an engine that is
	// already running or has already run.
	ErrEngineRunning = errors.New("engine already started")

	// ErrNotReady indicates startup has not completed, or failed.
	ErrNotReady = errors.New("engine not ready")

	// ErrInvalidTransition indicates the state machine was asked for a
	// transition outside Idle -> {CallOut, CallIn} -> Speaking -> Idle.
	ErrInvalidTransition = errors.New("invalid state transition")

	// errShutdown unwinds the engine loop on cancellation or when the
	// control channel closes.
	errShutdown = errors.New("engine shutdown")
)
