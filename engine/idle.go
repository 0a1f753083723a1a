package engine

import (
	"context"
	"fmt"

	"github.com/opd-ai/transsip/control"
	"github.com/opd-ai/transsip/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// idle waits for an inbound call request or a local ring command. The
// request datagram is only peeked so CallIn can consume it.
func (e *Engine) idle(ctx context.Context) (State, error) {
	fds := []unix.PollFd{pollIn(e.signalFD), pollIn(e.control.FD())}

	n, err := poll(fds, e.cfg.PollInterval)
	if err != nil {
		return StateIdle, fmt.Errorf("idle poll: %w", err)
	}
	if ctx.Err() != nil {
		return StateIdle, errShutdown
	}
	if n == 0 {
		return StateIdle, nil
	}

	if readable(fds[1]) {
		rec, err := e.readControl()
		if err != nil {
			return StateIdle, err
		}
		switch rec.Command() {
		case control.CommandRing:
			e.pending = &rec
			return StateCallOut, nil
		case control.CommandNone:
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Engine.idle",
				"command":  rec.Command().String(),
			}).Info("Ignoring command, no call in progress")
		}
	}

	if readable(fds[0]) {
		return e.inspectSignal(), nil
	}
	return StateIdle, nil
}

// inspectSignal peeks the queued signaling datagram. A call request leaves
// it queued and moves to CallIn; anything else is drained so it cannot wake
// Idle again.
func (e *Engine) inspectSignal() State {
	size, from, err := transport.Peek(e.signal, e.buf)
	if transport.IsWouldBlock(err) {
		return StateIdle
	}
	if err == nil {
		h, perr := transport.ParseHeader(e.buf[:size])
		if perr == nil && h.IsCallRequest() {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.inspectSignal",
				"from":     from.String(),
			}).Info("Incoming call request")
			return StateCallIn
		}

		logrus.WithFields(logrus.Fields{
			"function": "Engine.inspectSignal",
			"from":     from.String(),
			"size":     size,
		}).Debug("Draining unexpected datagram")
	} else {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.inspectSignal",
			"error":    err.Error(),
		}).Debug("Peek failed, draining")
	}

	e.receive(e.signal)
	e.metrics.rejected.WithLabelValues(StateIdle.String()).Inc()
	return StateIdle
}
