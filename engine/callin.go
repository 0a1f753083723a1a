package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/opd-ai/transsip/av/audio"
	"github.com/opd-ai/transsip/control"
	"github.com/opd-ai/transsip/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// callIn consumes the call request that woke Idle and rings until the user
// takes or refuses the call or the caller gives up.
func (e *Engine) callIn(ctx context.Context) (State, error) {
	if e.sess.active {
		return StateIdle, fmt.Errorf("call-in with an active session: %w", ErrInvalidTransition)
	}

	d, err := e.receive(e.signal)
	if err != nil || !d.header.IsCallRequest() {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.callIn",
			"from":     d.from.String(),
		}).Warn("Call request vanished or malformed, back to idle")
		return StateIdle, nil
	}

	e.beginSession(e.signal, e.signalFD, true, d.from, false, "")
	e.events.Dispatch(EventIncomingCall, d.from)

	logrus.WithFields(logrus.Fields{
		"function": "Engine.callIn",
		"peer":     d.from.String(),
	}).Info("Ringing, waiting for take or hangup")

	reason, taken, err := e.ring(ctx)
	if taken {
		e.activate()
		return StateSpeaking, nil
	}

	e.endSession(reason)
	return StateIdle, err
}

func (e *Engine) ring(ctx context.Context) (EndReason, bool, error) {
	ringer := audio.NewToneGenerator(audio.ToneRing, e.format)
	fds := []unix.PollFd{pollIn(e.control.FD()), pollIn(e.signalFD)}

	for {
		n, err := poll(fds, e.cfg.RingInterval)
		if err != nil {
			e.reply(transport.RejectHeader)
			return EndShutdown, false, fmt.Errorf("call-in poll: %w", err)
		}
		if ctx.Err() != nil {
			e.reply(transport.RejectHeader)
			return EndShutdown, false, errShutdown
		}

		if readable(fds[0]) {
			rec, err := e.readControl()
			if err != nil {
				e.reply(transport.RejectHeader)
				return EndShutdown, false, err
			}
			switch rec.Command() {
			case control.CommandTake:
				if err := e.reply(transport.AcceptHeader); err != nil {
					return EndSendFailed, false, nil
				}
				logrus.WithFields(logrus.Fields{
					"function": "Engine.ring",
					"peer":     e.sess.peer.String(),
				}).Info("Call taken")
				return 0, true, nil
			case control.CommandFin:
				e.reply(transport.RejectHeader)
				return EndLocalHangup, false, nil
			case control.CommandNone:
			default:
				logrus.WithFields(logrus.Fields{
					"function": "Engine.ring",
					"command":  rec.Command().String(),
				}).Info("Ignoring command while ringing")
			}
		}

		if readable(fds[1]) {
			d, err := e.receive(e.signal)
			if err == nil && transport.SameAddr(d.from, e.sess.peer) && d.header.IsTerminal() {
				logrus.WithFields(logrus.Fields{
					"function": "Engine.ring",
					"peer":     e.sess.peer.String(),
				}).Info("Caller hung up")
				return EndRemoteHangup, false, nil
			}
			if err == nil && !transport.SameAddr(d.from, e.sess.peer) {
				e.metrics.rejected.WithLabelValues(StateCallIn.String()).Inc()
			}
			if err != nil && !errors.Is(err, errNoDatagram) {
				logrus.WithFields(logrus.Fields{
					"function": "Engine.ring",
					"error":    err.Error(),
				}).Debug("Ignoring unreadable datagram")
			}
		}

		if n == 0 {
			e.playTone(ringer)
		}
	}
}

// reply sends h to the session peer on the session socket.
func (e *Engine) reply(h transport.Header) error {
	err := transport.SendHeader(e.sess.conn, e.sess.peer, h)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.reply",
			"peer":     e.sess.peer.String(),
			"header":   h.String(),
			"error":    err.Error(),
		}).Warn("Reply to peer failed")
	}
	return err
}
