package engine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/opd-ai/transsip/av/audio"
	"github.com/opd-ai/transsip/control"
	"github.com/opd-ai/transsip/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// callOut dials the peer named by the pending ring record and waits for an
// answer for at most DialAttempts polls.
func (e *Engine) callOut(ctx context.Context) (State, error) {
	rec := e.pending
	e.pending = nil

	if rec == nil || rec.Command() != control.CommandRing || rec.Address == "" || rec.Port == "" {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.callOut",
		}).Warn("No usable ring record, back to idle")
		return StateIdle, nil
	}
	if e.sess.active {
		return StateIdle, fmt.Errorf("call-out with an active session: %w", ErrInvalidTransition)
	}

	e.beginSession(nil, -1, false, netip.AddrPort{}, true, rec.User)
	e.events.Dispatch(EventOutgoingCall, OutgoingCall{User: rec.User, Address: rec.Address, Port: rec.Port})

	conn, err := transport.DialPeer(ctx, rec.Address, rec.Port)
	if err == nil {
		e.sess.conn = conn
		e.sess.fd, err = transport.FD(conn)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.callOut",
			"address":  rec.Address,
			"port":     rec.Port,
			"error":    err.Error(),
		}).Warn("Cannot reach peer")
		e.endSession(EndDialFailed)
		e.playTone(audio.NewToneGenerator(audio.ToneBusy, e.format))
		return StateIdle, nil
	}

	peer := transport.AddrPortOf(conn.RemoteAddr())
	e.sess.peer = peer
	e.publishSession()

	logrus.WithFields(logrus.Fields{
		"function": "Engine.callOut",
		"peer":     peer.String(),
		"user":     rec.User,
	}).Info("Calling peer")

	if err := transport.SendHeader(conn, peer, transport.RingHeader); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.callOut",
			"peer":     peer.String(),
			"error":    err.Error(),
		}).Warn("Call request send failed")
		e.abandonCallOut(EndSendFailed)
		return StateIdle, nil
	}

	reason, answered, err := e.awaitAnswer(ctx)
	if answered {
		e.activate()
		return StateSpeaking, nil
	}

	e.abandonCallOut(reason)
	return StateIdle, err
}

// awaitAnswer polls the call socket, the signaling socket and the control
// channel until the peer answers or refuses, the user aborts, or the
// attempts run out. A dial tone is played on every unresolved attempt.
func (e *Engine) awaitAnswer(ctx context.Context) (EndReason, bool, error) {
	dial := audio.NewToneGenerator(audio.ToneDial, e.format)
	fds := []unix.PollFd{pollIn(e.control.FD()), pollIn(e.signalFD), pollIn(e.sess.fd)}

	for attempt := 1; attempt <= e.cfg.DialAttempts; attempt++ {
		_, err := poll(fds, e.cfg.DialInterval)
		if err != nil {
			return EndShutdown, false, fmt.Errorf("call-out poll: %w", err)
		}
		if ctx.Err() != nil {
			return EndShutdown, false, errShutdown
		}

		if readable(fds[0]) {
			rec, err := e.readControl()
			if err != nil {
				return EndShutdown, false, err
			}
			switch rec.Command() {
			case control.CommandFin:
				return EndLocalHangup, false, nil
			case control.CommandNone:
			default:
				logrus.WithFields(logrus.Fields{
					"function": "Engine.awaitAnswer",
					"command":  rec.Command().String(),
				}).Info("Ignoring command while dialing")
			}
		}

		if readable(fds[1]) {
			e.drainStray(transport.BusyHeader, StateCallOut)
		}

		if readable(fds[2]) {
			d, err := e.receive(e.sess.conn)
			switch {
			case err == nil && transport.SameAddr(d.from, e.sess.peer):
				if d.header.IsTerminal() {
					return EndRemoteBusy, false, nil
				}
				if d.header.IsAccept() {
					logrus.WithFields(logrus.Fields{
						"function": "Engine.awaitAnswer",
						"peer":     e.sess.peer.String(),
						"attempt":  attempt,
					}).Info("Call answered")
					return 0, true, nil
				}
			case err == nil, errors.Is(err, errNoDatagram), errors.Is(err, transport.ErrShortHeader):
			default:
				// Typically ECONNREFUSED while nothing listens on the peer port yet.
				logrus.WithFields(logrus.Fields{
					"function": "Engine.awaitAnswer",
					"error":    err.Error(),
				}).Debug("Call socket read failed")
			}
		}

		e.playTone(dial)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Engine.awaitAnswer",
		"peer":     e.sess.peer.String(),
		"attempts": e.cfg.DialAttempts,
	}).Info("No answer")
	return EndNoAnswer, false, nil
}

// abandonCallOut tells the callee the attempt is over, closes the call
// socket and signals busy locally.
func (e *Engine) abandonCallOut(reason EndReason) {
	if reason != EndRemoteBusy && reason != EndSendFailed {
		if err := transport.SendHeader(e.sess.conn, e.sess.peer, transport.FinHeader); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.abandonCallOut",
				"error":    err.Error(),
			}).Debug("Fin send failed")
		}
	}
	e.endSession(reason)
	if reason != EndShutdown {
		e.playTone(audio.NewToneGenerator(audio.ToneBusy, e.format))
	}
}
