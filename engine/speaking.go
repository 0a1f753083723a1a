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

// Poll set layout while speaking. The device descriptors follow the fixed
// entries.
const (
	slotControl = iota
	slotSession
	slotSignal
	slotDevice
)

// speaking runs the media pump for an answered call. Whatever ends the
// call, the device is stopped, fin is sent to the peer, a per-call socket is
// closed, per-call state is released and the session is cleared.
func (e *Engine) speaking(ctx context.Context) (State, error) {
	if !e.sess.active {
		return StateIdle, ErrNoActiveSession
	}

	reason := EndLocalHangup
	m, err := e.newMedia()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.speaking",
			"error":    err.Error(),
		}).Error("Cannot set up call media")
		e.teardown(nil, EndDeviceFailed)
		return StateIdle, nil
	}
	defer func() {
		e.teardown(m, reason)
	}()

	if err := e.device.Start(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.speaking",
			"error":    err.Error(),
		}).Error("Cannot start audio device")
		reason = EndDeviceFailed
		return StateIdle, nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Engine.speaking",
		"peer":     e.sess.peer.String(),
		"outbound": e.sess.outbound,
	}).Info("Call established")

	reason, err = e.pump(ctx, m)
	return StateIdle, err
}

// pump moves audio until the call ends. Each pass handles control input,
// then sockets, then playback, then capture.
func (e *Engine) pump(ctx context.Context, m *media) (EndReason, error) {
	fds := make([]unix.PollFd, slotDevice+e.device.PollDescriptorCount())
	fds[slotControl] = pollIn(e.control.FD())
	fds[slotSession] = pollIn(e.sess.fd)
	// The shared signaling socket is already the session socket for
	// inbound calls; an fd of -1 is skipped by poll.
	fds[slotSignal] = unix.PollFd{Fd: -1}
	if !e.sess.shared {
		fds[slotSignal] = pollIn(e.signalFD)
	}

	var seq uint32
	packet := make([]byte, transport.HeaderSize+m.codec.PayloadSize())

	for {
		nDev := e.device.FillPollDescriptors(fds[slotDevice:])
		set := fds[:slotDevice+nDev]

		if _, err := poll(set, e.cfg.PollInterval); err != nil {
			return EndDeviceFailed, fmt.Errorf("speaking poll: %w", err)
		}
		if ctx.Err() != nil {
			return EndShutdown, errShutdown
		}

		if readable(set[slotControl]) {
			rec, err := e.readControl()
			if err != nil {
				return EndShutdown, err
			}
			if e.handleCallCommand(rec) {
				return EndLocalHangup, nil
			}
		}

		if readable(set[slotSession]) {
			if reason, done := e.receiveMedia(m); done {
				return reason, nil
			}
		}
		if readable(set[slotSignal]) {
			e.drainStray(transport.RejectHeader, StateSpeaking)
		}

		devFds := set[slotDevice:]
		if e.device.PlaybackReady(devFds) {
			frame := m.playbackFrame(e.sess.held)
			if m.echo != nil {
				m.echo.Playback(frame)
			}
			if _, err := e.device.WriteFrame(frame); err != nil && !errors.Is(err, audio.ErrNotReady) {
				logrus.WithFields(logrus.Fields{
					"function": "Engine.pump",
					"error":    err.Error(),
				}).Warn("Playback write failed")
			}
		}

		if e.device.CaptureReady(devFds) {
			sent, err := e.sendCapture(m, packet, seq)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Engine.pump",
					"peer":     e.sess.peer.String(),
					"error":    err.Error(),
				}).Warn("Media send failed, ending call")
				return EndSendFailed, nil
			}
			if sent {
				seq += uint32(e.format.FrameSize)
			}
		}
	}
}

// handleCallCommand applies a control record during a call and reports
// whether it hangs up.
func (e *Engine) handleCallCommand(rec control.Record) bool {
	switch rec.Command() {
	case control.CommandFin:
		return true
	case control.CommandHold:
		e.setHeld(true)
	case control.CommandUnhold:
		e.setHeld(false)
	case control.CommandNone:
		return false
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Engine.handleCallCommand",
			"command":  rec.Command().String(),
		}).Info("Ignoring command during call")
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function": "Engine.handleCallCommand",
		"command":  rec.Command().String(),
	}).Info("Call hold state changed")
	return false
}

// receiveMedia handles one datagram on the session socket. Strangers get a
// bsy+fin reply; a peer fin or bsy ends the call.
func (e *Engine) receiveMedia(m *media) (EndReason, bool) {
	d, err := e.receive(e.sess.conn)
	switch {
	case errors.Is(err, errNoDatagram):
		return 0, false
	case errors.Is(err, transport.ErrShortHeader):
		if !transport.SameAddr(d.from, e.sess.peer) {
			e.rejectStray(e.sess.conn, d, transport.RejectHeader, StateSpeaking)
		}
		return 0, false
	case err != nil:
		logrus.WithFields(logrus.Fields{
			"function": "Engine.receiveMedia",
			"peer":     e.sess.peer.String(),
			"error":    err.Error(),
		}).Warn("Media receive failed, ending call")
		return EndReceiveFailed, true
	}

	if !transport.SameAddr(d.from, e.sess.peer) {
		e.rejectStray(e.sess.conn, d, transport.RejectHeader, StateSpeaking)
		return 0, false
	}
	if d.header.IsTerminal() {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.receiveMedia",
			"peer":     e.sess.peer.String(),
			"header":   d.header.String(),
		}).Info("Peer hung up")
		return EndRemoteHangup, true
	}

	if d.header.Psh && len(d.payload) > 0 {
		m.jitter.Put(d.payload, d.header.Seq)
		e.metrics.packets.WithLabelValues("received").Inc()
	}
	return 0, false
}

// sendCapture reads one captured frame and, unless the call is held, sends
// it to the peer.
func (e *Engine) sendCapture(m *media, packet []byte, seq uint32) (bool, error) {
	if _, err := e.device.ReadFrame(m.pcm); err != nil {
		if errors.Is(err, audio.ErrNotReady) {
			return false, nil
		}
		return false, err
	}

	pcm, err := m.capture.Process(m.pcm)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.sendCapture",
			"error":    err.Error(),
		}).Debug("Capture processing failed, frame dropped")
		return false, nil
	}
	if e.sess.held {
		return false, nil
	}

	payload, err := m.codec.Encode(pcm)
	if err != nil {
		return false, nil
	}

	transport.Header{Seq: seq, Est: true, Psh: true}.Put(packet)
	n := copy(packet[transport.HeaderSize:], payload)
	if err := transport.Send(e.sess.conn, e.sess.peer, packet[:transport.HeaderSize+n]); err != nil {
		return false, err
	}
	e.metrics.packets.WithLabelValues("sent").Inc()
	return true, nil
}

// teardown ends a call. It runs on every exit from Speaking.
func (e *Engine) teardown(m *media, reason EndReason) {
	if err := e.device.Stop(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.teardown",
			"error":    err.Error(),
		}).Warn("Stopping audio device failed")
	}

	if err := transport.SendHeader(e.sess.conn, e.sess.peer, transport.FinHeader); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.teardown",
			"peer":     e.sess.peer.String(),
			"error":    err.Error(),
		}).Debug("Fin send failed")
	}

	if m != nil {
		if err := m.close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.teardown",
				"error":    err.Error(),
			}).Warn("Releasing call media failed")
		}
	}

	e.endSession(reason)
}
