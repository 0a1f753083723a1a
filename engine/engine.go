// Package engine implements the transsip call engine: a poll-driven state
// machine that places and answers calls over UDP and pumps audio between
// the local device and the peer while a call is up.
//
// The engine runs on a single goroutine started with Run. It is driven by
// the signaling socket, the control channel and, while speaking, the audio
// device. State changes are published through a notifier.Chain.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/transsip/av/audio"
	"github.com/opd-ai/transsip/av/jitter"
	"github.com/opd-ai/transsip/control"
	"github.com/opd-ai/transsip/notifier"
	"github.com/opd-ai/transsip/transport"
	"github.com/sirupsen/logrus"
)

// readGrace bounds a datagram read after poll reported the socket readable.
const readGrace = 10 * time.Millisecond

// Config holds the engine's tunables.
type Config struct {
	ListenAddress string
	STUNServer    string
	STUNTimeout   time.Duration

	// DialAttempts polls of DialInterval each are made before an
	// unanswered outbound call is abandoned.
	DialAttempts int
	DialInterval time.Duration
	// RingInterval is the poll timeout while an inbound call rings.
	RingInterval time.Duration
	// PollInterval bounds the poll timeout in Idle and Speaking.
	PollInterval time.Duration

	AudioDevice  string
	EchoCancel   bool
	EchoTail     int
	CaptureGain  float64
	ToneFrames   int
	JitterMargin int
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		ListenAddress: ":30111",
		STUNServer:    "stun.l.google.com:19302",
		STUNTimeout:   transport.DefaultSTUNTimeout,
		DialAttempts:  100,
		DialInterval:  1500 * time.Millisecond,
		RingInterval:  1500 * time.Millisecond,
		PollInterval:  250 * time.Millisecond,
		AudioDevice:   "default",
		EchoCancel:    true,
		EchoTail:      audio.DefaultEchoTail,
		CaptureGain:   1.0,
		ToneFrames:    40,
		JitterMargin:  jitter.DefaultMargin,
	}
}

// Validate reports settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.DialAttempts <= 0:
		return fmt.Errorf("dial attempts must be positive, got %d", c.DialAttempts)
	case c.DialInterval <= 0, c.RingInterval <= 0, c.PollInterval <= 0:
		return errors.New("poll intervals must be positive")
	case c.EchoCancel && c.EchoTail <= 0:
		return fmt.Errorf("echo tail must be positive, got %d", c.EchoTail)
	case c.CaptureGain < 0 || c.CaptureGain > audio.MaxGain:
		return fmt.Errorf("capture gain %.2f out of range", c.CaptureGain)
	case c.ToneFrames < 0:
		return fmt.Errorf("tone frames must not be negative, got %d", c.ToneFrames)
	}
	return nil
}

// Engine is the call engine. Create it with New and run it once with Run.
type Engine struct {
	cfg     Config
	format  audio.Format
	control *control.Receiver
	events  *notifier.Chain
	metrics *Metrics

	signal   *net.UDPConn
	signalFD int
	device   audio.Device
	buf      []byte

	tracker *tracker
	pending *control.Record
	sess    session

	state   atomic.Int32
	infoMu  sync.RWMutex
	info    SessionInfo
	started atomic.Bool

	ready     chan struct{}
	probe     transport.ProbeResult
	localAddr netip.AddrPort
}

// New creates an engine reading commands from rx and publishing events on
// events. metrics may be nil.
func New(cfg Config, rx *control.Receiver, events *notifier.Chain, metrics *Metrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rx == nil {
		return nil, errors.New("engine needs a control receiver")
	}
	if events == nil {
		events = notifier.NewChain()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	e := &Engine{
		cfg:     cfg,
		format:  audio.DefaultFormat(),
		control: rx,
		events:  events,
		metrics: metrics,
		buf:     make([]byte, transport.MaxDatagram),
		ready:   make(chan struct{}),
	}
	e.tracker = newTracker(func(from, to State) {
		e.metrics.transitions.WithLabelValues(from.String(), to.String()).Inc()
	})
	return e, nil
}

// Ready is closed once the engine has bound its socket, opened the audio
// device and finished the STUN probe, whatever its outcome. It stays open
// when startup fails.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// ProbeResult returns the startup STUN result. Until Ready is closed, and
// forever when startup failed, its Err is ErrNotReady.
func (e *Engine) ProbeResult() transport.ProbeResult {
	select {
	case <-e.ready:
		return e.probe
	default:
		return transport.ProbeResult{Server: e.cfg.STUNServer, Err: ErrNotReady}
	}
}

// LocalAddr returns the bound signaling address, or the zero AddrPort
// until Ready is closed.
func (e *Engine) LocalAddr() netip.AddrPort {
	select {
	case <-e.ready:
		return e.localAddr
	default:
		return netip.AddrPort{}
	}
}

// State returns the state the engine is in.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// SessionInfo returns a snapshot of the current session.
func (e *Engine) SessionInfo() SessionInfo {
	e.infoMu.RLock()
	defer e.infoMu.RUnlock()
	return e.info
}

// Run binds the signaling socket, opens the audio device, probes STUN and
// then runs the state machine until ctx is cancelled or the control channel
// is closed. Resource acquisition failures are returned; a clean shutdown
// returns nil. The control receiver is closed when Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrEngineRunning
	}
	defer e.control.Close()

	if err := e.startup(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.Run",
			"error":    err.Error(),
		}).Error("Engine startup failed")
		return err
	}
	defer e.shutdown()

	logrus.WithFields(logrus.Fields{
		"function":   "Engine.Run",
		"local_addr": e.localAddr.String(),
	}).Info("Engine running")

	state := StateIdle
	for {
		if ctx.Err() != nil {
			return nil
		}

		e.events.Dispatch(EventStateChanged, state)

		next, err := e.handle(ctx, state)
		if errors.Is(err, errShutdown) {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.Run",
				"state":    state.String(),
			}).Info("Engine stopping")
			return nil
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.Run",
				"state":    state.String(),
				"error":    err.Error(),
			}).Error("Engine failed")
			return err
		}

		if err := e.tracker.transition(ctx, next); err != nil {
			return err
		}
		state = next
		e.setState(state)
	}
}

func (e *Engine) handle(ctx context.Context, state State) (State, error) {
	switch state {
	case StateIdle:
		return e.idle(ctx)
	case StateCallOut:
		return e.callOut(ctx)
	case StateCallIn:
		return e.callIn(ctx)
	case StateSpeaking:
		return e.speaking(ctx)
	}
	return StateIdle, fmt.Errorf("%w: unknown state %d", ErrInvalidTransition, state)
}

func (e *Engine) startup(ctx context.Context) error {
	signal, err := transport.ListenSignaling(ctx, e.cfg.ListenAddress)
	if err != nil {
		return err
	}
	fd, err := transport.FD(signal)
	if err != nil {
		signal.Close()
		return fmt.Errorf("signaling socket descriptor: %w", err)
	}

	device, err := audio.Open(e.cfg.AudioDevice, e.format)
	if err != nil {
		signal.Close()
		return err
	}

	e.signal = signal
	e.signalFD = fd
	e.device = device
	e.localAddr = transport.AddrPortOf(signal.LocalAddr())

	client := transport.NewSTUNClient(e.cfg.STUNServer, e.cfg.STUNTimeout)
	e.probe = client.Probe(ctx, signal)
	if e.probe.OK() {
		e.metrics.stunProbes.WithLabelValues("success").Inc()
	} else {
		e.metrics.stunProbes.WithLabelValues("failure").Inc()
	}
	logrus.WithFields(logrus.Fields{
		"function": "Engine.startup",
		"result":   e.probe.String(),
	}).Info("STUN probe finished")

	close(e.ready)
	e.events.Dispatch(EventSTUNResult, e.probe)
	return nil
}

func (e *Engine) shutdown() {
	if err := e.device.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.shutdown",
			"error":    err.Error(),
		}).Warn("Closing audio device failed")
	}
	e.signal.Close()
}

func (e *Engine) setState(s State) {
	e.infoMu.Lock()
	e.state.Store(int32(s))
	e.info = e.sess.info(s)
	e.infoMu.Unlock()
}

func (e *Engine) publishSession() {
	e.infoMu.Lock()
	e.info = e.sess.info(e.State())
	e.infoMu.Unlock()
}

// beginSession records a pending call. The session stays inactive until
// the call is answered.
func (e *Engine) beginSession(conn *net.UDPConn, fd int, shared bool, peer netip.AddrPort, outbound bool, user string) {
	e.sess = session{
		conn:     conn,
		fd:       fd,
		shared:   shared,
		peer:     peer,
		outbound: outbound,
		user:     user,
		since:    time.Now(),
	}
	e.publishSession()
}

func (e *Engine) activate() {
	e.sess.active = true
	e.sess.since = time.Now()
	e.metrics.activeSession.Set(1)
}

func (e *Engine) setHeld(held bool) {
	e.sess.held = held
	e.publishSession()
}

// endSession closes a per-call socket, clears the session and reports the
// outcome.
func (e *Engine) endSession(reason EndReason) {
	if e.sess.conn != nil && !e.sess.shared {
		e.sess.conn.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Engine.endSession",
		"peer":     e.sess.peer.String(),
		"outbound": e.sess.outbound,
		"reason":   reason.String(),
	}).Info("Call ended")

	e.metrics.calls.WithLabelValues(direction(e.sess.outbound), reason.String()).Inc()
	e.metrics.activeSession.Set(0)

	e.sess = session{}
	e.events.Dispatch(EventCallEnded, reason)
}

// readControl reads one record after poll reported the channel readable.
// A closed channel is a shutdown; a malformed record reads as no command.
func (e *Engine) readControl() (control.Record, error) {
	rec, err := e.control.Receive()
	if errors.Is(err, control.ErrChannelClosed) {
		return control.Record{}, errShutdown
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.readControl",
			"error":    err.Error(),
		}).Warn("Discarding malformed control record")
		return control.Record{}, nil
	}
	return rec, nil
}

// datagram is one received, parsed datagram. payload aliases the engine's
// receive buffer.
type datagram struct {
	header  transport.Header
	payload []byte
	from    netip.AddrPort
}

var errNoDatagram = errors.New("no datagram")

// receive consumes one datagram from conn. Spurious readiness yields
// errNoDatagram; a malformed datagram is consumed and yields a wrapped
// transport.ErrShortHeader.
func (e *Engine) receive(conn *net.UDPConn) (datagram, error) {
	n, from, err := transport.ReadDatagram(conn, e.buf, readGrace)
	if err != nil {
		if transport.IsTimeout(err) || transport.IsWouldBlock(err) {
			return datagram{}, errNoDatagram
		}
		return datagram{}, err
	}

	h, err := transport.ParseHeader(e.buf[:n])
	if err != nil {
		return datagram{from: from}, err
	}
	return datagram{header: h, payload: transport.Payload(e.buf[:n]), from: from}, nil
}

// rejectStray answers a datagram that cannot belong to the current call.
// Datagrams that are themselves busy or fin are not answered.
func (e *Engine) rejectStray(conn *net.UDPConn, d datagram, reply transport.Header, state State) {
	e.metrics.rejected.WithLabelValues(state.String()).Inc()
	if d.header.IsTerminal() || !d.from.IsValid() {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Engine.rejectStray",
		"state":    state.String(),
		"from":     d.from.String(),
		"header":   d.header.String(),
	}).Debug("Rejecting datagram from stranger")

	if err := transport.SendHeader(conn, d.from, reply); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.rejectStray",
			"to":       d.from.String(),
			"error":    err.Error(),
		}).Debug("Busy reply failed")
	}
}

// drainStray consumes one datagram from the signaling socket while a call
// owns the engine and answers it with reply.
func (e *Engine) drainStray(reply transport.Header, state State) {
	d, err := e.receive(e.signal)
	if errors.Is(err, errNoDatagram) {
		return
	}
	if err != nil && !errors.Is(err, transport.ErrShortHeader) {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.drainStray",
			"error":    err.Error(),
		}).Debug("Signaling read failed")
		return
	}
	e.rejectStray(e.signal, d, reply, state)
}

func (e *Engine) playTone(g *audio.ToneGenerator) {
	if e.cfg.ToneFrames == 0 {
		return
	}
	e.metrics.tones.WithLabelValues(g.Tone().String()).Inc()

	if err := audio.PlayTone(e.device, g, e.cfg.ToneFrames); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.playTone",
			"tone":     g.Tone().String(),
			"error":    err.Error(),
		}).Warn("Tone playback failed")
	}
}
