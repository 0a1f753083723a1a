package transsip

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/transsip/control"
	"github.com/opd-ai/transsip/engine"
	"github.com/opd-ai/transsip/notifier"
	"github.com/opd-ai/transsip/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ErrNotStarted is returned when a command is issued before Start.
var ErrNotStarted = errors.New("phone not started")

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("phone already started")

// Callback types for phone events. They run on the engine goroutine and
// must return quickly.
type (
	StateChangeCallback  func(state engine.State)
	IncomingCallCallback func(peer netip.AddrPort)
	OutgoingCallCallback func(call engine.OutgoingCall)
	CallEndedCallback    func(reason engine.EndReason)
	STUNResultCallback   func(result transport.ProbeResult)
)

// Phone runs a call engine on its own goroutine and drives it through the
// control channel.
type Phone struct {
	options  *Options
	cmd      *control.Commander
	rx       *control.Receiver
	events   *notifier.Chain
	engine   *engine.Engine
	registry *prometheus.Registry

	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	started atomic.Bool
	killed  atomic.Bool

	lastState atomic.Int32

	callbackMu           sync.RWMutex
	stateChangeCallback  StateChangeCallback
	incomingCallCallback IncomingCallCallback
	outgoingCallCallback OutgoingCallCallback
	callEndedCallback    CallEndedCallback
	stunResultCallback   STUNResultCallback
}

// New creates a phone from options. A nil options uses NewOptions.
func New(options *Options) (*Phone, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	cmd, rx, err := control.NewPipePair()
	if err != nil {
		return nil, err
	}

	p := &Phone{
		options:  options,
		cmd:      cmd,
		rx:       rx,
		events:   notifier.NewChain(),
		registry: prometheus.NewRegistry(),
		done:     make(chan struct{}),
	}
	p.lastState.Store(-1)

	if err := p.events.Register(&notifier.Block{Priority: notifier.PriorityLow, Hook: p.dispatch}); err != nil {
		cmd.Close()
		rx.Close()
		return nil, err
	}

	p.engine, err = engine.New(options.EngineConfig(), rx, p.events, engine.NewMetrics(p.registry))
	if err != nil {
		cmd.Close()
		rx.Close()
		return nil, err
	}
	return p, nil
}

// Start runs the engine and waits until it has bound its socket, opened
// the audio device and probed STUN. A startup failure is returned.
func (p *Phone) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		p.err = p.engine.Run(ctx)
		close(p.done)
	}()

	select {
	case <-p.engine.Ready():
	case <-p.done:
		return p.err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Phone.Start",
		"local_addr": p.engine.LocalAddr().String(),
		"stun":       p.engine.ProbeResult().String(),
	}).Info("Phone started")
	return nil
}

func (p *Phone) commander() (*control.Commander, error) {
	if !p.started.Load() {
		return nil, ErrNotStarted
	}
	return p.cmd, nil
}

// Call rings address:port. It is ignored by the engine unless it is idle.
func (p *Phone) Call(address, port string) error {
	cmd, err := p.commander()
	if err != nil {
		return err
	}
	return cmd.Ring(p.options.UserName, address, port)
}

// Take answers the ringing inbound call.
func (p *Phone) Take() error {
	cmd, err := p.commander()
	if err != nil {
		return err
	}
	return cmd.Take()
}

// Hangup ends or refuses the current call.
func (p *Phone) Hangup() error {
	cmd, err := p.commander()
	if err != nil {
		return err
	}
	return cmd.Hangup()
}

// Hold stops sending captured audio until Unhold.
func (p *Phone) Hold() error {
	cmd, err := p.commander()
	if err != nil {
		return err
	}
	return cmd.Hold()
}

// Unhold resumes sending captured audio.
func (p *Phone) Unhold() error {
	cmd, err := p.commander()
	if err != nil {
		return err
	}
	return cmd.Unhold()
}

// State returns the engine state.
func (p *Phone) State() engine.State {
	return p.engine.State()
}

// Session returns a snapshot of the current call.
func (p *Phone) Session() engine.SessionInfo {
	return p.engine.SessionInfo()
}

// LocalAddr returns the signaling address, or the zero AddrPort unless
// Start succeeded.
func (p *Phone) LocalAddr() netip.AddrPort {
	return p.engine.LocalAddr()
}

// ProbeResult returns the startup STUN result. Unless Start succeeded its
// Err is engine.ErrNotReady.
func (p *Phone) ProbeResult() transport.ProbeResult {
	return p.engine.ProbeResult()
}

// Options returns the options the phone was created with.
func (p *Phone) Options() *Options {
	return p.options
}

// Registry returns the registry holding the engine's metrics.
func (p *Phone) Registry() *prometheus.Registry {
	return p.registry
}

// Events returns the notifier chain for hooks beyond the callbacks.
func (p *Phone) Events() *notifier.Chain {
	return p.events
}

// Done is closed when the engine has stopped.
func (p *Phone) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the engine stops and returns its error.
func (p *Phone) Wait() error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	<-p.done
	return p.err
}

// Err returns the engine error once it has stopped, nil before.
func (p *Phone) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Kill stops the engine, waits for it and releases the control channel.
// An active call is torn down first.
func (p *Phone) Kill() {
	if !p.killed.CompareAndSwap(false, true) {
		return
	}

	if p.started.Load() {
		p.cancel()
		<-p.done
	} else {
		// Run owns the receiver once started.
		p.rx.Close()
	}
	if err := p.cmd.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Phone.Kill",
			"error":    err.Error(),
		}).Warn("Closing control channel failed")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Phone.Kill",
	}).Info("Phone stopped")
}

// OnStateChange sets the callback for engine state changes.
func (p *Phone) OnStateChange(callback StateChangeCallback) {
	p.callbackMu.Lock()
	defer p.callbackMu.Unlock()
	p.stateChangeCallback = callback
}

// OnIncomingCall sets the callback for inbound call requests.
func (p *Phone) OnIncomingCall(callback IncomingCallCallback) {
	p.callbackMu.Lock()
	defer p.callbackMu.Unlock()
	p.incomingCallCallback = callback
}

// OnOutgoingCall sets the callback for calls being placed.
func (p *Phone) OnOutgoingCall(callback OutgoingCallCallback) {
	p.callbackMu.Lock()
	defer p.callbackMu.Unlock()
	p.outgoingCallCallback = callback
}

// OnCallEnded sets the callback for finished calls.
func (p *Phone) OnCallEnded(callback CallEndedCallback) {
	p.callbackMu.Lock()
	defer p.callbackMu.Unlock()
	p.callEndedCallback = callback
}

// OnSTUNResult sets the callback for the startup STUN probe.
func (p *Phone) OnSTUNResult(callback STUNResultCallback) {
	p.callbackMu.Lock()
	defer p.callbackMu.Unlock()
	p.stunResultCallback = callback
}

// dispatch forwards engine events to the registered callbacks. The engine
// reports its state on every loop pass; only changes reach the callback.
func (p *Phone) dispatch(_ *notifier.Block, event notifier.Event, payload any) notifier.Result {
	p.callbackMu.RLock()
	defer p.callbackMu.RUnlock()

	switch event {
	case engine.EventStateChanged:
		state := payload.(engine.State)
		if p.lastState.Swap(int32(state)) == int32(state) {
			break
		}
		if p.stateChangeCallback != nil {
			p.stateChangeCallback(state)
		}
	case engine.EventIncomingCall:
		if p.incomingCallCallback != nil {
			p.incomingCallCallback(payload.(netip.AddrPort))
		}
	case engine.EventOutgoingCall:
		if p.outgoingCallCallback != nil {
			p.outgoingCallCallback(payload.(engine.OutgoingCall))
		}
	case engine.EventCallEnded:
		if p.callEndedCallback != nil {
			p.callEndedCallback(payload.(engine.EndReason))
		}
	case engine.EventSTUNResult:
		if p.stunResultCallback != nil {
			p.stunResultCallback(payload.(transport.ProbeResult))
		}
	}
	return notifier.ResultDone
}
