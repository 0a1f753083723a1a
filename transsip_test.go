package transsip

import (
	"context"
	"net/netip"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/transsip/av/audio"
	"github.com/opd-ai/transsip/engine"
	"github.com/opd-ai/transsip/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

func testOptions(name string) *Options {
	opts := NewOptions()
	opts.ListenAddress = "127.0.0.1"
	opts.Port = 0
	opts.STUNServer = ""
	opts.AudioDevice = audio.NullDeviceName
	opts.DialAttempts = 50
	opts.DialInterval = 30 * time.Millisecond
	opts.RingInterval = 30 * time.Millisecond
	opts.PollInterval = 20 * time.Millisecond
	opts.ToneFrames = 1
	opts.EchoTail = 64
	opts.UserName = name
	return opts
}

// events collects phone callbacks.
type events struct {
	mu       sync.Mutex
	states   []engine.State
	incoming []netip.AddrPort
	outgoing []engine.OutgoingCall
	ended    []engine.EndReason
	probes   []transport.ProbeResult
}

func (ev *events) attach(p *Phone) {
	p.OnStateChange(func(s engine.State) {
		ev.mu.Lock()
		ev.states = append(ev.states, s)
		ev.mu.Unlock()
	})
	p.OnIncomingCall(func(peer netip.AddrPort) {
		ev.mu.Lock()
		ev.incoming = append(ev.incoming, peer)
		ev.mu.Unlock()
	})
	p.OnOutgoingCall(func(call engine.OutgoingCall) {
		ev.mu.Lock()
		ev.outgoing = append(ev.outgoing, call)
		ev.mu.Unlock()
	})
	p.OnCallEnded(func(reason engine.EndReason) {
		ev.mu.Lock()
		ev.ended = append(ev.ended, reason)
		ev.mu.Unlock()
	})
	p.OnSTUNResult(func(result transport.ProbeResult) {
		ev.mu.Lock()
		ev.probes = append(ev.probes, result)
		ev.mu.Unlock()
	})
}

func (ev *events) endedWith() []engine.EndReason {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return append([]engine.EndReason(nil), ev.ended...)
}

func startPhone(t *testing.T, name string) (*Phone, *events) {
	t.Helper()

	p, err := New(testOptions(name))
	require.NoError(t, err)
	ev := &events{}
	ev.attach(p)

	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Kill)
	return p, ev
}

func waitPhoneState(t *testing.T, p *Phone, s engine.State) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == s }, waitFor, 5*time.Millisecond,
		"phone never reached %s, is %s", s, p.State())
}

// receivedPackets reads the received media counter from the phone's
// registry.
func receivedPackets(t *testing.T, p *Phone) float64 {
	t.Helper()
	families, err := p.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != "transsip_media_packets_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "direction" && l.GetValue() == "received" {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestPhone_CallBetweenTwoPhones(t *testing.T) {
	alice, aliceEvents := startPhone(t, "alice")
	bob, bobEvents := startPhone(t, "bob")

	bobAddr := bob.LocalAddr()
	require.NoError(t, alice.Call(bobAddr.Addr().String(), strconv.Itoa(int(bobAddr.Port()))))

	waitPhoneState(t, bob, engine.StateCallIn)
	waitPhoneState(t, alice, engine.StateCallOut)
	require.NoError(t, bob.Take())

	waitPhoneState(t, alice, engine.StateSpeaking)
	waitPhoneState(t, bob, engine.StateSpeaking)
	assert.True(t, alice.Session().Outbound)
	assert.False(t, bob.Session().Outbound)

	require.Eventually(t, func() bool {
		return receivedPackets(t, alice) > 0 && receivedPackets(t, bob) > 0
	}, waitFor, 10*time.Millisecond, "media never flowed both ways")

	require.NoError(t, alice.Hangup())
	waitPhoneState(t, alice, engine.StateIdle)
	waitPhoneState(t, bob, engine.StateIdle)

	require.Eventually(t, func() bool {
		return len(aliceEvents.endedWith()) == 1 && len(bobEvents.endedWith()) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, engine.EndLocalHangup, aliceEvents.endedWith()[0])
	assert.Equal(t, engine.EndRemoteHangup, bobEvents.endedWith()[0])

	aliceEvents.mu.Lock()
	require.Len(t, aliceEvents.outgoing, 1)
	assert.Equal(t, "alice", aliceEvents.outgoing[0].User)
	assert.Equal(t, []engine.State{engine.StateIdle, engine.StateCallOut, engine.StateSpeaking, engine.StateIdle}, aliceEvents.states)
	aliceEvents.mu.Unlock()

	bobEvents.mu.Lock()
	require.Len(t, bobEvents.incoming, 1)
	assert.Equal(t, []engine.State{engine.StateIdle, engine.StateCallIn, engine.StateSpeaking, engine.StateIdle}, bobEvents.states)
	bobEvents.mu.Unlock()
}

func TestPhone_CalleeRefuses(t *testing.T) {
	alice, aliceEvents := startPhone(t, "alice")
	bob, bobEvents := startPhone(t, "bob")

	bobAddr := bob.LocalAddr()
	require.NoError(t, alice.Call(bobAddr.Addr().String(), strconv.Itoa(int(bobAddr.Port()))))
	waitPhoneState(t, bob, engine.StateCallIn)
	require.NoError(t, bob.Hangup())

	waitPhoneState(t, bob, engine.StateIdle)
	waitPhoneState(t, alice, engine.StateIdle)
	require.Eventually(t, func() bool { return len(aliceEvents.endedWith()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, engine.EndRemoteBusy, aliceEvents.endedWith()[0])
	assert.Equal(t, []engine.EndReason{engine.EndLocalHangup}, bobEvents.endedWith())
}

func TestPhone_STUNCallback(t *testing.T) {
	p, err := New(testOptions("carol"))
	require.NoError(t, err)
	defer p.Kill()

	ev := &events{}
	ev.attach(p)
	require.NoError(t, p.Start(context.Background()))

	ev.mu.Lock()
	require.Len(t, ev.probes, 1)
	assert.ErrorIs(t, ev.probes[0].Err, transport.ErrNoSTUNServer)
	ev.mu.Unlock()
	assert.False(t, p.ProbeResult().OK())
}

func TestPhone_CommandsBeforeStart(t *testing.T) {
	p, err := New(testOptions("dave"))
	require.NoError(t, err)
	defer p.Kill()

	assert.ErrorIs(t, p.Call("127.0.0.1", "1"), ErrNotStarted)
	assert.ErrorIs(t, p.Take(), ErrNotStarted)
	assert.ErrorIs(t, p.Hangup(), ErrNotStarted)
	assert.ErrorIs(t, p.Hold(), ErrNotStarted)
	assert.ErrorIs(t, p.Unhold(), ErrNotStarted)
	assert.ErrorIs(t, p.Wait(), ErrNotStarted)
	assert.NoError(t, p.Err())
}

func TestPhone_StartTwice(t *testing.T) {
	p, _ := startPhone(t, "erin")
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
}

func TestPhone_StartupFailure(t *testing.T) {
	opts := testOptions("frank")
	opts.ListenAddress = "256.0.0.1"

	p, err := New(opts)
	require.NoError(t, err)
	defer p.Kill()

	assert.Error(t, p.Start(context.Background()))
	assert.Error(t, p.Wait())
	assert.Error(t, p.Err())

	answered := make(chan struct{})
	go func() {
		defer close(answered)
		assert.False(t, p.LocalAddr().IsValid())
		assert.ErrorIs(t, p.ProbeResult().Err, engine.ErrNotReady)
	}()
	select {
	case <-answered:
	case <-time.After(waitFor):
		t.Fatal("LocalAddr or ProbeResult blocked after failed Start")
	}
}

func TestPhone_AddressBeforeStart(t *testing.T) {
	p, err := New(testOptions("ivan"))
	require.NoError(t, err)
	defer p.Kill()

	assert.False(t, p.LocalAddr().IsValid())
	assert.ErrorIs(t, p.ProbeResult().Err, engine.ErrNotReady)
}

func TestPhone_KillStopsEngine(t *testing.T) {
	p, err := New(testOptions("grace"))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	p.Kill()
	p.Kill()

	select {
	case <-p.Done():
	default:
		t.Fatal("engine still running after Kill")
	}
	assert.NoError(t, p.Err())
}

func TestPhone_ContextCancelStopsEngine(t *testing.T) {
	p, err := New(testOptions("heidi"))
	require.NoError(t, err)
	defer p.Kill()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	cancel()

	select {
	case <-p.Done():
	case <-time.After(waitFor):
		t.Fatal("engine did not stop")
	}
	assert.NoError(t, p.Wait())
}

func TestPhone_InvalidOptions(t *testing.T) {
	opts := testOptions("ivan")
	opts.DialAttempts = 0
	_, err := New(opts)
	assert.Error(t, err)

	opts = testOptions("ivan")
	opts.Logging.Level = "chatty"
	_, err = New(opts)
	assert.Error(t, err)
}

func TestPhone_NilOptions(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	defer p.Kill()
	assert.Equal(t, NewOptions(), p.Options())
}
