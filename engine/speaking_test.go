package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/transsip/av/audio"
	"github.com/opd-ai/transsip/notifier"
	"github.com/opd-ai/transsip/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// answerInbound drives the engine into Speaking on an inbound call from
// caller.
func answerInbound(t *testing.T, h *harness, caller *peer) {
	t.Helper()
	caller.sendHeader(t, h.engine.LocalAddr(), transport.RingHeader)
	h.waitState(t, StateCallIn)
	require.NoError(t, h.cmd.Take())
	caller.expect(t, isAccept)
	h.waitState(t, StateSpeaking)
}

func mediaPacket(seq uint32) []byte {
	pkt := transport.Header{Seq: seq, Est: true, Psh: true}.Marshal()
	return append(pkt, make([]byte, audio.FrameSize)...)
}

func TestSpeaking_ReceivesMedia(t *testing.T) {
	h := startEngine(t, nil)
	caller := newPeer(t)
	answerInbound(t, h, caller)

	for i := 0; i < 10; i++ {
		caller.send(t, h.engine.LocalAddr(), mediaPacket(uint32(i*audio.FrameSize)))
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.packets.WithLabelValues("received")) == 10
	}, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.packets.WithLabelValues("sent")) > 0
	}, waitFor, 5*time.Millisecond)
}

func TestSpeaking_SequenceAdvancesByFrame(t *testing.T) {
	h := startEngine(t, nil)
	caller := newPeer(t)
	answerInbound(t, h, caller)

	first, _ := caller.expect(t, isMedia)
	second, _ := caller.expect(t, isMedia)
	assert.Equal(t, uint32(audio.FrameSize), second.Seq-first.Seq)
}

func TestSpeaking_StrangerIsRejected(t *testing.T) {
	h := startEngine(t, nil)
	caller := newPeer(t)
	stranger := newPeer(t)
	answerInbound(t, h, caller)

	stranger.send(t, h.engine.LocalAddr(), mediaPacket(0))
	stranger.expect(t, isReject)

	// A stranger's fin is answered with nothing and ends nothing.
	stranger.sendHeader(t, h.engine.LocalAddr(), transport.FinHeader)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, StateSpeaking, h.engine.State())
	info := h.engine.SessionInfo()
	assert.True(t, info.Active)
	assert.Equal(t, caller.addr(), info.Peer)
	assert.Zero(t, testutil.ToFloat64(h.metrics.packets.WithLabelValues("received")))
}

func TestSpeaking_OutboundStrangerOnSignalingSocket(t *testing.T) {
	h := startEngine(t, nil)
	remote := newPeer(t)
	stranger := newPeer(t)

	require.NoError(t, h.cmd.Ring("", "127.0.0.1", remote.port()))
	_, from := remote.expect(t, isRing)
	remote.sendHeader(t, from, transport.AcceptHeader)
	h.waitState(t, StateSpeaking)

	stranger.sendHeader(t, h.engine.LocalAddr(), transport.RingHeader)
	stranger.expect(t, isBusy)
	assert.Equal(t, StateSpeaking, h.engine.State())
}

func TestSpeaking_HoldStopsSending(t *testing.T) {
	h := startEngine(t, nil)
	caller := newPeer(t)
	answerInbound(t, h, caller)

	caller.expect(t, isMedia)
	require.NoError(t, h.cmd.Hold())
	require.Eventually(t, func() bool { return h.engine.SessionInfo().Held }, waitFor, 5*time.Millisecond)

	// Drain what was in flight, then nothing more may arrive.
	require.Eventually(t, func() bool { return caller.silentFor(20 * time.Millisecond) }, waitFor, time.Millisecond)
	assert.True(t, caller.silentFor(100*time.Millisecond))

	require.NoError(t, h.cmd.Unhold())
	caller.expect(t, isMedia)
	assert.False(t, h.engine.SessionInfo().Held)
}

func TestSpeaking_TeardownOnContextCancel(t *testing.T) {
	h := startEngine(t, nil)
	caller := newPeer(t)
	answerInbound(t, h, caller)

	h.cancel()
	caller.expect(t, isFin)
	h.waitEnded(t, EndShutdown)
}

func TestSpeaking_PeerBusyEndsCall(t *testing.T) {
	h := startEngine(t, nil)
	remote := newPeer(t)

	require.NoError(t, h.cmd.Ring("", "127.0.0.1", remote.port()))
	_, from := remote.expect(t, isRing)
	remote.sendHeader(t, from, transport.AcceptHeader)
	h.waitState(t, StateSpeaking)

	remote.sendHeader(t, from, transport.BusyHeader)
	h.waitEnded(t, EndRemoteHangup)
	h.waitState(t, StateIdle)
	remote.expect(t, isFin)
	assert.False(t, h.engine.SessionInfo().Active)
}

func TestSpeaking_PeerGoneEndsOutboundCall(t *testing.T) {
	h := startEngine(t, nil)
	remote := newPeer(t)

	require.NoError(t, h.cmd.Ring("", "127.0.0.1", remote.port()))
	_, from := remote.expect(t, isRing)
	remote.sendHeader(t, from, transport.AcceptHeader)
	h.waitState(t, StateSpeaking)

	// Closing the peer makes the connected socket report ECONNREFUSED.
	remote.conn.Close()
	h.waitState(t, StateIdle)

	reasons := h.rec.endReasons()
	require.NotEmpty(t, reasons)
	assert.Contains(t, []EndReason{EndReceiveFailed, EndSendFailed}, reasons[len(reasons)-1])
}

func TestSpeaking_ActiveOnlyWhileSpeaking(t *testing.T) {
	h := startEngine(t, nil)

	var mu sync.Mutex
	var violations []string
	check := &notifier.Block{Priority: notifier.PriorityHigh, Hook: func(_ *notifier.Block, ev notifier.Event, payload any) notifier.Result {
		if ev != EventStateChanged {
			return notifier.ResultDone
		}
		s := payload.(State)
		info := h.engine.SessionInfo()
		if info.Active != (s == StateSpeaking) {
			mu.Lock()
			violations = append(violations, s.String())
			mu.Unlock()
		}
		return notifier.ResultDone
	}}
	require.NoError(t, h.events.Register(check))

	caller := newPeer(t)
	answerInbound(t, h, caller)
	require.NoError(t, h.cmd.Hangup())
	h.waitState(t, StateIdle)

	remote := newPeer(t)
	require.NoError(t, h.cmd.Ring("", "127.0.0.1", remote.port()))
	_, from := remote.expect(t, isRing)
	remote.sendHeader(t, from, transport.AcceptHeader)
	h.waitState(t, StateSpeaking)
	remote.sendHeader(t, from, transport.FinHeader)
	h.waitState(t, StateIdle)

	// One more idle pass after the last transition.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, violations)
	assert.Equal(t, []State{StateIdle, StateCallIn, StateSpeaking, StateIdle, StateCallOut, StateSpeaking, StateIdle}, h.rec.visited())
}

func TestSpeaking_FreshMediaPerCall(t *testing.T) {
	h := startEngine(t, nil)
	caller := newPeer(t)

	for i := 0; i < 2; i++ {
		answerInbound(t, h, caller)
		first, _ := caller.expect(t, isMedia)
		assert.Zero(t, first.Seq, "call %d restarts its sequence", i)
		require.NoError(t, h.cmd.Hangup())
		caller.expect(t, isFin)
		h.waitState(t, StateIdle)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.calls.WithLabelValues("inbound", "local-hangup")))
}
