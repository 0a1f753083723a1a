package main

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/transsip/engine"
	"github.com/opd-ai/transsip/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePhone struct {
	calls   []string
	state   engine.State
	session engine.SessionInfo
	err     error
}

func (f *fakePhone) record(c string) error {
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakePhone) Call(address, port string) error { return f.record("call " + address + " " + port) }
func (f *fakePhone) Take() error                     { return f.record("take") }
func (f *fakePhone) Hangup() error                   { return f.record("hangup") }
func (f *fakePhone) Hold() error                     { return f.record("hold") }
func (f *fakePhone) Unhold() error                   { return f.record("unhold") }
func (f *fakePhone) State() engine.State             { return f.state }
func (f *fakePhone) Session() engine.SessionInfo     { return f.session }
func (f *fakePhone) LocalAddr() netip.AddrPort {
	return netip.MustParseAddrPort("127.0.0.1:30111")
}
func (f *fakePhone) ProbeResult() transport.ProbeResult {
	return transport.ProbeResult{Err: transport.ErrNoSTUNServer}
}

func runShell(t *testing.T, p *fakePhone, input string) string {
	t.Helper()
	var out bytes.Buffer
	sh := newShell(p, strings.NewReader(input), &out)

	done := make(chan struct{})
	go func() {
		sh.run(context.Background(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shell did not finish")
	}
	return out.String()
}

func TestShell_ForwardsCommands(t *testing.T) {
	p := &fakePhone{}
	out := runShell(t, p, "call 192.0.2.1 30111\n\nTAKE\nhold\nunhold\nhangup\nquit\ncall never sent\n")

	assert.Equal(t, []string{"call 192.0.2.1 30111", "take", "hold", "unhold", "hangup"}, p.calls)
	assert.True(t, strings.HasPrefix(out, "idle> "))
}

func TestShell_Usage(t *testing.T) {
	p := &fakePhone{}
	out := runShell(t, p, "call onlyhost\nfrobnicate\nhelp\n")

	assert.Empty(t, p.calls)
	assert.Contains(t, out, "usage: call <host> <port>")
	assert.Contains(t, out, `unknown command "frobnicate"`)
	assert.Contains(t, out, "ring a remote transsip")
}

func TestShell_ReportsErrors(t *testing.T) {
	p := &fakePhone{err: errors.New("pipe closed")}
	out := runShell(t, p, "take\n")
	assert.Contains(t, out, "error: pipe closed")
}

func TestShell_Stat(t *testing.T) {
	p := &fakePhone{
		state: engine.StateSpeaking,
		session: engine.SessionInfo{
			State:    engine.StateSpeaking,
			Active:   true,
			Peer:     netip.MustParseAddrPort("198.51.100.4:30111"),
			Outbound: true,
			Held:     true,
			Since:    time.Now(),
		},
	}
	out := runShell(t, p, "stat\n")

	assert.Contains(t, out, "state:  speaking")
	assert.Contains(t, out, "local:  127.0.0.1:30111")
	assert.Contains(t, out, "peer:   198.51.100.4:30111 (outbound)")
	assert.Contains(t, out, "held")
}

func TestShell_StopsWhenEngineStops(t *testing.T) {
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()

	var out bytes.Buffer
	sh := newShell(&fakePhone{}, pr, &out)
	engineDone := make(chan struct{})
	close(engineDone)

	sh.run(context.Background(), engineDone)
	assert.Contains(t, out.String(), "engine stopped")
}

func TestShell_EventOutput(t *testing.T) {
	var out bytes.Buffer
	sh := newShell(&fakePhone{}, strings.NewReader(""), &out)

	sh.stateChanged(engine.StateCallIn)
	sh.incomingCall(netip.MustParseAddrPort("192.0.2.9:4000"))
	sh.callEnded(engine.EndRemoteHangup)

	assert.Contains(t, out.String(), "[call-in]")
	assert.Contains(t, out.String(), "incoming call from 192.0.2.9:4000")
	assert.Contains(t, out.String(), "call ended: remote-hangup")
}

func TestLoadOptions_FlagsOverrideSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings")
	require.NoError(t, os.WriteFile(path, []byte("[network]\nport = 31000\n[user]\nname = alice\n"), 0o600))

	opts, err := loadOptions(&CLIConfig{settings: path, port: 32000, device: "null", user: "bob", logLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, uint16(32000), opts.Port)
	assert.Equal(t, "null", opts.AudioDevice)
	assert.Equal(t, "bob", opts.UserName)
	assert.Equal(t, "debug", opts.Logging.Level)

	_, err = loadOptions(&CLIConfig{settings: path, port: 70000})
	assert.Error(t, err)

	_, err = loadOptions(&CLIConfig{settings: path, logLevel: "shouty"})
	assert.Error(t, err)
}
