package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/transsip/engine"
	"github.com/opd-ai/transsip/transport"
)

const helpText = `Commands:
  call <host> <port>  ring a remote transsip
  take                answer the ringing call
  hangup              end, refuse or abandon the current call
  hold                stop sending audio
  unhold              resume sending audio
  stat                show the engine state and current call
  help                show this text
  quit                leave
`

// phone is the part of transsip.Phone the shell drives.
type phone interface {
	Call(address, port string) error
	Take() error
	Hangup() error
	Hold() error
	Unhold() error
	State() engine.State
	Session() engine.SessionInfo
	LocalAddr() netip.AddrPort
	ProbeResult() transport.ProbeResult
}

// shell reads one command per line and forwards it to the phone. Event
// callbacks print from the engine goroutine, so output is serialised.
type shell struct {
	phone phone
	in    io.Reader

	mu  sync.Mutex
	out io.Writer
}

func newShell(p phone, in io.Reader, out io.Writer) *shell {
	return &shell{phone: p, in: in, out: out}
}

func (s *shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *shell) prompt() {
	s.printf("%s> ", s.phone.State())
}

func (s *shell) stateChanged(state engine.State) {
	s.printf("\n[%s]\n", state)
}

func (s *shell) incomingCall(peer netip.AddrPort) {
	s.printf("incoming call from %s, \"take\" to answer, \"hangup\" to refuse\n", peer)
}

func (s *shell) callEnded(reason engine.EndReason) {
	s.printf("call ended: %s\n", reason)
}

// run reads commands until quit, end of input, ctx cancellation or engine
// exit.
func (s *shell) run(ctx context.Context, engineDone <-chan struct{}) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	s.prompt()
	for {
		select {
		case <-ctx.Done():
			return
		case <-engineDone:
			s.printf("\nengine stopped\n")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !s.execute(line) {
				return
			}
			s.prompt()
		}
	}
}

// execute runs one command line and reports whether the shell continues.
func (s *shell) execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	var err error
	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "call":
		if len(args) != 2 {
			s.printf("usage: call <host> <port>\n")
			return true
		}
		err = s.phone.Call(args[0], args[1])
	case "take":
		err = s.phone.Take()
	case "hangup":
		err = s.phone.Hangup()
	case "hold":
		err = s.phone.Hold()
	case "unhold":
		err = s.phone.Unhold()
	case "stat":
		s.stat()
	case "help":
		s.printf("%s", helpText)
	case "quit", "exit":
		return false
	default:
		s.printf("unknown command %q, try \"help\"\n", cmd)
	}

	if err != nil {
		s.printf("error: %v\n", err)
	}
	return true
}

func (s *shell) stat() {
	info := s.phone.Session()
	s.printf("state:  %s\n", s.phone.State())
	s.printf("local:  %s\n", s.phone.LocalAddr())
	s.printf("stun:   %s\n", s.phone.ProbeResult())
	if !info.Peer.IsValid() {
		return
	}

	dir := "inbound"
	if info.Outbound {
		dir = "outbound"
	}
	s.printf("peer:   %s (%s)\n", info.Peer, dir)
	if info.Active {
		s.printf("up:     %s\n", time.Since(info.Since).Round(time.Second))
	}
	if info.Held {
		s.printf("held\n")
	}
}
