package engine

import (
	"net"
	"net/netip"
	"time"
)

// session is the single pending or active call. Only the engine goroutine
// touches it; readers get a SessionInfo copy.
type session struct {
	active   bool
	conn     *net.UDPConn
	fd       int
	shared   bool // conn is the signaling socket and must not be closed
	peer     netip.AddrPort
	outbound bool
	user     string
	held     bool
	since    time.Time
}

// SessionInfo is a snapshot of the current session.
type SessionInfo struct {
	State    State
	Active   bool
	Peer     netip.AddrPort
	Outbound bool
	User     string
	Held     bool
	Since    time.Time
}

func (s *session) info(state State) SessionInfo {
	return SessionInfo{
		State:    state,
		Active:   s.active,
		Peer:     s.peer,
		Outbound: s.outbound,
		User:     s.user,
		Held:     s.held,
		Since:    s.since,
	}
}
