// Package transport implements the transsip wire layer: the five-byte
// datagram header, the UDP socket helpers the call engine polls on, and a
// one-shot STUN probe.
//
// # Header
//
// Every datagram starts with a Header:
//
//	[SEQ(4, big endian)][FLAGS(1)][PAYLOAD(...)]
//
// The flags distinguish a call request (est), an acceptance or media frame
// (est+psh), a busy reply (bsy) and a hang-up (fin). Media datagrams carry
// exactly one fixed-size codec frame; there is no length field.
//
//	pkt := transport.Header{Seq: seq, Est: true, Psh: true}.Marshal()
//	h, err := transport.ParseHeader(datagram)
//
// # Sockets
//
// ListenSignaling binds the socket that receives call requests. DialPeer
// creates a connected per-call socket for outbound calls. FD exposes the
// descriptor for poll sets, and Peek inspects the next datagram without
// consuming it so the engine can decide whether it is a call request.
//
// # STUN
//
// STUNClient sends one binding request from the signaling socket and
// reports the public mapping. The result is advisory; a failed probe never
// stops the engine.
//
//	result := transport.NewSTUNClient("stun.l.google.com:19302", time.Second).Probe(ctx, conn)
//	if result.OK() {
//	    fmt.Println("reachable at", result.Mapped)
//	}
package transport
