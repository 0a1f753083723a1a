package transport

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Header is the fixed transsip datagram header.
//
// Wire format:
//
//	[SEQ(4, big endian)][FLAGS(1)][PAYLOAD(...)]
//
// FLAGS packs est (bit 0), psh (bit 1), bsy (bit 2) and fin (bit 3); the
// upper four bits are reserved and always written as zero.
type Header struct {
	Seq uint32 // Media timestamp, advanced by the frame size per packet
	Est bool   // Call setup or acceptance
	Psh bool   // Payload follows / acceptance
	Bsy bool   // Busy, setup rejected
	Fin bool   // Terminate the current call
}

const (
	// HeaderSize is the encoded size of a Header.
	HeaderSize = 5

	flagEst byte = 1 << 0
	flagPsh byte = 1 << 1
	flagBsy byte = 1 << 2
	flagFin byte = 1 << 3

	flagMask = flagEst | flagPsh | flagBsy | flagFin
)

// Marshal encodes the header into a new HeaderSize byte slice.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	h.Put(buf)
	return buf
}

// Put encodes the header into the first HeaderSize bytes of buf. It panics
// if buf is shorter than HeaderSize, like binary.BigEndian.PutUint32.
func (h Header) Put(buf []byte) {
	_ = buf[HeaderSize-1]
	binary.BigEndian.PutUint32(buf[0:4], h.Seq)

	var flags byte
	if h.Est {
		flags |= flagEst
	}
	if h.Psh {
		flags |= flagPsh
	}
	if h.Bsy {
		flags |= flagBsy
	}
	if h.Fin {
		flags |= flagFin
	}
	buf[4] = flags
}

// ParseHeader decodes the header at the start of data. The reserved bits
// are ignored. The remaining bytes of data are the payload.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrShortHeader, len(data))
	}

	flags := data[4] & flagMask
	return Header{
		Seq: binary.BigEndian.Uint32(data[0:4]),
		Est: flags&flagEst != 0,
		Psh: flags&flagPsh != 0,
		Bsy: flags&flagBsy != 0,
		Fin: flags&flagFin != 0,
	}, nil
}

// Payload returns the bytes following the header, or nil for a datagram
// that carries none.
func Payload(data []byte) []byte {
	if len(data) <= HeaderSize {
		return nil
	}
	return data[HeaderSize:]
}

// IsCallRequest reports whether the header asks to set up a call
// (est=1, psh=0).
func (h Header) IsCallRequest() bool {
	return h.Est && !h.Psh
}

// IsAccept reports whether the header accepts a call (est=1, psh=1).
func (h Header) IsAccept() bool {
	return h.Est && h.Psh
}

// IsTerminal reports whether the header ends the current session.
func (h Header) IsTerminal() bool {
	return h.Bsy || h.Fin
}

func (h Header) String() string {
	var flags []string
	if h.Est {
		flags = append(flags, "est")
	}
	if h.Psh {
		flags = append(flags, "psh")
	}
	if h.Bsy {
		flags = append(flags, "bsy")
	}
	if h.Fin {
		flags = append(flags, "fin")
	}
	return fmt.Sprintf("seq=%d [%s]", h.Seq, strings.Join(flags, ","))
}

// Frequently sent control headers.
var (
	// RingHeader requests a call.
	RingHeader = Header{Est: true}
	// AcceptHeader accepts a pending call.
	AcceptHeader = Header{Est: true, Psh: true}
	// BusyHeader rejects a setup attempt.
	BusyHeader = Header{Bsy: true}
	// RejectHeader rejects and terminates.
	RejectHeader = Header{Bsy: true, Fin: true}
	// FinHeader ends an established call.
	FinHeader = Header{Fin: true}
)
