// Package control carries fixed-size command records from the interactive
// front-end to the call engine over a pipe pair.
package control

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Field sizes of the wire record.
const (
	UserSize    = 64
	AddressSize = 256
	PortSize    = 16

	flagsSize = 2

	// RecordSize is the exact number of bytes of one encoded Record.
	RecordSize = flagsSize + UserSize + AddressSize + PortSize
)

const (
	flagRing uint16 = 1 << iota
	flagTake
	flagFin
	flagHold
	flagUnhold
)

// Command names the single action a Record carries.
type Command int

const (
	CommandNone Command = iota
	CommandRing
	CommandTake
	CommandFin
	CommandHold
	CommandUnhold
)

func (c Command) String() string {
	switch c {
	case CommandRing:
		return "ring"
	case CommandTake:
		return "take"
	case CommandFin:
		return "fin"
	case CommandHold:
		return "hold"
	case CommandUnhold:
		return "unhold"
	default:
		return "none"
	}
}

// Record is one control message.
//
// Wire format (little endian flags, NUL padded strings):
//
//	[FLAGS(2)][USER(64)][ADDRESS(256)][PORT(16)]
//
// FLAGS bit 0 ring, 1 take, 2 fin, 3 hold, 4 unhold; the other 11 bits are
// reserved. User, Address and Port are only meaningful with Ring set.
type Record struct {
	Ring    bool
	Take    bool
	Fin     bool
	Hold    bool
	Unhold  bool
	User    string
	Address string
	Port    string
}

// Command reports the action of the record. A record with no flag or with
// more than one flag carries no command.
func (r Record) Command() Command {
	cmd := CommandNone
	for _, f := range []struct {
		set bool
		cmd Command
	}{
		{r.Ring, CommandRing},
		{r.Take, CommandTake},
		{r.Fin, CommandFin},
		{r.Hold, CommandHold},
		{r.Unhold, CommandUnhold},
	} {
		if !f.set {
			continue
		}
		if cmd != CommandNone {
			return CommandNone
		}
		cmd = f.cmd
	}
	return cmd
}

// MarshalBinary encodes the record into RecordSize bytes. Each string must
// leave room for a terminating NUL in its field.
func (r Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)

	var flags uint16
	if r.Ring {
		flags |= flagRing
	}
	if r.Take {
		flags |= flagTake
	}
	if r.Fin {
		flags |= flagFin
	}
	if r.Hold {
		flags |= flagHold
	}
	if r.Unhold {
		flags |= flagUnhold
	}
	binary.LittleEndian.PutUint16(buf[0:flagsSize], flags)

	off := flagsSize
	for _, f := range []struct {
		name  string
		value string
		size  int
	}{
		{"user", r.User, UserSize},
		{"address", r.Address, AddressSize},
		{"port", r.Port, PortSize},
	} {
		if len(f.value) >= f.size {
			return nil, fmt.Errorf("%w: %s has %d bytes, limit %d", ErrFieldTooLong, f.name, len(f.value), f.size-1)
		}
		copy(buf[off:off+f.size], f.value)
		off += f.size
	}

	return buf, nil
}

// UnmarshalBinary decodes exactly one record.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: got %d of %d bytes", ErrShortRecord, len(data), RecordSize)
	}

	flags := binary.LittleEndian.Uint16(data[0:flagsSize])
	off := flagsSize

	*r = Record{
		Ring:    flags&flagRing != 0,
		Take:    flags&flagTake != 0,
		Fin:     flags&flagFin != 0,
		Hold:    flags&flagHold != 0,
		Unhold:  flags&flagUnhold != 0,
		User:    cString(data[off : off+UserSize]),
		Address: cString(data[off+UserSize : off+UserSize+AddressSize]),
		Port:    cString(data[off+UserSize+AddressSize : RecordSize]),
	}
	return nil
}

func cString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

func (r Record) String() string {
	if r.Ring {
		return fmt.Sprintf("ring %s:%s (user %q)", r.Address, r.Port, r.User)
	}
	return r.Command().String()
}
