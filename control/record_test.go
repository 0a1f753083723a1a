package control

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		cmd  Command
	}{
		{"ring", Record{Ring: true, User: "alice", Address: "2001:db8::1", Port: "30111"}, CommandRing},
		{"take", Record{Take: true}, CommandTake},
		{"fin", Record{Fin: true}, CommandFin},
		{"hold", Record{Hold: true}, CommandHold},
		{"unhold", Record{Unhold: true}, CommandUnhold},
		{"empty", Record{}, CommandNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.rec.MarshalBinary()
			require.NoError(t, err)
			require.Len(t, data, RecordSize)

			var got Record
			require.NoError(t, got.UnmarshalBinary(data))
			assert.Equal(t, tt.rec, got)
			assert.Equal(t, tt.cmd, got.Command())
		})
	}
}

func TestRecord_Layout(t *testing.T) {
	data, err := Record{Fin: true, Port: "1"}.MarshalBinary()
	require.NoError(t, err)

	assert.Equal(t, byte(0x04), data[0])
	assert.Equal(t, byte(0x00), data[1])
	assert.Equal(t, byte('1'), data[flagsSize+UserSize+AddressSize])
	assert.Equal(t, 338, RecordSize)
}

func TestRecord_FieldTooLong(t *testing.T) {
	_, err := Record{Ring: true, Address: strings.Repeat("a", AddressSize)}.MarshalBinary()
	assert.ErrorIs(t, err, ErrFieldTooLong)

	_, err = Record{Ring: true, Port: strings.Repeat("9", PortSize)}.MarshalBinary()
	assert.ErrorIs(t, err, ErrFieldTooLong)

	_, err = Record{Ring: true, Address: strings.Repeat("a", AddressSize-1)}.MarshalBinary()
	assert.NoError(t, err)
}

func TestRecord_UnmarshalShort(t *testing.T) {
	var rec Record
	assert.ErrorIs(t, rec.UnmarshalBinary(make([]byte, RecordSize-1)), ErrShortRecord)
	assert.ErrorIs(t, rec.UnmarshalBinary(nil), ErrShortRecord)
}

func TestRecord_CommandAmbiguous(t *testing.T) {
	assert.Equal(t, CommandNone, Record{Ring: true, Fin: true}.Command())
	assert.Equal(t, CommandNone, Record{Take: true, Fin: true}.Command())
	assert.Equal(t, CommandNone, Record{Hold: true, Unhold: true}.Command())
	assert.Equal(t, CommandNone, Record{Ring: true, Take: true, Fin: true, Hold: true, Unhold: true}.Command())

	// Survives the wire.
	data, err := Record{Ring: true, Take: true, Address: "192.0.2.1", Port: "30111"}.MarshalBinary()
	require.NoError(t, err)
	var rec Record
	require.NoError(t, rec.UnmarshalBinary(data))
	assert.Equal(t, CommandNone, rec.Command())
}
