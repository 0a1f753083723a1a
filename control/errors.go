package control

import "errors"

var (
	// ErrShortRecord indicates a read or buffer that does not hold exactly one record.
	ErrShortRecord = errors.New("short control record")

	// ErrFieldTooLong indicates a string that does not fit its fixed-size field.
	ErrFieldTooLong = errors.New("control record field too long")

	// ErrChannelClosed indicates the front-end closed its end of the channel.
	ErrChannelClosed = errors.New("control channel closed")
)
