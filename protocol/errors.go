package protocol

import (
	"errors"
	"os"
)

var (
	ErrTooSmall               = errors.New("protocol: packet too small")
	ErrBadChecksum            = errors.New("protocol: checksum mismatch")
	ErrBufferOverflow         = errors.New("protocol: buffer overflow")
	ErrUnknownChannel         = errors.New("protocol: unknown channel")
	ErrOutOfSequenceBroadcast = errors.New("protocol: out of sequence broadcast")
	ErrAckTimeout             = errors.New("protocol: acknowledge timeout")
	ErrQueueFull              = errors.New("protocol: outbound queue full")
	ErrTransportClosed        = errors.New("protocol: transport closed")
	ErrMalformed              = errors.New("protocol: malformed packet")
	ErrNotDataPacket          = errors.New("protocol: not a data packet")
	ErrReceiveTimeout         = errors.New("protocol: receive timeout")
	ErrWouldBlock             = errors.New("protocol: no data available")
)

// Low-level status codes returned by raw byte-stream helpers
const (
	StatusOK      = 0
	StatusError   = -1
	StatusTimeout = -2
)

// StatusCode maps an error onto the negative status codes used by
// byte-stream level callers.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrAckTimeout), errors.Is(err, ErrReceiveTimeout),
		errors.Is(err, os.ErrDeadlineExceeded):
		return StatusTimeout
	default:
		return StatusError
	}
}
