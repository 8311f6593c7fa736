// Package protocol implements the VDB telemetry wire protocol: COBS framing,
// CRC32 trailers, the self-describing field model and the framed transport.
package protocol

import "fmt"

// Version represents the wire protocol implementation version
const Version = "0.3.0"

// Protocol constants
const (
	PacketMinSize    = 5 // Header plus checksum trailer
	PacketTrailer    = 4 // CRC32 trailer size
	PacketMaxSize    = 1024
	MaxChannels      = 256
	MaxRecordDepth   = 16
	DefaultQueueSize = 50

	// Header bit layout
	HeaderTypeMask     = 0x80
	HeaderFunctionMask = 0x60
	HeaderFunctionBit  = 5
)

// PacketType is bit 7 of the header byte
type PacketType uint8

const (
	Broadcast PacketType = 0x00
	Data      PacketType = 0x80
)

func (t PacketType) String() string {
	if t == Data {
		return "Data"
	}
	return "Broadcast"
}

// PacketFunction occupies bits 6-5 of the header byte
type PacketFunction uint8

const (
	Send        PacketFunction = 0x00
	Acknowledge PacketFunction = 0x20
	Response    PacketFunction = 0x40
	Request     PacketFunction = 0x60
)

func (f PacketFunction) String() string {
	switch f {
	case Send:
		return "Send"
	case Acknowledge:
		return "Acknowledge"
	case Response:
		return "Response"
	case Request:
		return "Request"
	}
	return fmt.Sprintf("PacketFunction(0x%02x)", uint8(f))
}

// Header is the decoded first byte of every packet
type Header struct {
	Type     PacketType
	Function PacketFunction
}

// MakeHeader composes a header byte by OR'ing type and function
func MakeHeader(t PacketType, f PacketFunction) byte {
	return byte(t) | byte(f)
}

// ParseHeader splits a header byte into type and function.
// The low five bits are reserved and ignored.
func ParseHeader(b byte) Header {
	return Header{
		Type:     PacketType(b & HeaderTypeMask),
		Function: PacketFunction(b & HeaderFunctionMask),
	}
}

// Byte re-encodes the header
func (h Header) Byte() byte {
	return MakeHeader(h.Type, h.Function)
}

func (h Header) String() string {
	return h.Type.String() + "/" + h.Function.String()
}

// ChannelID addresses a negotiated channel on the wire
type ChannelID uint8
