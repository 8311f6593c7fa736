// Package registry implements channel negotiation and data exchange on top
// of the packet protocol. An Originator owns fields and announces them; a
// Responder mirrors the announced schemas and serves values back.
package registry

import (
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vdblink/protocol"
)

var (
	ErrTooManyChannels = errors.New("registry: channel ids exhausted")
)

// Channel binds a field tree to a negotiated id
type Channel struct {
	ID    protocol.ChannelID
	Data  protocol.Part
	Acked bool
}

// DataHandler receives channel values decoded from the peer
type DataHandler func(ch Channel)

// packetStats counts packets rejected by validation
type packetStats struct {
	role     string
	log      zerolog.Logger
	numBad   atomic.Uint64
	numSmall atomic.Uint64
}

func (s *packetStats) init(role string) {
	s.role = role
	s.log = log.With().Str("component", role).Logger()
}

// NumBad returns the number of packets dropped for a checksum mismatch
func (s *packetStats) NumBad() uint64 { return s.numBad.Load() }

// NumSmall returns the number of packets dropped as too small
func (s *packetStats) NumSmall() uint64 { return s.numSmall.Load() }

// validate counts and logs a packet failing validation. It returns false
// when the packet must be dropped.
func (s *packetStats) validate(pkt []byte) bool {
	switch protocol.ValidatePacket(pkt) {
	case protocol.PacketOk:
		return true
	case protocol.PacketTooSmall:
		s.numSmall.Add(1)
		recordReject(s.role, "too_small")
		s.log.Debug().Int("size", len(pkt)).Msg("packet too small to be valid, skipping")
	default:
		s.numBad.Add(1)
		recordReject(s.role, "bad_checksum")
		s.log.Warn().Int("size", len(pkt)).Msg("bad packet checksum, skipping")
	}
	return false
}
