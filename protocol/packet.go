package protocol

import (
	"encoding/binary"
	"fmt"
)

// PacketStatus is the outcome of ValidatePacket
type PacketStatus int

const (
	PacketOk PacketStatus = iota
	PacketTooSmall
	PacketBadChecksum
)

func (s PacketStatus) String() string {
	switch s {
	case PacketOk:
		return "ok"
	case PacketTooSmall:
		return "too small"
	case PacketBadChecksum:
		return "bad checksum"
	}
	return fmt.Sprintf("PacketStatus(%d)", int(s))
}

// Err maps the status to its sentinel error, nil for PacketOk
func (s PacketStatus) Err() error {
	switch s {
	case PacketTooSmall:
		return ErrTooSmall
	case PacketBadChecksum:
		return ErrBadChecksum
	}
	return nil
}

// ValidatePacket checks the size and CRC32 trailer of pkt
func ValidatePacket(pkt []byte) PacketStatus {
	if len(pkt) < PacketMinSize {
		return PacketTooSmall
	}
	body := len(pkt) - PacketTrailer
	want := binary.LittleEndian.Uint32(pkt[body:])
	if CalculateCRC32(pkt[:body]) != want {
		return PacketBadChecksum
	}
	return PacketOk
}

// Body returns pkt without its checksum trailer
func Body(pkt []byte) []byte {
	if len(pkt) < PacketTrailer {
		return nil
	}
	return pkt[:len(pkt)-PacketTrailer]
}

func newPacket(t PacketType, f PacketFunction) *PacketWriter {
	w := NewPacketWriter(64)
	_ = w.WriteByte(MakeHeader(t, f))
	return w
}

// EncodeBroadcast builds a schema broadcast: [hdr, id, schema, crc]
func EncodeBroadcast(id ChannelID, p Part) []byte {
	w := newPacket(Broadcast, Send)
	_ = w.WriteByte(byte(id))
	p.WriteSchema(w)
	return w.Seal()
}

// EncodeAck builds an acknowledgement: [hdr, id, crc]
func EncodeAck(id ChannelID) []byte {
	w := newPacket(Broadcast, Acknowledge)
	_ = w.WriteByte(byte(id))
	return w.Seal()
}

// EncodeData builds a data push: [hdr, id, value, crc]
func EncodeData(id ChannelID, p Part) []byte {
	w := newPacket(Data, Send)
	_ = w.WriteByte(byte(id))
	p.WriteMessage(w)
	return w.Seal()
}

// EncodeRequest builds a pull request: [hdr, crc]
func EncodeRequest() []byte {
	return newPacket(Broadcast, Request).Seal()
}

// EncodeResponse builds a pull response: [hdr, queueLen, id, value, crc].
// queueLen counts the entries pending including this one.
func EncodeResponse(queueLen uint8, id ChannelID, p Part) []byte {
	w := newPacket(Data, Response)
	_ = w.WriteByte(queueLen)
	_ = w.WriteByte(byte(id))
	p.WriteMessage(w)
	return w.Seal()
}

// BroadcastPacket is a decoded schema broadcast
type BroadcastPacket struct {
	ID     ChannelID
	Schema Part
}

// DecodeBroadcast parses the body of a validated schema broadcast
func DecodeBroadcast(pkt []byte) (BroadcastPacket, error) {
	body := Body(pkt)
	if len(body) < 2 {
		return BroadcastPacket{}, fmt.Errorf("%w: broadcast without channel id", ErrMalformed)
	}
	r := NewPacketReader(body, 2)
	schema, err := MakeDecoder(r)
	if err != nil {
		return BroadcastPacket{}, err
	}
	return BroadcastPacket{ID: ChannelID(body[1]), Schema: schema}, nil
}
