package registry

import (
	"sync"

	"vdblink/protocol"
)

// maxQueuedResponses is bounded by the one-byte queue length on the wire
const maxQueuedResponses = 255

type queuedResponse struct {
	id   protocol.ChannelID
	data protocol.Part
}

// Responder mirrors the schemas an Originator announces, receives pushed
// values and answers pull requests from a queue of submitted responses.
type Responder struct {
	packetStats

	dev protocol.Device

	mu          sync.Mutex
	channels    []*Channel
	queue       []queuedResponse
	inFlight    int // popped responses not yet handed to the device
	onBroadcast DataHandler
	onData      DataHandler
}

// NewResponder creates a Responder and installs it as dev's receive callback
func NewResponder(dev protocol.Device) *Responder {
	RegisterMetrics()

	r := &Responder{dev: dev}
	r.packetStats.init(roleResponder)

	dev.RegisterReceiveCallback(r.TakePacket)

	return r
}

// OnBroadcast installs the handler called when a new channel is announced
func (r *Responder) OnBroadcast(h DataHandler) {
	r.mu.Lock()
	r.onBroadcast = h
	r.mu.Unlock()
}

// OnData installs the handler called after a pushed value was decoded
func (r *Responder) OnData(h DataHandler) {
	r.mu.Lock()
	r.onData = h
	r.mu.Unlock()
}

// TakePacket handles one packet from the peer
func (r *Responder) TakePacket(pkt []byte) {
	if !r.validate(pkt) {
		return
	}

	body := protocol.Body(pkt)
	hdr := protocol.ParseHeader(body[0])

	switch {
	case hdr.Function == protocol.Send && hdr.Type == protocol.Broadcast:
		r.takeBroadcast(pkt)
	case hdr.Function == protocol.Send && hdr.Type == protocol.Data:
		r.takeData(body)
	case hdr.Function == protocol.Request:
		r.takeRequest()
	default:
		recordReject(roleResponder, "unexpected")
		r.log.Debug().Stringer("header", hdr).Msg("ignoring unexpected packet")
	}
}

func (r *Responder) takeBroadcast(pkt []byte) {
	bp, err := protocol.DecodeBroadcast(pkt)
	if err != nil {
		recordReject(roleResponder, "malformed")
		r.log.Warn().Err(err).Msg("unable to decode broadcast schema")
		return
	}

	r.mu.Lock()
	expected := len(r.channels)
	var ch *Channel
	switch {
	case int(bp.ID) == expected:
		ch = &Channel{ID: bp.ID, Data: bp.Schema}
		r.channels = append(r.channels, ch)
	case int(bp.ID) < expected:
		// the originator missed our ack and broadcast again
		ch = r.channels[bp.ID]
		if !protocol.SameSchema(ch.Data, bp.Schema) {
			r.mu.Unlock()
			recordReject(roleResponder, "schema_mismatch")
			r.log.Warn().Uint8("channel", uint8(bp.ID)).Msg("rebroadcast schema differs from registered one")
			return
		}
		ch = nil
	default:
		r.mu.Unlock()
		recordReject(roleResponder, "out_of_sequence")
		r.log.Warn().Err(protocol.ErrOutOfSequenceBroadcast).
			Uint8("channel", uint8(bp.ID)).Int("expected", expected).Msg("dropping broadcast")
		return
	}
	handler := r.onBroadcast
	r.mu.Unlock()

	if ch != nil {
		recordPacket(roleResponder, "broadcast")
		r.log.Debug().Uint8("channel", uint8(bp.ID)).Str("name", bp.Schema.Name()).Msg("registered channel")
		if handler != nil {
			handler(Channel{ID: bp.ID, Data: bp.Schema.Clone()})
		}
	}

	if !r.dev.SendPacket(protocol.EncodeAck(bp.ID)) {
		r.log.Warn().Uint8("channel", uint8(bp.ID)).Msg("unable to queue acknowledge")
		return
	}

	r.mu.Lock()
	r.channels[bp.ID].Acked = true
	r.mu.Unlock()
}

// takeData handles [hdr, id, value]. The value is decoded into a copy so a
// malformed packet never leaves a partial update behind.
func (r *Responder) takeData(body []byte) {
	if len(body) < 2 {
		recordReject(roleResponder, "malformed")
		return
	}
	id := protocol.ChannelID(body[1])

	r.mu.Lock()
	ch := r.channel(id)
	if ch == nil {
		r.mu.Unlock()
		recordReject(roleResponder, "unknown_channel")
		r.log.Warn().Err(protocol.ErrUnknownChannel).Uint8("channel", uint8(id)).Msg("dropping data")
		return
	}
	next := ch.Data.Clone()
	rd := protocol.NewPacketReader(body, 2)
	next.ReadDataFromMessage(rd)
	if err := rd.Err(); err != nil {
		r.mu.Unlock()
		recordReject(roleResponder, "malformed")
		r.log.Warn().Err(err).Uint8("channel", uint8(id)).Msg("value does not match channel schema")
		return
	}
	ch.Data = next
	snapshot := Channel{ID: id, Data: next.Clone(), Acked: ch.Acked}
	handler := r.onData
	r.mu.Unlock()

	recordPacket(roleResponder, "data")
	if handler != nil {
		handler(snapshot)
	}
}

// takeRequest answers with the oldest queued response, if any
func (r *Responder) takeRequest() {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		r.log.Trace().Msg("request with empty response queue")
		return
	}
	entry := r.queue[0]
	queued := len(r.queue)
	r.queue = r.queue[1:]
	r.inFlight++
	r.mu.Unlock()

	recordPacket(roleResponder, "request")
	pkt := protocol.EncodeResponse(uint8(queued), entry.id, entry.data)
	sent := r.dev.SendPacket(pkt)

	r.mu.Lock()
	r.inFlight--
	if !sent {
		r.queue = append([]queuedResponse{entry}, r.queue...)
	}
	r.mu.Unlock()

	if !sent {
		r.log.Warn().Uint8("channel", uint8(entry.id)).Msg("unable to queue response, keeping it")
	}
}

// SubmitResponse queues a value to be returned on the next Request. Only
// Data responses for registered channels whose shape matches are accepted.
func (r *Responder) SubmitResponse(t protocol.PacketType, id protocol.ChannelID, data protocol.Part) bool {
	if t != protocol.Data {
		recordReject(roleResponder, "not_data")
		r.log.Warn().Err(protocol.ErrNotDataPacket).Stringer("type", t).Msg("refusing response")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channel(id)
	if ch == nil {
		recordReject(roleResponder, "unknown_channel")
		r.log.Warn().Err(protocol.ErrUnknownChannel).Uint8("channel", uint8(id)).Msg("refusing response")
		return false
	}
	if !protocol.SameSchema(ch.Data, data) {
		recordReject(roleResponder, "schema_mismatch")
		r.log.Warn().Uint8("channel", uint8(id)).Msg("response does not match channel schema")
		return false
	}
	// an in-flight response may come back to the head of the queue
	if len(r.queue)+r.inFlight >= maxQueuedResponses {
		recordReject(roleResponder, "queue_full")
		r.log.Warn().Err(protocol.ErrQueueFull).Uint8("channel", uint8(id)).Msg("refusing response")
		return false
	}

	r.queue = append(r.queue, queuedResponse{id: id, data: data.Clone()})
	return true
}

// SendData pushes a value for an acknowledged channel to the peer
func (r *Responder) SendData(id protocol.ChannelID, data protocol.Part) bool {
	r.mu.Lock()
	ch := r.channel(id)
	if ch == nil || !ch.Acked {
		r.mu.Unlock()
		recordReject(roleResponder, "unacknowledged")
		r.log.Debug().Uint8("channel", uint8(id)).Msg("channel not negotiated, dropping packet")
		return false
	}
	pkt := protocol.EncodeData(id, data)
	r.mu.Unlock()

	return r.dev.SendPacket(pkt)
}

// Channels returns copies of every registered channel
func (r *Responder) Channels() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Channel, len(r.channels))
	for i, ch := range r.channels {
		out[i] = Channel{ID: ch.ID, Data: ch.Data.Clone(), Acked: ch.Acked}
	}
	return out
}

// Channel returns a copy of one registered channel
func (r *Responder) Channel(id protocol.ChannelID) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channel(id)
	if ch == nil {
		return Channel{}, false
	}
	return Channel{ID: ch.ID, Data: ch.Data.Clone(), Acked: ch.Acked}, true
}

// PendingResponses returns the number of queued responses
func (r *Responder) PendingResponses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Responder) channel(id protocol.ChannelID) *Channel {
	if int(id) >= len(r.channels) {
		return nil
	}
	return r.channels[id]
}
