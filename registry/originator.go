package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vdblink/protocol"
)

// Originator owns the authoritative field trees, broadcasts their schemas
// and pushes or pulls values once the peer has acknowledged them.
type Originator struct {
	packetStats

	dev protocol.Device
	cfg Config

	// mu guards everything below; the receive callback runs on the
	// transport worker while the application calls in from its own goroutine
	mu               sync.Mutex
	channels         []*Channel
	onData           DataHandler
	pullMode         bool
	lastSwitch       time.Time
	responsesPending int
}

// NewOriginator creates an Originator and installs it as dev's receive callback
func NewOriginator(dev protocol.Device, opts ...Option) *Originator {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.BroadcastRetries < 1 {
		cfg.BroadcastRetries = 1
	}

	RegisterMetrics()

	o := &Originator{
		dev:        dev,
		cfg:        cfg,
		lastSwitch: cfg.Clock(),
	}
	o.packetStats.init(roleOriginator)

	dev.RegisterReceiveCallback(o.TakePacket)

	return o
}

// OnData installs the handler for values received from the peer. Without
// one, received values are applied through the field's Response hooks.
func (o *Originator) OnData(h DataHandler) {
	o.mu.Lock()
	o.onData = h
	o.mu.Unlock()
}

// OpenChannel registers data under the next sequential id. Nothing is
// transmitted until Negotiate.
func (o *Originator) OpenChannel(data protocol.Part) (protocol.ChannelID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.channels) >= protocol.MaxChannels {
		return 0, ErrTooManyChannels
	}
	id := protocol.ChannelID(len(o.channels))
	o.channels = append(o.channels, &Channel{ID: id, Data: data})

	o.log.Debug().Uint8("channel", uint8(id)).Str("name", data.Name()).Msg("opened channel")
	return id, nil
}

// Negotiate broadcasts every channel's schema, retrying each until it is
// acknowledged or its retries run out. A failed channel does not stop the
// remaining ones. It blocks for up to retries x ack timeout per channel
// and reports whether every channel is acknowledged.
func (o *Originator) Negotiate() bool {
	return o.NegotiateContext(context.Background())
}

// NegotiateContext is Negotiate with early cancellation
func (o *Originator) NegotiateContext(ctx context.Context) bool {
	o.mu.Lock()
	count := len(o.channels)
	o.mu.Unlock()

	o.log.Info().Int("channels", count).Msg("negotiating")

	ackedAll := true
	failed := 0
	for i := 0; i < count; i++ {
		if err := o.negotiateChannel(ctx, protocol.ChannelID(i)); err != nil {
			ackedAll = false
			failed++
			if ctx.Err() != nil {
				break
			}
		}
	}

	if failed > 0 {
		o.log.Warn().Int("failed", failed).Int("channels", count).Msg("negotiation incomplete")
	}
	return ackedAll
}

// NegotiateChannel negotiates a single channel. It returns an error
// wrapping protocol.ErrAckTimeout when no acknowledgement arrived.
func (o *Originator) NegotiateChannel(id protocol.ChannelID) error {
	return o.negotiateChannel(context.Background(), id)
}

func (o *Originator) negotiateChannel(ctx context.Context, id protocol.ChannelID) error {
	o.mu.Lock()
	ch := o.channel(id)
	if ch == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: %d", protocol.ErrUnknownChannel, id)
	}
	pkt := protocol.EncodeBroadcast(id, ch.Data)
	o.mu.Unlock()

	for attempt := 1; attempt <= o.cfg.BroadcastRetries; attempt++ {
		start := time.Now()
		if !o.dev.SendPacket(pkt) {
			o.log.Warn().Uint8("channel", uint8(id)).Msg("device refused broadcast")
		}

		if o.waitForAck(ctx, id) {
			o.log.Debug().Uint8("channel", uint8(id)).Int("attempt", attempt).
				Dur("elapsed", time.Since(start)).Msg("channel acknowledged")
			recordNegotiation(true)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		o.log.Warn().Uint8("channel", uint8(id)).Int("attempt", attempt).
			Dur("timeout", o.cfg.AckTimeout).Msg("ack expired")
	}

	recordNegotiation(false)
	return fmt.Errorf("%w: channel %d after %d broadcasts", protocol.ErrAckTimeout, id, o.cfg.BroadcastRetries)
}

// waitForAck polls the channel's acknowledged flag until it is set or the
// ack timeout passes
func (o *Originator) waitForAck(ctx context.Context, id protocol.ChannelID) bool {
	timeout := time.NewTimer(o.cfg.AckTimeout)
	defer timeout.Stop()
	poll := time.NewTicker(o.cfg.PollInterval)
	defer poll.Stop()

	for {
		if o.acked(id) {
			return true
		}
		select {
		case <-poll.C:
		case <-timeout.C:
			return o.acked(id)
		case <-ctx.Done():
			return false
		}
	}
}

func (o *Originator) acked(id protocol.ChannelID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := o.channel(id)
	return ch != nil && ch.Acked
}

// SendData fetches the channel's current value, then either asks the peer
// for a queued response or pushes the value, alternating on the mode
// timer. Pushing requires the channel to be acknowledged.
func (o *Originator) SendData(id protocol.ChannelID) bool {
	o.mu.Lock()
	ch := o.channel(id)
	if ch == nil {
		o.mu.Unlock()
		recordReject(roleOriginator, "unknown_channel")
		o.log.Warn().Uint8("channel", uint8(id)).Msg("channel doesn't exist yet")
		return false
	}

	ch.Data.Fetch()

	var pkt []byte
	switch {
	case o.pullModeLocked():
		pkt = protocol.EncodeRequest()
	case !ch.Acked:
		o.mu.Unlock()
		recordReject(roleOriginator, "unacknowledged")
		o.log.Debug().Uint8("channel", uint8(id)).Msg("channel not negotiated yet, dropping packet")
		return false
	default:
		pkt = protocol.EncodeData(id, ch.Data)
	}
	o.mu.Unlock()

	return o.dev.SendPacket(pkt)
}

// pullModeLocked advances the mode timer. A peer that reported queued
// responses is drained before pushing resumes.
func (o *Originator) pullModeLocked() bool {
	now := o.cfg.Clock()
	if now.Sub(o.lastSwitch) > o.cfg.ModeSwitchInterval {
		o.pullMode = !o.pullMode
		o.lastSwitch = now
	}
	return o.pullMode || o.responsesPending > 0
}

// TakePacket handles one packet from the peer. Invalid packets are counted
// and dropped.
func (o *Originator) TakePacket(pkt []byte) {
	if !o.validate(pkt) {
		return
	}

	body := protocol.Body(pkt)
	hdr := protocol.ParseHeader(body[0])

	switch {
	case hdr.Function == protocol.Response:
		o.takeResponse(body)
	case hdr.Function == protocol.Acknowledge:
		o.takeAck(body)
	case hdr.Type == protocol.Data && hdr.Function == protocol.Send:
		o.takePush(body)
	default:
		recordReject(roleOriginator, "unexpected")
		o.log.Debug().Stringer("header", hdr).Msg("ignoring unexpected packet")
	}
}

func (o *Originator) takeAck(body []byte) {
	if len(body) < 2 {
		recordReject(roleOriginator, "malformed")
		o.log.Warn().Msg("acknowledge without channel id")
		return
	}
	id := protocol.ChannelID(body[1])

	o.mu.Lock()
	ch := o.channel(id)
	if ch != nil {
		ch.Acked = true
	}
	o.mu.Unlock()

	if ch == nil {
		recordReject(roleOriginator, "unknown_channel")
		o.log.Warn().Uint8("channel", uint8(id)).Msg("received ack for unknown channel")
		return
	}
	recordPacket(roleOriginator, "ack")
}

// takeResponse handles [hdr, queueLen, id, value]
func (o *Originator) takeResponse(body []byte) {
	if len(body) < 3 {
		recordReject(roleOriginator, "malformed")
		o.log.Warn().Int("size", len(body)).Msg("response too short")
		return
	}
	queued := int(body[1])
	id := protocol.ChannelID(body[2])

	o.mu.Lock()
	o.lastSwitch = o.cfg.Clock()
	if queued > 0 {
		o.responsesPending = queued - 1
	}
	o.mu.Unlock()

	o.log.Debug().Int("queued", queued).Uint8("channel", uint8(id)).Msg("received response")
	o.merge("response", id, body, 3)
}

// takePush handles an unsolicited [hdr, id, value] from the peer
func (o *Originator) takePush(body []byte) {
	if len(body) < 2 {
		recordReject(roleOriginator, "malformed")
		return
	}
	o.merge("data", protocol.ChannelID(body[1]), body, 2)
}

// merge decodes a value into a copy of the channel's field and merges the
// fields it carries over a second copy, which goes to the data handler.
// The registry's own field is left untouched.
func (o *Originator) merge(kind string, id protocol.ChannelID, body []byte, offset int) {
	o.mu.Lock()
	ch := o.channel(id)
	if ch == nil {
		o.mu.Unlock()
		recordReject(roleOriginator, "unknown_channel")
		o.log.Warn().Uint8("channel", uint8(id)).Msg("no channel information for id")
		return
	}
	incoming := ch.Data.Clone()
	merged := ch.Data.Clone()
	acked := ch.Acked
	handler := o.onData
	o.mu.Unlock()

	r := protocol.NewPacketReader(body, offset)
	incoming.ReadDataFromMessage(r)
	if err := r.Err(); err != nil {
		recordReject(roleOriginator, "malformed")
		o.log.Warn().Err(err).Uint8("channel", uint8(id)).Msg("value does not match channel schema")
		return
	}
	protocol.MergeChanged(merged, incoming)
	recordPacket(roleOriginator, kind)

	if handler == nil {
		merged.Response()
		return
	}
	handler(Channel{ID: id, Data: merged, Acked: acked})
}

// Channels returns the channel table. Data points at the caller's own
// field trees.
func (o *Originator) Channels() []Channel {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Channel, len(o.channels))
	for i, ch := range o.channels {
		out[i] = *ch
	}
	return out
}

// Channel returns one entry of the channel table
func (o *Originator) Channel(id protocol.ChannelID) (Channel, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := o.channel(id)
	if ch == nil {
		return Channel{}, false
	}
	return *ch, true
}

// ResponsesPending returns how many responses the peer last reported as
// still queued
func (o *Originator) ResponsesPending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.responsesPending
}

func (o *Originator) channel(id protocol.ChannelID) *Channel {
	if int(id) >= len(o.channels) {
		return nil
	}
	return o.channels[id]
}
