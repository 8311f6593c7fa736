// Package console is the host side of a telemetry link: it answers
// negotiation, shows what arrives and serves it over HTTP.
package console

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vdblink/host/recorder"
	"vdblink/protocol"
	"vdblink/registry"
)

// Options configures a Session
type Options struct {
	// Out receives rendered schemas and values; nil disables printing
	Out io.Writer

	// Store records schemas and samples when set
	Store *recorder.Store

	// Source labels the recording session
	Source string
}

// ChannelView is the externally visible state of one channel
type ChannelView struct {
	ID       protocol.ChannelID `json:"id"`
	Name     string             `json:"name"`
	Acked    bool               `json:"acked"`
	Schema   string             `json:"schema"`
	Value    any                `json:"value,omitempty"`
	Samples  uint64             `json:"samples"`
	LastSeen *time.Time         `json:"last_seen,omitempty"`
}

type channelStats struct {
	samples  uint64
	lastSeen time.Time
}

// Session answers an originator through a Responder
type Session struct {
	dev       protocol.Device
	responder *registry.Responder
	opts      Options
	log       zerolog.Logger
	recording string

	outMu sync.Mutex

	mu    sync.Mutex
	stats map[protocol.ChannelID]*channelStats
}

// NewSession attaches a Responder to dev. When a store is configured a new
// recording session is started.
func NewSession(dev protocol.Device, opts Options) (*Session, error) {
	s := &Session{
		dev:   dev,
		opts:  opts,
		log:   log.With().Str("component", "console").Logger(),
		stats: make(map[protocol.ChannelID]*channelStats),
	}

	if opts.Store != nil {
		source := opts.Source
		if source == "" {
			source = "console"
		}
		id, err := opts.Store.NewSession(source)
		if err != nil {
			return nil, fmt.Errorf("start recording: %w", err)
		}
		s.recording = id
	}

	s.responder = registry.NewResponder(dev)
	s.responder.OnBroadcast(s.handleBroadcast)
	s.responder.OnData(s.handleData)

	return s, nil
}

// Responder returns the underlying responder
func (s *Session) Responder() *registry.Responder {
	return s.responder
}

// RecordingID returns the recorder session id, empty without a store
func (s *Session) RecordingID() string {
	return s.recording
}

func (s *Session) handleBroadcast(ch registry.Channel) {
	s.log.Info().Uint8("channel", uint8(ch.ID)).Str("name", ch.Data.Name()).Msg("channel announced")
	s.print(RenderSchema(ch))

	if s.opts.Store != nil {
		if err := s.opts.Store.RecordSchema(s.recording, ch.ID, ch.Data); err != nil {
			s.log.Error().Err(err).Uint8("channel", uint8(ch.ID)).Msg("unable to record schema")
		}
	}
}

func (s *Session) handleData(ch registry.Channel) {
	s.mu.Lock()
	st, ok := s.stats[ch.ID]
	if !ok {
		st = &channelStats{}
		s.stats[ch.ID] = st
	}
	st.samples++
	st.lastSeen = time.Now()
	s.mu.Unlock()

	s.print(RenderValue(ch))

	if s.opts.Store != nil {
		if err := s.opts.Store.RecordSample(s.recording, ch.ID, ch.Data); err != nil {
			s.log.Error().Err(err).Uint8("channel", uint8(ch.ID)).Msg("unable to record sample")
		}
	}
}

func (s *Session) print(text string) {
	if s.opts.Out == nil {
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.opts.Out, text)
}

// Channels returns a view of every registered channel ordered by id
func (s *Session) Channels() []ChannelView {
	channels := s.responder.Channels()
	out := make([]ChannelView, 0, len(channels))
	for _, ch := range channels {
		out = append(out, s.view(ch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Channel returns the view of one channel
func (s *Session) Channel(id protocol.ChannelID) (ChannelView, bool) {
	ch, ok := s.responder.Channel(id)
	if !ok {
		return ChannelView{}, false
	}
	return s.view(ch), true
}

func (s *Session) view(ch registry.Channel) ChannelView {
	v := ChannelView{
		ID:     ch.ID,
		Name:   ch.Data.Name(),
		Acked:  ch.Acked,
		Schema: ch.Data.PrettyPrint(),
	}

	s.mu.Lock()
	if st, ok := s.stats[ch.ID]; ok {
		seen := st.lastSeen
		v.Samples = st.samples
		v.LastSeen = &seen
		v.Value = protocol.Snapshot(ch.Data)
	}
	s.mu.Unlock()

	return v
}

// QueueResponse builds a value for channel id from dotted field paths and
// queues it for the originator's next pull. Fields not named stay absent,
// so the originator keeps its own value for them.
func (s *Session) QueueResponse(id protocol.ChannelID, fields map[string]string) error {
	ch, ok := s.responder.Channel(id)
	if !ok {
		return fmt.Errorf("%w: %d", protocol.ErrUnknownChannel, id)
	}
	if len(fields) == 0 {
		return errors.New("no fields given")
	}

	data := ch.Data
	protocol.MarkAbsent(data)
	for path, raw := range fields {
		leaf, ok := protocol.Lookup(data, path)
		if !ok {
			return fmt.Errorf("channel %d has no field %q", id, path)
		}
		if err := protocol.SetLeaf(leaf, raw); err != nil {
			return fmt.Errorf("field %q: %w", path, err)
		}
	}

	if !s.responder.SubmitResponse(protocol.Data, id, data) {
		return fmt.Errorf("%w: response for channel %d refused", protocol.ErrQueueFull, id)
	}
	s.log.Debug().Uint8("channel", uint8(id)).Int("fields", len(fields)).Msg("response queued")
	return nil
}

// Close closes the device when it can be closed
func (s *Session) Close() error {
	if c, ok := s.dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
