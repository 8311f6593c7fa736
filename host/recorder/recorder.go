// Package recorder persists received channel schemas and samples in pebble
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"vdblink/protocol"
)

// Key layout:
//
//	s/<session>                 session metadata (JSON)
//	c/<session>/<id>            channel schema bytes
//	d/<session>/<id>/<sample>   channel value bytes
//
// Session and sample ids are ksuids so keys sort by time.
const (
	sessionPrefix = "s/"
	schemaPrefix  = "c/"
	samplePrefix  = "d/"
)

var ErrUnknownSession = errors.New("recorder: unknown session")

// SessionInfo describes one recording session
type SessionInfo struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Source  string    `json:"source"`
}

// Sample is one recorded channel value
type Sample struct {
	ID      ksuid.KSUID
	Channel protocol.ChannelID
	Data    protocol.Part
}

// Time returns when the sample was recorded, at second resolution
func (s Sample) Time() time.Time {
	return s.ID.Time()
}

// Store is a pebble backed recording database
type Store struct {
	db *pebble.DB

	mu   sync.Mutex
	last map[string]ksuid.KSUID
}

// Open opens or creates the store in dir
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open recorder %s: %w", dir, err)
	}
	return &Store{db: db, last: make(map[string]ksuid.KSUID)}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// NewSession starts a session and returns its id
func (s *Store) NewSession(source string) (string, error) {
	id := ksuid.New()
	info := SessionInfo{ID: id.String(), Started: id.Time(), Source: source}
	raw, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	if err := s.db.Set([]byte(sessionPrefix+info.ID), raw, pebble.Sync); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	log.Info().Str("component", "recorder").Str("session", info.ID).Msg("recording session started")
	return info.ID, nil
}

// Sessions lists every session, oldest first
func (s *Store) Sessions() ([]SessionInfo, error) {
	var out []SessionInfo
	err := s.scan(sessionPrefix, func(_, value []byte) error {
		var info SessionInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		out = append(out, info)
		return nil
	})
	return out, err
}

// RecordSchema stores the schema a channel was announced with
func (s *Store) RecordSchema(session string, id protocol.ChannelID, schema protocol.Part) error {
	if err := s.checkSession(session); err != nil {
		return err
	}
	return s.db.Set(schemaKey(session, id), protocol.SchemaBytes(schema), pebble.Sync)
}

// RecordSample appends a channel value to the session
func (s *Store) RecordSample(session string, id protocol.ChannelID, data protocol.Part) error {
	key := append(sampleKeyPrefix(session, id), s.nextSampleID(session).String()...)
	return s.db.Set(key, protocol.MessageBytes(data), pebble.NoSync)
}

// nextSampleID keeps sample ids increasing within a session; ksuids
// created in the same second are otherwise unordered
func (s *Store) nextSampleID(session string) ksuid.KSUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ksuid.New()
	if last, ok := s.last[session]; ok && ksuid.Compare(id, last) <= 0 {
		id = last.Next()
	}
	s.last[session] = id
	return id
}

// Schema returns the recorded schema of a channel
func (s *Store) Schema(session string, id protocol.ChannelID) (protocol.Part, error) {
	raw, closer, err := s.db.Get(schemaKey(session, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: channel %d in session %s", protocol.ErrUnknownChannel, id, session)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return protocol.MakeDecoder(protocol.NewPacketReader(raw, 0))
}

// Samples calls fn for every recorded value of a channel in order. The
// Part passed to fn is fresh for every call.
func (s *Store) Samples(session string, id protocol.ChannelID, fn func(Sample) error) error {
	schema, err := s.Schema(session, id)
	if err != nil {
		return err
	}

	prefix := string(sampleKeyPrefix(session, id))
	return s.scan(prefix, func(key, value []byte) error {
		sid, err := ksuid.Parse(string(key[len(prefix):]))
		if err != nil {
			return fmt.Errorf("corrupt sample key %q: %w", key, err)
		}
		data := schema.Clone()
		r := protocol.NewPacketReader(value, 0)
		data.ReadDataFromMessage(r)
		if err := r.Err(); err != nil {
			return fmt.Errorf("sample %s: %w", sid, err)
		}
		return fn(Sample{ID: sid, Channel: id, Data: data})
	})
}

// Channels lists the channel ids with a recorded schema in a session
func (s *Store) Channels(session string) ([]protocol.ChannelID, error) {
	var out []protocol.ChannelID
	prefix := schemaPrefix + session + "/"
	err := s.scan(prefix, func(key, _ []byte) error {
		var id uint8
		if _, err := fmt.Sscanf(string(key[len(prefix):]), "%02x", &id); err != nil {
			return fmt.Errorf("corrupt schema key %q: %w", key, err)
		}
		out = append(out, protocol.ChannelID(id))
		return nil
	})
	return out, err
}

func (s *Store) checkSession(session string) error {
	_, closer, err := s.db.Get([]byte(sessionPrefix + session))
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, session)
	}
	if err != nil {
		return err
	}
	return closer.Close()
}

func (s *Store) scan(prefix string, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			_ = iter.Close()
			return err
		}
	}
	return iter.Close()
}

func schemaKey(session string, id protocol.ChannelID) []byte {
	return []byte(fmt.Sprintf("%s%s/%02x", schemaPrefix, session, uint8(id)))
}

func sampleKeyPrefix(session string, id protocol.ChannelID) []byte {
	return []byte(fmt.Sprintf("%s%s/%02x/", samplePrefix, session, uint8(id)))
}

// prefixEnd returns the smallest key greater than every key with prefix
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
