package console

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vdblink/host/recorder"
	"vdblink/logging/testlog"
	"vdblink/protocol"
	"vdblink/registry"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	session    *Session
	originator *registry.Originator
	clock      *testClock
	out        *syncBuffer
	store      *recorder.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	a, b := protocol.NewMemLink(4096)
	cfg := protocol.DefaultTransportConfig()
	cfg.IdleDelay = time.Millisecond
	ta := protocol.NewFramedTransport(a, cfg)
	tb := protocol.NewFramedTransport(b, cfg)

	store, err := recorder.Open(t.TempDir())
	require.NoError(t, err)

	out := &syncBuffer{}
	session, err := NewSession(tb, Options{Out: out, Store: store, Source: "test"})
	require.NoError(t, err)

	clock := &testClock{now: time.Unix(1700000000, 0)}
	o := registry.NewOriginator(ta, registry.WithClock(clock.Now))

	t.Cleanup(func() {
		_ = ta.Close()
		_ = session.Close()
		_ = store.Close()
	})

	return &harness{session: session, originator: o, clock: clock, out: out, store: store}
}

func (h *harness) samples(id protocol.ChannelID) uint64 {
	v, ok := h.session.Channel(id)
	if !ok {
		return 0
	}
	return v.Samples
}

func TestSessionReceivesAndRecords(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t)

	id, err := h.originator.OpenChannel(protocol.NewRecord("motor",
		protocol.NewUint8("speed", func() uint8 { return 42 }),
		protocol.NewFloat("temp", func() float32 { return 36.5 }),
	))
	require.NoError(t, err)
	require.True(t, h.originator.Negotiate())
	require.True(t, h.originator.SendData(id))

	require.Eventually(t, func() bool { return h.samples(id) == 1 }, 2*time.Second, time.Millisecond)

	view, ok := h.session.Channel(id)
	require.True(t, ok)
	assert.Equal(t, "motor", view.Name)
	assert.True(t, view.Acked)
	assert.NotNil(t, view.LastSeen)

	out := h.out.String()
	assert.Contains(t, out, "motor")
	assert.Contains(t, out, "speed")
	assert.Contains(t, out, "42")

	var speeds []uint8
	err = h.store.Samples(h.session.RecordingID(), id, func(s recorder.Sample) error {
		speeds = append(speeds, s.Data.(*protocol.Record).Fields()[0].(*protocol.Number[uint8]).Value())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint8{42}, speeds)
}

func TestAPI(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t)

	var got []uint8
	var mu sync.Mutex
	h.originator.OnData(func(ch registry.Channel) {
		rec := ch.Data.(*protocol.Record)
		mu.Lock()
		got = append(got, rec.Fields()[0].(*protocol.Number[uint8]).Value())
		mu.Unlock()
	})

	id, err := h.originator.OpenChannel(protocol.NewRecord("motor",
		protocol.NewUint8("speed", func() uint8 { return 42 }),
		protocol.NewFloat("temp", func() float32 { return 36.5 }),
	))
	require.NoError(t, err)
	require.True(t, h.originator.Negotiate())
	require.True(t, h.originator.SendData(id))
	require.Eventually(t, func() bool { return h.samples(id) == 1 }, 2*time.Second, time.Millisecond)

	srv := httptest.NewServer(NewRouter(h.session))
	defer srv.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body APIResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.Success)
		assert.EqualValues(t, 1, body.Data.(map[string]any)["channels"])
	})

	t.Run("list", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/channels")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Data []ChannelView `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Data, 1)
		assert.Equal(t, "motor", body.Data[0].Name)
		assert.EqualValues(t, 1, body.Data[0].Samples)
	})

	t.Run("bad id", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/channels/300")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown channel", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/channels/9")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown field", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/channels/0/request", "application/json",
			strings.NewReader(`{"fields":{"rpm":"1"}}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("queue response", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/channels/0/request", "application/json",
			strings.NewReader(`{"fields":{"speed":"7"}}`))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, h.session.Responder().PendingResponses())

		h.clock.Advance(1100 * time.Millisecond)
		require.True(t, h.originator.SendData(id))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 1
		}, 2*time.Second, time.Millisecond)
		mu.Lock()
		assert.Equal(t, uint8(7), got[0])
		mu.Unlock()
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		assert.Contains(t, buf.String(), "vdblink_registry_packets_total")
	})
}

func TestRender(t *testing.T) {
	testlog.Start(t)

	x := protocol.NewInt16("temp", nil)
	x.SetValue(-4)
	ch := registry.Channel{ID: 2, Data: x}

	assert.Contains(t, RenderSchema(ch), "temp: int16")
	assert.Contains(t, RenderValue(ch), "-4")
	assert.Contains(t, RenderValue(ch), "#2")
}
