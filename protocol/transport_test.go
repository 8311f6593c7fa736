package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vdblink/logging/testlog"
)

func newLinkedTransports(t *testing.T, linkCapacity int) (*FramedTransport, *FramedTransport) {
	t.Helper()
	a, b := NewMemLink(linkCapacity)
	cfg := DefaultTransportConfig()
	cfg.IdleDelay = time.Millisecond
	ta := NewFramedTransport(a, cfg)
	tb := NewFramedTransport(b, cfg)
	t.Cleanup(func() {
		_ = ta.Close()
		_ = tb.Close()
	})
	return ta, tb
}

func TestTransportDeliversInOrder(t *testing.T) {
	testlog.Start(t)

	ta, tb := newLinkedTransports(t, 4096)

	for i := 0; i < 20; i++ {
		require.True(t, ta.SendPacket([]byte{0x80, byte(i), 0x00, byte(i)}))
	}

	for i := 0; i < 20; i++ {
		pkt, err := tb.ReceivePacket(time.Second)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x80, byte(i), 0x00, byte(i)}, pkt)
	}

	assert.Eventually(t, func() bool { return ta.Stats().FramesSent == 20 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(20), tb.Stats().FramesReceived)
}

func TestTransportCallback(t *testing.T) {
	testlog.Start(t)

	ta, tb := newLinkedTransports(t, 4096)

	var mu sync.Mutex
	var got [][]byte
	tb.RegisterReceiveCallback(func(pkt []byte) {
		mu.Lock()
		got = append(got, pkt)
		mu.Unlock()
	})

	require.True(t, ta.SendPacket(EncodeRequest()))
	require.True(t, ta.SendPacket(EncodeAck(2)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EncodeRequest(), got[0])
	assert.Equal(t, EncodeAck(2), got[1])
}

func TestTransportBlocksForWriteCapacity(t *testing.T) {
	testlog.Start(t)
	// The link holds far less than one frame, both sides write at once
	ta, tb := newLinkedTransports(t, 16)

	payload := func(tag byte, i int) []byte {
		p := bytes.Repeat([]byte{tag}, 120)
		p[0] = byte(i)
		p[60] = 0
		return p
	}

	const count = 10
	for i := 0; i < count; i++ {
		require.True(t, ta.SendPacket(payload('a', i)))
		require.True(t, tb.SendPacket(payload('b', i)))
	}

	for i := 0; i < count; i++ {
		pkt, err := tb.ReceivePacket(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, payload('a', i), pkt)

		pkt, err = ta.ReceivePacket(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, payload('b', i), pkt)
	}
}

func TestTransportBackpressure(t *testing.T) {
	testlog.Start(t)

	a, _ := NewMemLink(64)
	// no worker, so nothing drains the queue
	tr := newFramedTransport(a, DefaultTransportConfig())

	for i := 0; i < DefaultQueueSize; i++ {
		require.True(t, tr.SendPacket([]byte{byte(i)}), "frame %d", i+1)
	}

	done := make(chan bool, 1)
	go func() { done <- tr.SendPacket([]byte{0xFF}) }()

	select {
	case ok := <-done:
		assert.False(t, ok, "frame 51 must be refused")
	case <-time.After(time.Second):
		t.Fatal("SendPacket blocked on a full queue")
	}

	assert.ErrorIs(t, tr.SendPacketErr([]byte{1}), ErrQueueFull)
	assert.Equal(t, DefaultQueueSize, tr.QueueLen())
	assert.Equal(t, uint64(2), tr.Stats().QueueRejected)
}

func TestTransportRecoversFromLineNoise(t *testing.T) {
	testlog.Start(t)

	a, b := NewMemLink(1024)
	rx := NewFramedTransport(b, DefaultTransportConfig())
	defer rx.Close()

	_, err := a.Write([]byte{0x13, 0x37, 0x42}) // partial garbage, no delimiter
	require.NoError(t, err)
	_, err = a.Write(COBSEncode(EncodeAck(1), true))
	require.NoError(t, err)

	pkt, err := rx.ReceivePacket(time.Second)
	require.NoError(t, err)
	assert.Equal(t, EncodeAck(1), pkt)
	assert.Eventually(t, func() bool { return rx.Stats().DecodeDropped == 1 }, time.Second, time.Millisecond)
}

func TestTransportReceiveTimeout(t *testing.T) {
	testlog.Start(t)

	_, tb := newLinkedTransports(t, 64)

	start := time.Now()
	_, err := tb.ReceivePacket(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrReceiveTimeout)
	assert.Equal(t, StatusTimeout, StatusCode(err))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTransportClose(t *testing.T) {
	testlog.Start(t)

	a, _ := NewMemLink(64)
	tr := NewFramedTransport(a, DefaultTransportConfig())

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "close is idempotent")

	assert.False(t, tr.SendPacket([]byte{1, 2, 3}))
	_, err := tr.ReceivePacket(time.Second)
	assert.ErrorIs(t, err, ErrTransportClosed)
}

// failingDevice accepts writes and fails every read
type failingDevice struct{ err error }

func (d failingDevice) WriteAvailable() int         { return 64 }
func (d failingDevice) Write(p []byte) (int, error) { return len(p), nil }
func (d failingDevice) ReadAvailable() int          { return 1 }
func (d failingDevice) ReadByte() (byte, error)     { return 0, d.err }

func TestTransportStopsOnReadFailure(t *testing.T) {
	testlog.Start(t)

	lost := errors.New("line unplugged")
	cfg := DefaultTransportConfig()
	cfg.IdleDelay = time.Millisecond
	tr := NewFramedTransport(failingDevice{err: lost}, cfg)
	defer tr.Close()

	select {
	case <-tr.Failed():
	case <-time.After(time.Second):
		t.Fatal("read failure never surfaced")
	}
	assert.ErrorIs(t, tr.Err(), lost)

	_, err := tr.ReceivePacket(time.Second)
	assert.ErrorIs(t, err, lost)

	require.True(t, tr.SendPacket(EncodeAck(1)))
	assert.Eventually(t, func() bool { return tr.Stats().FramesSent == 1 }, time.Second, time.Millisecond)
}

func TestTransportRejectsOversizedPacket(t *testing.T) {
	testlog.Start(t)

	a, _ := NewMemLink(64)
	cfg := DefaultTransportConfig()
	cfg.MaxPacketSize = 16
	tr := newFramedTransport(a, cfg)

	assert.ErrorIs(t, tr.SendPacketErr(make([]byte, 17)), ErrBufferOverflow)
	assert.False(t, tr.SendPacket(make([]byte, 17)))
	assert.Zero(t, tr.QueueLen())
	assert.Equal(t, uint64(2), tr.Stats().Oversized)

	assert.NoError(t, tr.SendPacketErr(make([]byte, 16)))
	assert.Equal(t, 1, tr.QueueLen())
}

func ExampleFramedTransport() {
	a, b := NewMemLink(256)
	tx := NewFramedTransport(a, DefaultTransportConfig())
	rx := NewFramedTransport(b, DefaultTransportConfig())
	defer tx.Close()
	defer rx.Close()

	tx.SendPacket(EncodeAck(7))
	pkt, _ := rx.ReceivePacket(time.Second)
	fmt.Println(ValidatePacket(pkt), ParseHeader(pkt[0]), pkt[1])
	// Output: ok Broadcast/Acknowledge 7
}
