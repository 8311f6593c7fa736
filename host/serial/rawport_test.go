package serial

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vdblink/logging/testlog"
	"vdblink/protocol"
)

func TestRawPortBuffersReads(t *testing.T) {
	testlog.Start(t)

	local, remote := net.Pipe()
	p := NewRawPort(local, 8)
	defer p.Close()

	_, err := p.ReadByte()
	assert.ErrorIs(t, err, protocol.ErrWouldBlock)

	go func() { _, _ = remote.Write([]byte{1, 2, 3}) }()

	require.Eventually(t, func() bool { return p.ReadAvailable() == 3 }, time.Second, time.Millisecond)
	for want := byte(1); want <= 3; want++ {
		b, err := p.ReadByte()
		require.NoError(t, err)
		assert.Equal(t, want, b)
	}
}

func TestRawPortOverflow(t *testing.T) {
	testlog.Start(t)

	local, remote := net.Pipe()
	p := NewRawPort(local, 4)
	defer p.Close()

	go func() { _, _ = remote.Write([]byte{1, 2, 3, 4, 5, 6}) }()

	require.Eventually(t, func() bool { return p.Overflow() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 4, p.ReadAvailable())
}

func TestRawPortReportsDisconnect(t *testing.T) {
	testlog.Start(t)

	local, remote := net.Pipe()
	p := NewRawPort(local, 16)
	defer p.Close()

	go func() { _, _ = remote.Write([]byte{7}) }()
	require.Eventually(t, func() bool { return p.ReadAvailable() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, remote.Close())

	// buffered bytes come first, then the failure
	b, err := p.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(7), b)

	require.Eventually(t, func() bool { return p.ReadAvailable() > 0 }, time.Second, time.Millisecond)
	_, err = p.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	assert.NotErrorIs(t, err, protocol.ErrWouldBlock)
}

func TestReadResultMapsTimeouts(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		name    string
		n       int
		err     error
		timeout time.Duration
		wantErr error
	}{
		{"timed out read", 0, io.EOF, 100 * time.Millisecond, nil},
		{"blocking port closed", 0, io.EOF, 0, io.EOF},
		{"data then eof", 3, io.EOF, 100 * time.Millisecond, io.EOF},
		{"plain read", 2, nil, 0, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n, err := readResult(tc.n, tc.err, tc.timeout)
			assert.Equal(t, tc.n, n)
			assert.Equal(t, tc.wantErr, err)
		})
	}
}

func TestRawPortFlush(t *testing.T) {
	testlog.Start(t)

	local, remote := net.Pipe()
	p := NewRawPort(local, 16)
	defer p.Close()

	go func() { _, _ = remote.Write([]byte{1, 2, 3}) }()
	require.Eventually(t, func() bool { return p.ReadAvailable() == 3 }, time.Second, time.Millisecond)

	require.NoError(t, p.Flush())
	assert.Zero(t, p.ReadAvailable())
	_, err := p.ReadByte()
	assert.ErrorIs(t, err, protocol.ErrWouldBlock)
}

func TestFramedTransportSeesLostPort(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	cfg := protocol.DefaultTransportConfig()
	cfg.IdleDelay = time.Millisecond

	tr := protocol.NewFramedTransport(NewRawPort(a, 64), cfg)
	defer tr.Close()

	require.NoError(t, b.Close())

	select {
	case <-tr.Failed():
	case <-time.After(2 * time.Second):
		t.Fatal("transport never noticed the closed port")
	}
	assert.ErrorIs(t, tr.Err(), io.EOF)
}

func TestRawPortClose(t *testing.T) {
	testlog.Start(t)

	local, _ := net.Pipe()
	p := NewRawPort(local, 16)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Zero(t, p.WriteAvailable())
	_, err := p.Write([]byte{1})
	assert.ErrorIs(t, err, protocol.ErrTransportClosed)
}

func TestFramedTransportOverRawPorts(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	cfg := protocol.DefaultTransportConfig()
	cfg.IdleDelay = time.Millisecond

	ta := protocol.NewFramedTransport(NewRawPort(a, 1024), cfg)
	tb := protocol.NewFramedTransport(NewRawPort(b, 1024), cfg)
	defer ta.Close()
	defer tb.Close()

	require.True(t, ta.SendPacket(protocol.EncodeAck(3)))

	pkt, err := tb.ReceivePacket(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.PacketOk, protocol.ValidatePacket(pkt))
	assert.Equal(t, protocol.EncodeAck(3), pkt)
}

func TestDefaultConfig(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig("/dev/ttyUSB0")
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Positive(t, cfg.BufferSize)

	_, err := Open(nil)
	assert.Error(t, err)
}
