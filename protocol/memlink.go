package protocol

import (
	"sync"
	"sync/atomic"
)

// memPipe is one direction of a MemLink
type memPipe struct {
	mu  sync.Mutex
	buf *FifoBuffer
}

// MemEndpoint is one side of an in-memory byte link
type MemEndpoint struct {
	rx     *memPipe
	tx     *memPipe
	closed atomic.Bool
}

// NewMemLink returns two connected RawDevices; bytes written to one are
// read from the other. Each direction buffers up to capacity bytes.
func NewMemLink(capacity int) (*MemEndpoint, *MemEndpoint) {
	ab := &memPipe{buf: NewFifoBuffer(capacity)}
	ba := &memPipe{buf: NewFifoBuffer(capacity)}
	return &MemEndpoint{rx: ba, tx: ab}, &MemEndpoint{rx: ab, tx: ba}
}

func (e *MemEndpoint) WriteAvailable() int {
	if e.closed.Load() {
		return 0
	}
	e.tx.mu.Lock()
	defer e.tx.mu.Unlock()
	return e.tx.buf.Free()
}

func (e *MemEndpoint) Write(p []byte) (int, error) {
	if e.closed.Load() {
		return 0, ErrTransportClosed
	}
	e.tx.mu.Lock()
	defer e.tx.mu.Unlock()
	return e.tx.buf.Write(p), nil
}

func (e *MemEndpoint) ReadAvailable() int {
	e.rx.mu.Lock()
	defer e.rx.mu.Unlock()
	return e.rx.buf.Available()
}

func (e *MemEndpoint) ReadByte() (byte, error) {
	e.rx.mu.Lock()
	defer e.rx.mu.Unlock()
	b, ok := e.rx.buf.PopByte()
	if !ok {
		return 0, ErrWouldBlock
	}
	return b, nil
}

// Close stops further writes from this endpoint
func (e *MemEndpoint) Close() error {
	e.closed.Store(true)
	return nil
}
