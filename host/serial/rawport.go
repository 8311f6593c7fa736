package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"vdblink/protocol"
)

const (
	readChunk = 256

	// writeChunk is what WriteAvailable reports; the OS driver buffers
	// writes so the transport only needs a bounded slice size
	writeChunk = 256

	// idleBackoff paces ports whose reads return without data
	idleBackoff = 5 * time.Millisecond
)

// RawPort adapts a blocking port to protocol.RawDevice. A reader goroutine
// fills a bounded receive buffer the transport polls.
type RawPort struct {
	port io.ReadWriteCloser

	mu  sync.Mutex
	rx  *protocol.FifoBuffer
	err error

	overflow  atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
}

// NewRawPort starts reading port into a buffer of bufSize bytes
func NewRawPort(port io.ReadWriteCloser, bufSize int) *RawPort {
	if bufSize <= 0 {
		bufSize = 4096
	}
	p := &RawPort{
		port: port,
		rx:   protocol.NewFifoBuffer(bufSize),
		done: make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *RawPort) readLoop() {
	buf := make([]byte, readChunk)
	for {
		n, err := p.port.Read(buf)
		if n > 0 {
			p.mu.Lock()
			written := p.rx.Write(buf[:n])
			p.mu.Unlock()
			if written < n {
				p.overflow.Add(uint64(n - written))
				log.Warn().Str("component", "serial").Int("lost", n-written).Msg("receive buffer full, dropping bytes")
			}
		}

		select {
		case <-p.done:
			return
		default:
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("serial: port disconnected: %w", err)
			}
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			log.Error().Str("component", "serial").Err(err).Msg("serial read failed")
			return
		}
		if n == 0 {
			time.Sleep(idleBackoff)
		}
	}
}

// WriteAvailable reports how many bytes Write accepts without blocking
// the transport for long; zero once closed
func (p *RawPort) WriteAvailable() int {
	select {
	case <-p.done:
		return 0
	default:
		return writeChunk
	}
}

func (p *RawPort) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, protocol.ErrTransportClosed
	default:
	}
	return p.port.Write(b)
}

// ReadAvailable returns the buffered byte count. After a read failure it
// is at least one so the transport collects the error from ReadByte.
func (p *RawPort) ReadAvailable() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.rx.Available(); n > 0 || p.err == nil {
		return n
	}
	return 1
}

// ReadByte returns the next buffered byte. protocol.ErrWouldBlock means
// nothing is buffered; a read failure is reported once the buffer drains.
func (p *RawPort) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.rx.PopByte(); ok {
		return b, nil
	}
	if p.err != nil {
		return 0, p.err
	}
	return 0, protocol.ErrWouldBlock
}

// Flush discards buffered input, including what the OS driver still holds
// when the port supports it
func (p *RawPort) Flush() error {
	p.mu.Lock()
	p.rx.Reset()
	p.mu.Unlock()

	if f, ok := p.port.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Overflow returns the number of received bytes lost to a full buffer
func (p *RawPort) Overflow() uint64 {
	return p.overflow.Load()
}

// Close stops the reader and closes the port
func (p *RawPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.port.Close()
	})
	return err
}
