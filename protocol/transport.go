package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// TransportConfig tunes a FramedTransport
type TransportConfig struct {
	// Outbound frames held before SendPacket starts refusing
	QueueCapacity int
	// Received packets held for ReceivePacket when no callback is installed
	InboundCapacity int
	// Sleep when an iteration neither wrote nor read anything
	IdleDelay time.Duration
	// Prepend a delimiter to every frame so the peer resyncs after noise
	LeadingDelimiter bool
	// Largest decoded packet accepted from the wire
	MaxPacketSize int
}

// DefaultTransportConfig returns the standard link settings
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		QueueCapacity:    DefaultQueueSize,
		InboundCapacity:  DefaultQueueSize,
		IdleDelay:        5 * time.Millisecond,
		LeadingDelimiter: true,
		MaxPacketSize:    PacketMaxSize,
	}
}

// TransportStats is a point in time copy of the transport counters
type TransportStats struct {
	FramesSent     uint64
	FramesReceived uint64
	QueueRejected  uint64
	DecodeDropped  uint64
	InboundDropped uint64
	WriteErrors    uint64
	Oversized      uint64
}

// FramedTransport moves COBS frames over a RawDevice. A single worker
// goroutine alternates one outbound and one inbound attempt per loop.
type FramedTransport struct {
	raw RawDevice
	cfg TransportConfig

	// Outbound frame queue
	outMutex sync.Mutex
	outbound [][]byte

	// Inbound packets, used only when no callback is registered
	inMutex sync.Mutex
	inbound [][]byte
	inReady chan struct{}

	cbMutex  sync.RWMutex
	callback func([]byte)

	// Owned by the worker
	decoder *COBSDecoder

	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	queueRejected  atomic.Uint64
	decodeDropped  atomic.Uint64
	inboundDropped atomic.Uint64
	writeErrors    atomic.Uint64
	oversized      atomic.Uint64

	// Closed once the raw device reports a read failure; failErr is
	// written before the close
	failed   chan struct{}
	failErr  error
	failOnce sync.Once

	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once
}

// NewFramedTransport starts a transport worker over raw
func NewFramedTransport(raw RawDevice, cfg TransportConfig) *FramedTransport {
	t := newFramedTransport(raw, cfg)
	go t.run()
	return t
}

func newFramedTransport(raw RawDevice, cfg TransportConfig) *FramedTransport {
	def := DefaultTransportConfig()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.InboundCapacity <= 0 {
		cfg.InboundCapacity = def.InboundCapacity
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = def.IdleDelay
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = def.MaxPacketSize
	}

	RegisterMetrics()

	return &FramedTransport{
		raw:      raw,
		cfg:      cfg,
		outbound: make([][]byte, 0, cfg.QueueCapacity),
		inReady:  make(chan struct{}, 1),
		decoder:  NewCOBSDecoder(MaxEncodedLen(cfg.MaxPacketSize, true)),
		failed:   make(chan struct{}),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// SendPacket queues pkt for framing. It never blocks and returns false
// when the outbound queue is full or the transport is closed.
func (t *FramedTransport) SendPacket(pkt []byte) bool {
	return t.SendPacketErr(pkt) == nil
}

// SendPacketErr is SendPacket reporting why a packet was refused
func (t *FramedTransport) SendPacketErr(pkt []byte) error {
	select {
	case <-t.stopChan:
		return ErrTransportClosed
	default:
	}

	// larger packets are discarded by the peer's decoder
	if len(pkt) > t.cfg.MaxPacketSize {
		t.oversized.Add(1)
		recordDrop("oversized")
		return fmt.Errorf("%w: %d byte packet, limit %d", ErrBufferOverflow, len(pkt), t.cfg.MaxPacketSize)
	}

	t.outMutex.Lock()
	defer t.outMutex.Unlock()

	if len(t.outbound) >= t.cfg.QueueCapacity {
		t.queueRejected.Add(1)
		recordDrop("queue_full")
		return fmt.Errorf("%w: %d frames pending", ErrQueueFull, len(t.outbound))
	}

	frame := make([]byte, len(pkt))
	copy(frame, pkt)
	t.outbound = append(t.outbound, frame)
	transportQueueDepth.Set(float64(len(t.outbound)))

	return nil
}

// RegisterReceiveCallback routes every received packet to fn, which runs
// on the worker goroutine. Passing nil reverts to queueing for ReceivePacket.
func (t *FramedTransport) RegisterReceiveCallback(fn func(pkt []byte)) {
	t.cbMutex.Lock()
	t.callback = fn
	t.cbMutex.Unlock()
}

// ReceivePacket waits up to timeout for a queued inbound packet. Once the
// raw device failed and the queue is drained it returns that failure.
func (t *FramedTransport) ReceivePacket(timeout time.Duration) ([]byte, error) {
	deadline := time.After(timeout)
	for {
		if pkt, ok := t.popInbound(); ok {
			return pkt, nil
		}

		select {
		case <-t.inReady:
		case <-deadline:
			return nil, fmt.Errorf("%w after %v", ErrReceiveTimeout, timeout)
		case <-t.stopChan:
			return nil, ErrTransportClosed
		case <-t.failed:
			if pkt, ok := t.popInbound(); ok {
				return pkt, nil
			}
			return nil, t.failErr
		}
	}
}

// Failed is closed when the raw device reports a read failure
func (t *FramedTransport) Failed() <-chan struct{} {
	return t.failed
}

// Err returns the read failure that stopped reception, if any
func (t *FramedTransport) Err() error {
	select {
	case <-t.failed:
		return t.failErr
	default:
		return nil
	}
}

func (t *FramedTransport) fail(err error) {
	t.failOnce.Do(func() {
		t.failErr = err
		recordDrop("read_error")
		log.Error().Str("component", "transport").Err(err).Msg("raw read failed, reception stopped")
		close(t.failed)
	})
}

// QueueLen returns the number of frames waiting to be written
func (t *FramedTransport) QueueLen() int {
	t.outMutex.Lock()
	defer t.outMutex.Unlock()
	return len(t.outbound)
}

// Stats returns the transport counters
func (t *FramedTransport) Stats() TransportStats {
	return TransportStats{
		FramesSent:     t.framesSent.Load(),
		FramesReceived: t.framesReceived.Load(),
		QueueRejected:  t.queueRejected.Load(),
		DecodeDropped:  t.decodeDropped.Load(),
		InboundDropped: t.inboundDropped.Load(),
		WriteErrors:    t.writeErrors.Load(),
		Oversized:      t.oversized.Load(),
	}
}

// Close stops the worker and closes the raw device if it is an io.Closer.
// Frames still queued are discarded.
func (t *FramedTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		<-t.doneChan

		if c, ok := t.raw.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (t *FramedTransport) stopped() bool {
	select {
	case <-t.stopChan:
		return true
	default:
		return false
	}
}

// idle sleeps for the configured delay unless the transport stops first
func (t *FramedTransport) idle() bool {
	select {
	case <-t.stopChan:
		return false
	case <-time.After(t.cfg.IdleDelay):
		return true
	}
}

// run is the worker loop
func (t *FramedTransport) run() {
	defer close(t.doneChan)

	for !t.stopped() {
		progressed := t.writeOnce()
		if t.readOnce() {
			progressed = true
		}
		if !progressed && !t.idle() {
			return
		}
	}
}

// writeOnce frames and writes the oldest queued packet
func (t *FramedTransport) writeOnce() bool {
	t.outMutex.Lock()
	if len(t.outbound) == 0 {
		t.outMutex.Unlock()
		return false
	}
	pkt := t.outbound[0]
	t.outbound[0] = nil
	t.outbound = t.outbound[1:]
	transportQueueDepth.Set(float64(len(t.outbound)))
	t.outMutex.Unlock()

	frame := COBSEncode(pkt, t.cfg.LeadingDelimiter)

	// Wait for room rather than dropping bytes. Inbound bytes are still
	// serviced so two transports writing to each other cannot wedge.
	for len(frame) > 0 {
		avail := t.raw.WriteAvailable()
		if avail <= 0 {
			if t.readOnce() {
				continue
			}
			if !t.idle() {
				return true
			}
			continue
		}

		n, err := t.raw.Write(frame[:min(avail, len(frame))])
		if err != nil {
			t.writeErrors.Add(1)
			recordDrop("write_error")
			log.Warn().Str("component", "transport").Err(err).Int("remaining", len(frame)).
				Msg("raw write failed, dropping frame")
			return true
		}
		frame = frame[n:]
	}

	t.framesSent.Add(1)
	recordFrame("sent")
	return true
}

// readOnce feeds every currently available byte through the decoder
func (t *FramedTransport) readOnce() bool {
	if t.Err() != nil {
		return false
	}
	avail := t.raw.ReadAvailable()
	if avail <= 0 {
		return false
	}

	dropped := t.decoder.Dropped()
	for i := 0; i < avail; i++ {
		b, err := t.raw.ReadByte()
		if err != nil {
			if !errors.Is(err, ErrWouldBlock) {
				t.fail(err)
			}
			break
		}
		if t.decoder.HandleByte(b) {
			t.dispatch(t.decoder.LastPacket())
		}
	}
	if d := t.decoder.Dropped(); d != dropped {
		t.decodeDropped.Add(uint64(d - dropped))
		recordDrop("decode")
		log.Debug().Str("component", "transport").Uint32("dropped", d-dropped).Msg("discarded undecodable frames")
	}

	return true
}

// dispatch hands a decoded packet to the callback or the inbound queue
func (t *FramedTransport) dispatch(pkt []byte) {
	t.framesReceived.Add(1)
	recordFrame("received")

	t.cbMutex.RLock()
	cb := t.callback
	t.cbMutex.RUnlock()

	if cb != nil {
		cb(pkt)
		return
	}

	t.inMutex.Lock()
	if len(t.inbound) >= t.cfg.InboundCapacity {
		// Inbound queue full, drop oldest
		t.inbound = t.inbound[1:]
		t.inboundDropped.Add(1)
		recordDrop("inbound_full")
	}
	t.inbound = append(t.inbound, pkt)
	t.inMutex.Unlock()

	select {
	case t.inReady <- struct{}{}:
	default:
	}
}

func (t *FramedTransport) popInbound() ([]byte, bool) {
	t.inMutex.Lock()
	defer t.inMutex.Unlock()

	if len(t.inbound) == 0 {
		return nil, false
	}
	pkt := t.inbound[0]
	t.inbound = t.inbound[1:]
	return pkt, true
}
