package protocol

import "fmt"

// COBS framing. A frame never contains 0x00 except for the trailing
// delimiter (and the optional leading one).

const cobsMaxBlock = 0xFF

// MaxEncodedLen returns the worst case frame length for an n byte payload
func MaxEncodedLen(n int, leadingDelimiter bool) int {
	size := n + (n+253)/254 + 1
	if n == 0 {
		size = 2
	}
	if leadingDelimiter {
		size++
	}
	return size
}

// COBSEncode stuffs payload into a zero delimited frame
func COBSEncode(payload []byte, leadingDelimiter bool) []byte {
	out := make([]byte, 0, MaxEncodedLen(len(payload), leadingDelimiter))
	if leadingDelimiter {
		out = append(out, 0)
	}

	codeIdx := len(out)
	out = append(out, 0) // code placeholder
	code := byte(1)

	for i, b := range payload {
		if b == 0 {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}
		out = append(out, b)
		code++
		// Only open a new block if there are bytes left to stuff
		if code == cobsMaxBlock && i < len(payload)-1 {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codeIdx] = code

	return append(out, 0)
}

// COBSDecode returns the payload carried by frame
func COBSDecode(frame []byte) ([]byte, error) {
	dst := make([]byte, len(frame))
	n, err := COBSDecodeInto(dst, frame)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// COBSDecodeInto decodes frame into dst and returns the payload length.
// It never writes past len(dst).
func COBSDecodeInto(dst, frame []byte) (int, error) {
	// Skip leading delimiters
	i := 0
	for i < len(frame) && frame[i] == 0 {
		i++
	}

	n := 0
	for i < len(frame) {
		code := int(frame[i])
		if code == 0 {
			break
		}
		i++

		end := i + code - 1
		if end > len(frame) {
			return n, fmt.Errorf("%w: block of %d overruns frame", ErrMalformed, code)
		}
		for ; i < end; i++ {
			if frame[i] == 0 {
				return n, fmt.Errorf("%w: zero inside block", ErrMalformed)
			}
			if n >= len(dst) {
				return n, ErrBufferOverflow
			}
			dst[n] = frame[i]
			n++
		}

		// A block boundary that is not the end of data stands for a zero,
		// unless the block was a full 254 byte run.
		if code < cobsMaxBlock && i < len(frame) && frame[i] != 0 {
			if n >= len(dst) {
				return n, ErrBufferOverflow
			}
			dst[n] = 0
			n++
		}
	}

	return n, nil
}

// COBSDecoder reassembles frames from a byte stream one byte at a time
type COBSDecoder struct {
	work     []byte
	last     []byte
	maxFrame int
	overflow bool
	dropped  uint32
}

// NewCOBSDecoder creates a decoder accepting frames up to maxFrame encoded bytes
func NewCOBSDecoder(maxFrame int) *COBSDecoder {
	if maxFrame <= 0 {
		maxFrame = MaxEncodedLen(PacketMaxSize, true)
	}
	return &COBSDecoder{
		work:     make([]byte, 0, maxFrame),
		maxFrame: maxFrame,
	}
}

// HandleByte feeds one byte into the decoder. It returns true when a
// delimiter completed a non-empty frame that decoded cleanly; the payload
// is then available from LastPacket.
func (d *COBSDecoder) HandleByte(b byte) bool {
	if b != 0 {
		if len(d.work) >= d.maxFrame {
			d.overflow = true
			return false
		}
		d.work = append(d.work, b)
		return false
	}

	if len(d.work) == 0 {
		return false
	}
	defer func() { d.work = d.work[:0] }()

	if d.overflow {
		d.overflow = false
		d.dropped++
		return false
	}

	payload, err := COBSDecode(d.work)
	if err != nil || len(payload) == 0 {
		d.dropped++
		return false
	}
	d.last = payload
	return true
}

// LastPacket returns the most recently completed payload
func (d *COBSDecoder) LastPacket() []byte {
	return d.last
}

// Dropped returns the number of frames discarded as undecodable or oversized
func (d *COBSDecoder) Dropped() uint32 {
	return d.dropped
}

// Reset discards any partial frame
func (d *COBSDecoder) Reset() {
	d.work = d.work[:0]
	d.overflow = false
	d.last = nil
}
