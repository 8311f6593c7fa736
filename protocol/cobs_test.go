package protocol

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repeat(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestCOBSKnownEncodings(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    []byte
	}{
		{"empty", []byte{}, []byte{0x01, 0x00}},
		{"single zero", []byte{0x00}, []byte{0x01, 0x01, 0x00}},
		{"two zeros", []byte{0x00, 0x00}, []byte{0x01, 0x01, 0x01, 0x00}},
		{"mixed", []byte{0x11, 0x22, 0x00, 0x33}, []byte{0x03, 0x11, 0x22, 0x02, 0x33, 0x00}},
		{"trailing zero", []byte{0x11, 0x00}, []byte{0x02, 0x11, 0x01, 0x00}},
		{"full block", repeat(0x01, 254), append(append([]byte{0xFF}, repeat(0x01, 254)...), 0x00)},
		{"full block plus one", repeat(0x01, 255), append(append(append([]byte{0xFF}, repeat(0x01, 254)...), 0x02, 0x01), 0x00)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := COBSEncode(tc.payload, false)
			assert.Equal(t, tc.want, got)

			decoded, err := COBSDecode(got)
			require.NoError(t, err)
			assert.Equal(t, tc.payload, decoded)
		})
	}
}

func TestCOBSRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	payloads := [][]byte{
		{},
		{0},
		repeat(0, 300),
		repeat(0xFF, 253),
		repeat(0xFF, 254),
		repeat(0xFF, 508),
		append(repeat(0x7F, 254), 0),
		append([]byte{0}, repeat(0x7F, 600)...),
	}
	for i := 0; i < 200; i++ {
		p := make([]byte, rng.Intn(1200))
		rng.Read(p)
		// bias towards zeros so block boundaries get exercised
		for j := range p {
			if rng.Intn(8) == 0 {
				p[j] = 0
			}
		}
		payloads = append(payloads, p)
	}

	for _, leading := range []bool{false, true} {
		for _, p := range payloads {
			frame := COBSEncode(p, leading)

			require.LessOrEqual(t, len(frame), MaxEncodedLen(len(p), leading))
			body := frame[:len(frame)-1]
			if leading {
				require.Equal(t, byte(0), frame[0])
				body = body[1:]
			}
			require.NotContains(t, body, byte(0), "frame body must not contain delimiters")
			require.Equal(t, byte(0), frame[len(frame)-1])

			decoded, err := COBSDecode(frame)
			require.NoError(t, err)
			require.True(t, bytes.Equal(p, decoded), "round trip mismatch for %d byte payload", len(p))
		}
	}
}

func TestCOBSDecodeIntoOverflow(t *testing.T) {
	frame := COBSEncode([]byte{1, 2, 3, 0, 4, 5}, false)

	dst := make([]byte, 4)
	_, err := COBSDecodeInto(dst, frame)
	assert.ErrorIs(t, err, ErrBufferOverflow)

	dst = make([]byte, 6)
	n, err := COBSDecodeInto(dst, frame)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 0, 4, 5}, dst[:n])
}

func TestCOBSDecodeMalformed(t *testing.T) {
	_, err := COBSDecode([]byte{0x05, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCOBSDecoderStream(t *testing.T) {
	first := []byte{0x80, 0x00, 0x2A}
	second := repeat(0x33, 400)

	var stream []byte
	stream = append(stream, 0x44, 0x45) // noise from a cut-off frame
	stream = append(stream, COBSEncode(first, true)...)
	stream = append(stream, COBSEncode(second, true)...)

	d := NewCOBSDecoder(0)
	var got [][]byte
	for _, b := range stream {
		if d.HandleByte(b) {
			got = append(got, d.LastPacket())
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, second, got[1])
}

func TestCOBSDecoderOversizedFrame(t *testing.T) {
	d := NewCOBSDecoder(8)

	for _, b := range COBSEncode(repeat(0x01, 20), false) {
		require.False(t, d.HandleByte(b))
	}
	assert.Equal(t, uint32(1), d.Dropped())

	// decoder recovers for the next frame
	completed := false
	for _, b := range COBSEncode([]byte{9, 9}, false) {
		completed = d.HandleByte(b)
	}
	require.True(t, completed)
	assert.Equal(t, []byte{9, 9}, d.LastPacket())
}
