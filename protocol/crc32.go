package protocol

import (
	"encoding/binary"
	"hash/crc32"
)

// CRC32 is a running IEEE CRC32 accumulator matching the controller's
// table-driven implementation (reflected 0xEDB88320, init and xorout 0xFFFFFFFF).
type CRC32 struct {
	crc uint32
}

// Reset restarts the accumulator
func (c *CRC32) Reset() {
	c.crc = 0
}

// Update folds one byte into the checksum
func (c *CRC32) Update(b byte) {
	c.crc = crc32.Update(c.crc, crc32.IEEETable, []byte{b})
}

// UpdateBytes folds every byte of p into the checksum
func (c *CRC32) UpdateBytes(p []byte) {
	c.crc = crc32.Update(c.crc, crc32.IEEETable, p)
}

// Finalize returns the checksum of everything fed since the last Reset
func (c *CRC32) Finalize() uint32 {
	return c.crc
}

// CalculateCRC32 computes the checksum of data in one call
func CalculateCRC32(data []byte) uint32 {
	var c CRC32
	c.UpdateBytes(data)
	return c.Finalize()
}

// appendChecksum appends the little-endian CRC32 of pkt to pkt
func appendChecksum(pkt []byte) []byte {
	return binary.LittleEndian.AppendUint32(pkt, CalculateCRC32(pkt))
}
