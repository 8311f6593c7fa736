// Package serial connects the framed transport to a serial device
package serial

import (
	"io"
	"time"
)

// Port is an open serial line such as NativePort
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not yet read
	Flush() error
}

// Config describes how to open a telemetry serial line
type Config struct {
	// Device is the OS path, /dev/ttyUSB0 or COM3
	Device string

	// Baud rate; the link runs at 115200 unless configured otherwise
	Baud int

	// ReadTimeout bounds a single read so Close is noticed (0 = blocking)
	ReadTimeout time.Duration

	// BufferSize is the receive buffer between the reader goroutine and
	// the transport
	BufferSize int
}

// DefaultConfig returns the default configuration for a telemetry link
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
		BufferSize:  4096,
	}
}
