package protocol

// Device is the packet-level capability the registry runs on
type Device interface {
	// SendPacket queues pkt for transmission and returns false when the
	// device cannot accept it
	SendPacket(pkt []byte) bool
	// RegisterReceiveCallback installs the handler for every received packet
	RegisterReceiveCallback(fn func(pkt []byte))
}

// RawDevice is a non-blocking byte link such as a UART. Opening the port
// and configuring its baud rate is the constructor's job.
type RawDevice interface {
	// WriteAvailable returns how many bytes Write can take without blocking
	WriteAvailable() int
	Write(p []byte) (int, error)
	// ReadAvailable returns how many bytes ReadByte can return without
	// blocking. A failed link reports at least one so the failure is read.
	ReadAvailable() int
	// ReadByte returns ErrWouldBlock when nothing is buffered; any other
	// error stops reception for good
	ReadByte() (byte, error)
}
