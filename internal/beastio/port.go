package beastio

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the minimal interface the engine needs from a serial connection.
// Abstracting it out of go.bug.st/serial's concrete *serial.Port lets the
// connection supervisor be driven by a fake in tests, the same way
// SerialPorter decouples serial I/O in other_examples/banshee-data-
// velocity.report__port.go.
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds how long a Read call may block. The engine's
	// reader goroutine simply reads again after a timeout with no data; it
	// stops when Read returns an error (e.g. once the port is closed).
	SetReadTimeout(timeout time.Duration) error
}

// PortOpener opens a Port at the given device path and baud rate. Swappable
// in tests; DefaultPortOpener is what production code uses.
type PortOpener func(path string, baud int) (Port, error)

// DefaultPortOpener opens a real OS serial device via go.bug.st/serial,
// using the 8-N-1 framing every Beast/Radarcape device expects (grounded
// on the serial.Mode{} construction in
// _examples/sagostin-goefidash/internal/gps/nmea.go). Hardware (RTS/CTS)
// flow control is not configured.
func DefaultPortOpener(path string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return realPort{p}, nil
}

// realPort adapts serial.Port (whose SetReadTimeout returns no error in
// some build configurations but does in go.bug.st/serial's current API)
// to the Port interface above.
type realPort struct {
	serial.Port
}

func (p realPort) SetReadTimeout(timeout time.Duration) error {
	return p.Port.SetReadTimeout(timeout)
}
