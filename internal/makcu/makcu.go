// Package makcu drives a MAKCU mouse-emulation device over a serial
// channel. The device performs a physical left click when sent the km.left
// command pair, which is what closes the measured capture-to-click loop.
package makcu

import (
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"
)

var (
	// ErrChannelBusy means a previous click is still executing. The
	// trigger is dropped rather than queued: a late click would invalidate
	// the latency measurement anyway.
	ErrChannelBusy = errors.New("serial channel busy")

	// ErrChannelClosed means the device disconnected or the channel was
	// shut down. Triggers stay suspended until the caller re-establishes
	// the connection.
	ErrChannelClosed = errors.New("serial channel closed")
)

// Command byte sequences understood by the device.
var (
	cmdPress   = []byte("km.left(1)\r")
	cmdRelease = []byte("km.left(0)\r")
)

// Channel is the minimal byte contract the dispatcher needs. A real
// go.bug.st/serial port satisfies it; tests use in-memory fakes. Channels
// that also implement io.Reader can deliver acknowledgement bytes.
type Channel interface {
	io.Writer
	io.Closer
}

// Open opens the serial port with the device's 8N1 framing. Discovery of
// which port the device sits on is the caller's problem; this only opens a
// named port.
func Open(portName string, baud int) (Channel, error) {
	if portName == "" {
		return nil, fmt.Errorf("serial port not configured")
	}
	if baud <= 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return port, nil
}

// ListPorts returns the serial port names visible on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
