// Package serial wraps go.bug.st/serial for the optional companion
// microcontroller port: the thin surface the WebSocket control plane's
// SerialSend command and SerialLog/SerialPortChanged events attach to. Non-goal
// per the spec: flashing firmware onto the companion is out of scope here.
package serial

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// conn is the minimal surface Port needs from an open serial connection.
// Narrowing away from serial.Port lets tests substitute an in-memory fake.
type conn interface {
	io.ReadWriteCloser
}

// opener is swapped out in tests so Open doesn't touch real hardware.
var opener = func(portName string) (conn, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(portName, mode)
}

// Port is a single open companion serial connection.
type Port struct {
	mu   sync.Mutex
	name string
	conn conn
}

// Open opens portName at the baud rate the companion firmware expects.
func Open(portName string) (*Port, error) {
	c, err := opener(portName)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}
	return &Port{name: portName, conn: c}, nil
}

// Name returns the underlying OS port name, for SerialPortChanged messages.
func (p *Port) Name() string {
	return p.name
}

// Send writes raw bytes to the port, implementing the WebSocket control
// plane's SerialSend command.
func (p *Port) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.conn.Write(data); err != nil {
		return fmt.Errorf("writing to serial port %s: %w", p.name, err)
	}
	return nil
}

// Lines returns a scanner over newline-terminated companion output, for the
// caller to forward as SerialLog events.
func (p *Port) Lines() *bufio.Scanner {
	return bufio.NewScanner(p.conn)
}

// Close releases the underlying port.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close()
}

// ListPorts enumerates the available serial ports for the UI to pick from.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}
