// Package onewire drives a 1-Wire bus through a UART adapter and reads
// DS18B20 temperature sensors on it.
//
// The UART's TX and RX are tied to the bus through an open-drain buffer. A
// reset pulse is one 0xF0 byte at 9600 baud; every time slot is one byte at
// 115200 baud, 0xFF for a 1 (or read) slot and 0x00 for a 0 slot. The byte read
// back tells what the bus carried.
package onewire

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

const (
	resetBaud = 9600
	slotBaud  = 115200
	resetByte = 0xF0
	readTime  = 100 * time.Millisecond
)

// ErrNoResponse indicates the adapter echoed nothing back.
var ErrNoResponse = errors.New("onewire: no echo from UART")

// Line is the bit-level bus.
type Line interface {
	// Reset issues a reset pulse and reports whether any device answered.
	Reset() (bool, error)
	// Touch writes one slot and returns the bit the bus carried. Writing true
	// is also a read slot.
	Touch(bit bool) (bool, error)
}

// Port is the part of serial.Port the adapter uses.
type Port interface {
	io.ReadWriter
	SetMode(mode *serial.Mode) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// UART implements Line over a serial port.
type UART struct {
	port Port
	baud int
	buf  [1]byte
}

func mode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// OpenUART opens the named serial device.
func OpenUART(portName string) (*UART, error) {
	port, err := serial.Open(portName, mode(slotBaud))
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	u, err := NewUART(port)
	if err != nil {
		port.Close()
		return nil, err
	}
	return u, nil
}

// NewUART wraps an open port.
func NewUART(port Port) (*UART, error) {
	if err := port.SetReadTimeout(readTime); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return &UART{port: port, baud: slotBaud}, nil
}

func (u *UART) setBaud(baud int) error {
	if u.baud == baud {
		return nil
	}
	if err := u.port.SetMode(mode(baud)); err != nil {
		return fmt.Errorf("failed to switch to %d baud: %w", baud, err)
	}
	u.baud = baud
	return nil
}

// exchange writes one byte and reads its echo.
func (u *UART) exchange(b byte) (byte, error) {
	if err := u.port.ResetInputBuffer(); err != nil {
		return 0, err
	}
	u.buf[0] = b
	if _, err := u.port.Write(u.buf[:]); err != nil {
		return 0, fmt.Errorf("onewire write: %w", err)
	}
	n, err := u.port.Read(u.buf[:])
	if err != nil {
		return 0, fmt.Errorf("onewire read: %w", err)
	}
	if n == 0 {
		return 0, ErrNoResponse
	}
	return u.buf[0], nil
}

func (u *UART) Reset() (bool, error) {
	if err := u.setBaud(resetBaud); err != nil {
		return false, err
	}
	echo, err := u.exchange(resetByte)
	if err != nil {
		return false, err
	}
	if err := u.setBaud(slotBaud); err != nil {
		return false, err
	}
	return echo != resetByte, nil
}

func (u *UART) Touch(bit bool) (bool, error) {
	out := byte(0x00)
	if bit {
		out = 0xFF
	}
	echo, err := u.exchange(out)
	if err != nil {
		return false, err
	}
	return echo == 0xFF, nil
}

// Close releases the serial port.
func (u *UART) Close() error {
	return u.port.Close()
}
