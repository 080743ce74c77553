// go-pn5180
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-pn5180.
//
// go-pn5180 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-pn5180 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-pn5180; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package spi provides the SPI transport for the PN5180. Besides the SPI
// bus it drives two GPIO lines: NSS, toggled by hand around every frame,
// and BUSY, which the chip raises while it processes a command.
package spi

import (
	"fmt"
	"time"

	"github.com/ZaparooProject/go-pn5180"
	"github.com/ZaparooProject/go-pn5180/internal/bufpool"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// Default SPI settings. The PN5180 accepts up to 7 MHz, MSB first.
	defaultFreq = 7 * physic.MegaHertz
	mode        = spi.Mode0

	fillerByte = 0xFF

	resetPulse  = 10 * time.Millisecond
	resetSettle = 10 * time.Millisecond
)

// BusyPin is the input wired to the PN5180 BUSY line. gpio.PinIn
// satisfies it.
type BusyPin interface {
	Read() gpio.Level
}

// OutputPin is an output wired to NSS or RESET_N. gpio.PinOut satisfies it.
type OutputPin interface {
	Out(l gpio.Level) error
}

// Transport implements the pn5180.Transport interface for SPI communication
type Transport struct {
	port         spi.PortCloser
	conn         spi.Conn
	busy         BusyPin
	nss          OutputPin
	reset        OutputPin
	currentTrace *pn5180.TraceBuffer // Trace buffer for current command (error-only)
	portName     string
	timeout      time.Duration
	closed       bool
}

// Option configures a Transport.
type Option func(*Transport) error

// WithResetPin wires the PN5180 RESET_N line to the named GPIO, enabling
// HardReset.
func WithResetPin(name string) Option {
	return func(t *Transport) error {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return fmt.Errorf("reset pin %s not found", name)
		}
		if err := pin.Out(gpio.High); err != nil {
			return fmt.Errorf("reset pin %s: %w", name, err)
		}
		t.reset = pin
		return nil
	}
}

// WithReset wires RESET_N to an already configured output.
func WithReset(pin OutputPin) Option {
	return func(t *Transport) error {
		t.reset = pin
		return nil
	}
}

// traceTX records a TX operation if trace buffer is active
func (t *Transport) traceTX(data []byte, note string) {
	if t.currentTrace != nil {
		t.currentTrace.RecordTX(data, note)
	}
}

// traceRX records an RX operation if trace buffer is active
func (t *Transport) traceRX(data []byte, note string) {
	if t.currentTrace != nil {
		t.currentTrace.RecordRX(data, note)
	}
}

// traceTimeout records a timeout if trace buffer is active
func (t *Transport) traceTimeout(note string) {
	if t.currentTrace != nil {
		t.currentTrace.RecordTimeout(note)
	}
}

// New opens an SPI port and the BUSY and NSS lines by name, for example
// New("/dev/spidev0.0", "GPIO25", "GPIO8").
func New(portName, busyName, nssName string, opts ...Option) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	busy := gpioreg.ByName(busyName)
	if busy == nil {
		return nil, fmt.Errorf("BUSY pin %s not found", busyName)
	}
	if err := busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("BUSY pin %s: %w", busyName, err)
	}
	nss := gpioreg.ByName(nssName)
	if nss == nil {
		return nil, fmt.Errorf("NSS pin %s not found", nssName)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	conn, err := port.Connect(defaultFreq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	transport, err := NewWithConn(conn, busy, nss, portName, opts...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	transport.port = port
	return transport, nil
}

// NewWithConn builds a transport on an open SPI connection. NSS is driven
// high (idle) before it returns.
func NewWithConn(conn spi.Conn, busy BusyPin, nss OutputPin, name string, opts ...Option) (*Transport, error) {
	if conn == nil || busy == nil || nss == nil {
		return nil, fmt.Errorf("%w: SPI connection, BUSY and NSS are required", pn5180.ErrInvalidParameter)
	}

	transport := &Transport{
		conn:     conn,
		busy:     busy,
		nss:      nss,
		portName: name,
		timeout:  pn5180.DefaultBusyTimeout,
	}
	for _, opt := range opts {
		if err := opt(transport); err != nil {
			return nil, err
		}
	}

	if err := nss.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("NSS idle: %w", err)
	}
	return transport, nil
}

// Write sends a command that produces no answer.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) Write(cmd []byte) error {
	if len(cmd) == 0 {
		return fmt.Errorf("%w: empty command", pn5180.ErrInvalidParameter)
	}
	if t.closed {
		return pn5180.NewTransportClosedError("Write", t.portName)
	}

	t.currentTrace = pn5180.NewTraceBuffer("SPI", t.portName, 16)
	defer func() { t.currentTrace = nil }()

	if err := t.frame(cmd, nil); err != nil {
		return t.currentTrace.WrapError(err)
	}
	return nil
}

// Transfer sends a command, then clocks exactly len(resp) bytes of its
// answer out of the chip in a second frame.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) Transfer(cmd, resp []byte) error {
	if len(cmd) == 0 {
		return fmt.Errorf("%w: empty command", pn5180.ErrInvalidParameter)
	}
	if t.closed {
		return pn5180.NewTransportClosedError("Transfer", t.portName)
	}

	t.currentTrace = pn5180.NewTraceBuffer("SPI", t.portName, 16)
	defer func() { t.currentTrace = nil }()

	if err := t.frame(cmd, nil); err != nil {
		return t.currentTrace.WrapError(err)
	}
	if len(resp) == 0 {
		return nil
	}
	if err := t.frame(nil, resp); err != nil {
		return t.currentTrace.WrapError(err)
	}
	return nil
}

// frame runs one NSS frame of the BUSY handshake. With resp nil it writes
// cmd; otherwise it clocks filler bytes and reads the answer into resp.
func (t *Transport) frame(cmd, resp []byte) error {
	if !t.waitBusy(gpio.Low) {
		t.traceTimeout("BUSY high before frame")
		return pn5180.NewDeviceNotReadyError("frame", t.portName)
	}

	if err := t.nss.Out(gpio.Low); err != nil {
		return pn5180.NewTransportWriteError("frame", t.portName, err)
	}

	if resp == nil {
		time.Sleep(pn5180.NSSSettleDelay)
		t.traceTX(cmd, fmt.Sprintf("Cmd 0x%02X", cmd[0]))
		if err := t.conn.Tx(cmd, nil); err != nil {
			t.release()
			return pn5180.NewTransportWriteError("frame", t.portName, err)
		}
	} else {
		filler := bufpool.Get(len(resp))
		defer bufpool.Put(filler)
		for i := range filler {
			filler[i] = fillerByte
		}
		if err := t.conn.Tx(filler, resp); err != nil {
			t.release()
			return pn5180.NewTransportReadError("frame", t.portName, err)
		}
		t.traceRX(resp, "")
	}

	if !t.waitBusy(gpio.High) {
		t.release()
		t.traceTimeout("BUSY never asserted")
		return pn5180.NewBusyNotAssertedError("frame", t.portName)
	}

	if err := t.nss.Out(gpio.High); err != nil {
		return pn5180.NewTransportWriteError("frame", t.portName, err)
	}

	if !t.waitBusy(gpio.Low) {
		t.traceTimeout("BUSY high after frame")
		return pn5180.NewTimeoutError("frame", t.portName)
	}
	return nil
}

// release drives NSS high after a failed frame.
func (t *Transport) release() {
	if err := t.nss.Out(gpio.High); err != nil {
		pn5180.Debugf("SPI %s: NSS release failed: %v", t.portName, err)
	}
}

// waitBusy polls BUSY until it reads level. It reports false when the
// timeout elapses first.
func (t *Transport) waitBusy(level gpio.Level) bool {
	deadline := time.Now().Add(t.timeout)
	for t.busy.Read() != level {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(pn5180.BusyPollInterval)
	}
	return true
}

// HardReset pulses RESET_N and waits for the chip to become idle. Without
// a reset line it does nothing.
func (t *Transport) HardReset() error {
	if t.reset == nil {
		return nil
	}
	if err := t.reset.Out(gpio.Low); err != nil {
		return fmt.Errorf("reset low: %w", err)
	}
	time.Sleep(resetPulse)
	if err := t.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("reset high: %w", err)
	}
	time.Sleep(resetSettle)
	if !t.waitBusy(gpio.Low) {
		return pn5180.NewDeviceNotReadyError("HardReset", t.portName)
	}
	return nil
}

// SetTimeout sets the budget of every BUSY wait
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: BUSY timeout %v", pn5180.ErrInvalidParameter, timeout)
	}
	t.timeout = timeout
	return nil
}

// Close releases NSS and closes the SPI port
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.release()
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			return fmt.Errorf("SPI close failed: %w", err)
		}
	}
	return nil
}

// IsConnected returns true until Close is called
func (t *Transport) IsConnected() bool {
	return !t.closed
}

// Type returns the transport type
func (*Transport) Type() pn5180.TransportType {
	return pn5180.TransportSPI
}
