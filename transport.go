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

package pn5180

import (
	"errors"
	"sync"
	"time"
)

// Transport is the byte-level link to the PN5180. Every call is one
// complete host command: the implementation owns the BUSY/NSS handshake and
// performs no retries of its own.
type Transport interface {
	// Write sends a command that produces no answer.
	Write(cmd []byte) error

	// Transfer sends a command and then clocks out exactly len(resp) bytes
	// of its answer.
	Transfer(cmd []byte, resp []byte) error

	// SetTimeout sets the BUSY wait budget
	SetTimeout(timeout time.Duration) error

	// Close closes the transport connection
	Close() error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSPI represents SPI bus transport.
	TransportSPI TransportType = "spi"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// Resetter is implemented by transports wired to the PN5180 RESET_N line.
type Resetter interface {
	HardReset() error
}

// MockTransport provides a mock implementation of Transport for testing.
// Answers are configured per command byte; every command is logged.
type MockTransport struct {
	responses map[byte][]byte
	callCount map[byte]int
	errorMap  map[byte]error
	written   [][]byte
	timeout   time.Duration
	mu        sync.RWMutex
	connected bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		timeout:   DefaultBusyTimeout,
		responses: make(map[byte][]byte),
		callCount: make(map[byte]int),
		errorMap:  make(map[byte]error),
	}
}

// Write implements Transport interface
func (m *MockTransport) Write(cmd []byte) error {
	_, err := m.record(cmd)
	return err
}

// Transfer implements Transport interface. The configured response is
// copied into resp and padded with zeros.
func (m *MockTransport) Transfer(cmd []byte, resp []byte) error {
	response, err := m.record(cmd)
	if err != nil {
		return err
	}
	clear(resp)
	copy(resp, response)
	return nil
}

func (m *MockTransport) record(cmd []byte) ([]byte, error) {
	if len(cmd) == 0 {
		return nil, errors.New("empty command")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, ErrTransportClosed
	}
	m.callCount[cmd[0]]++
	m.written = append(m.written, append([]byte(nil), cmd...))

	if err, exists := m.errorMap[cmd[0]]; exists {
		return nil, err
	}
	return m.responses[cmd[0]], nil
}

// Close implements Transport interface
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// SetTimeout implements Transport interface
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	return nil
}

// Timeout returns the last timeout set
func (m *MockTransport) Timeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeout
}

// IsConnected implements Transport interface
func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	return connected
}

// Type implements Transport interface
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// SetResponse configures the answer to a command
func (m *MockTransport) SetResponse(cmd byte, response []byte) {
	m.mu.Lock()
	m.responses[cmd] = response
	m.mu.Unlock()
}

// SetError configures an error to be returned for a specific command
func (m *MockTransport) SetError(cmd byte, err error) {
	m.mu.Lock()
	m.errorMap[cmd] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a command
func (m *MockTransport) ClearError(cmd byte) {
	m.mu.Lock()
	delete(m.errorMap, cmd)
	m.mu.Unlock()
}

// GetCallCount returns how many times a command was called
func (m *MockTransport) GetCallCount(cmd byte) int {
	m.mu.RLock()
	count := m.callCount[cmd]
	m.mu.RUnlock()
	return count
}

// Written returns copies of every command sent, in order
func (m *MockTransport) Written() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.written))
	for i, w := range m.written {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// Reset clears all call counts and resets state
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.callCount = make(map[byte]int)
	m.written = nil
	m.connected = true
	m.mu.Unlock()
}
