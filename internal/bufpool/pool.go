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

// Package bufpool keeps reusable byte slices for SPI frames. Buffers come in
// three size classes matching the PN5180 host interface: short register and
// EEPROM transfers, SEND_DATA commands and READ_DATA answers.
package bufpool

import "sync"

// Size classes.
const (
	// SmallBufferSize covers register, EEPROM and status transfers.
	SmallBufferSize = 16
	// CommandBufferSize covers a SEND_DATA command: two header bytes and
	// 260 payload bytes.
	CommandBufferSize = 262
	// LargeBufferSize covers a full READ_DATA answer of 508 bytes.
	LargeBufferSize = 512
)

// Pool manages reusable byte slices for different size categories.
type Pool struct {
	small   sync.Pool
	command sync.Pool
	large   sync.Pool
}

var defaultPool = New()

// New creates a pool.
func New() *Pool {
	return &Pool{
		small:   sync.Pool{New: newBuffer(SmallBufferSize)},
		command: sync.Pool{New: newBuffer(CommandBufferSize)},
		large:   sync.Pool{New: newBuffer(LargeBufferSize)},
	}
}

func newBuffer(size int) func() any {
	return func() any {
		buf := make([]byte, size)
		return &buf
	}
}

// Get returns a buffer of exactly size bytes. It should be handed back with
// Put when done. Oversized requests are allocated directly.
func (p *Pool) Get(size int) []byte {
	var pool *sync.Pool
	switch {
	case size <= SmallBufferSize:
		pool = &p.small
	case size <= CommandBufferSize:
		pool = &p.command
	case size <= LargeBufferSize:
		pool = &p.large
	default:
		return make([]byte, size)
	}

	bufPtr, ok := pool.Get().(*[]byte)
	if !ok {
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// Put clears buf and returns it to the pool it came from. The buffer must
// not be used afterwards.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	clear(buf)

	full := buf[:cap(buf)]
	switch cap(buf) {
	case SmallBufferSize:
		p.small.Put(&full)
	case CommandBufferSize:
		p.command.Put(&full)
	case LargeBufferSize:
		p.large.Put(&full)
	}
}

// Get acquires a buffer from the default pool.
func Get(size int) []byte {
	return defaultPool.Get(size)
}

// Put returns a buffer to the default pool.
func Put(buf []byte) {
	defaultPool.Put(buf)
}
