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

import "time"

// Bus handshake constants for the BUSY/NSS protocol.
const (
	// DefaultBusyTimeout is the wait budget for every BUSY transition.
	DefaultBusyTimeout = 2000 * time.Millisecond
	// NSSSettleDelay is the pause between driving NSS low and the first
	// write-only transfer.
	NSSSettleDelay = 2 * time.Millisecond
	// BusyPollInterval is the delay between two BUSY samples.
	BusyPollInterval = 50 * time.Microsecond
)

// Frame exchange constants.
const (
	// ReceivePollInterval is the RX_STATUS polling period. One character at
	// 106 kbit/s takes about 100 us, so a frame still arriving changes the
	// byte count between two polls.
	ReceivePollInterval = 1 * time.Millisecond
	// MaxSendDataLength is the largest payload SEND_DATA accepts.
	MaxSendDataLength = 260
	// MaxReadDataLength is the size of the receive buffer.
	MaxReadDataLength = 508
)

// Card protocol constants.
const (
	// DefaultBlockRetries is the number of R(NAK)/S(WTX) rounds the block
	// protocol engine allows per exchange.
	DefaultBlockRetries = 5
	// DefaultTypeATimeout bounds the wait for a Type A answer to a raw
	// exchange on target 0.
	DefaultTypeATimeout = 100 * time.Millisecond
	// DefaultDiscoveryFrameTimeout bounds the wait for REQA, WUPB, ATTRIB and
	// anticollision answers during discovery.
	DefaultDiscoveryFrameTimeout = 10 * time.Millisecond
	// MaxTargets is the number of Type B targets that can be active at once.
	MaxTargets = 14
)

// Device bring-up retry constants.
const (
	// DefaultInitRetries is the number of attempts to read the version block.
	DefaultInitRetries = 3
	// InitInitialBackoff is the first delay between bring-up attempts.
	InitInitialBackoff = 50 * time.Millisecond
	// InitMaxBackoff caps the delay between bring-up attempts.
	InitMaxBackoff = 500 * time.Millisecond
	// InitRetryTimeout is the overall budget for bring-up. It covers three
	// full BUSY timeouts.
	InitRetryTimeout = 3*DefaultBusyTimeout + time.Second
)
