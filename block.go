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
	"fmt"
	"time"

	"github.com/ZaparooProject/go-pn5180/iso14443"
)

// Mifare Classic authentication commands accepted by Transceive on target 0.
const (
	MifareAuthKeyA byte = 0x60
	MifareAuthKeyB byte = 0x61

	mifareAuthFrameLength = 12
)

// BlockState is the phase of one block protocol exchange.
type BlockState int

const (
	// BlockStateIdle is the state before the I-block is sent.
	BlockStateIdle BlockState = iota
	// BlockStateAwaitingResponse waits for the card's answer.
	BlockStateAwaitingResponse
	// BlockStateComplete is a successful exchange.
	BlockStateComplete
	// BlockStateChaining waits for the continuation of a chained answer.
	BlockStateChaining
	// BlockStateExtensionRequested is entered when the card asks for more time.
	BlockStateExtensionRequested
	// BlockStateFailed ends an exchange that returned -1.
	BlockStateFailed
)

func (s BlockState) String() string {
	switch s {
	case BlockStateIdle:
		return "Idle"
	case BlockStateAwaitingResponse:
		return "AwaitingResponse"
	case BlockStateComplete:
		return "Complete"
	case BlockStateChaining:
		return "Chaining"
	case BlockStateExtensionRequested:
		return "ExtensionRequested"
	case BlockStateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("BlockState(%d)", int(s))
	}
}

// Transceive exchanges one frame with a target and copies the answer into
// in, returning its length. On failure the length is -1 and the error says
// why; the target stays registered either way.
//
// Target 0 is the Type A card selected by ListenTypeA. The frame is sent as
// is, except that Mifare authentication frames {0x60|0x61, block, key[6],
// uid[4]} go through the MIFARE_AUTHENTICATE command and return 0.
//
// Targets 1 to 14 are Type B cards activated by ListenTypeB. The payload is
// wrapped in an I-block and the answer is unwrapped, including one chained
// continuation. An empty payload goes out as a bare I-block.
func (d *Device) Transceive(targetNumber byte, out, in []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if targetNumber == 0 {
		return d.transceiveTypeA(out, in)
	}

	target, ok := d.targets.Get(targetNumber)
	if !ok {
		return -1, fmt.Errorf("%w: %d", ErrTargetNotFound, targetNumber)
	}
	return d.transceiveBlock(target, out, in)
}

func (d *Device) transceiveTypeA(out, in []byte) (int, error) {
	if len(out) == 0 {
		panicArgument("Transceive", "empty frame for target 0")
	}
	if out[0] == MifareAuthKeyA || out[0] == MifareAuthKeyB {
		if len(out) < mifareAuthFrameLength {
			panicArgument("Transceive", "Mifare authentication frame of %d bytes, want %d",
				len(out), mifareAuthFrameLength)
		}
		var key [6]byte
		var uid [4]byte
		copy(key[:], out[2:8])
		copy(uid[:], out[8:12])

		ok, err := d.mifareAuthenticate(key, out[0], out[1], uid)
		if err != nil {
			return -1, err
		}
		if !ok {
			return -1, ErrAuthFailed
		}
		return 0, nil
	}

	n, err := d.exchange(out, in, d.config.TypeATimeout)
	if err != nil {
		return -1, err
	}
	return n, nil
}

// blockExchange carries the state of one I-block exchange with a target.
type blockExchange struct {
	device  *Device
	target  *CardTarget
	buf     []byte
	timeout time.Duration
	state   BlockState
	retries int
}

func (x *blockExchange) enter(state BlockState) {
	Debugf("Target %d block state %v -> %v", x.target.Number, x.state, state)
	x.state = state
}

func (x *blockExchange) fail(err error) (int, error) {
	x.enter(BlockStateFailed)
	return -1, err
}

func (d *Device) transceiveBlock(target *CardTarget, out, in []byte) (int, error) {
	if len(out)+2 > MaxSendDataLength {
		panicArgument("Transceive", "%d byte payload exceeds %d", len(out), MaxSendDataLength-2)
	}

	x := &blockExchange{
		device:  d,
		target:  target,
		buf:     make([]byte, MaxReadDataLength),
		timeout: target.blockTimeout(),
		state:   BlockStateIdle,
	}

	if err := d.setCRC(true); err != nil {
		return x.fail(err)
	}

	mark := target.LastBlockMark
	frame := make([]byte, 0, 2+len(out))
	frame = append(frame, iso14443.IBlock(mark, false), target.Number)
	frame = append(frame, out...)
	if err := d.sendData(frame, 8); err != nil {
		return x.fail(err)
	}
	x.enter(BlockStateAwaitingResponse)

	resp, err := x.await([]byte{iso14443.RBlock(mark, true), target.Number})
	if err != nil {
		return x.fail(err)
	}

	block := iso14443.DecodePCB(resp[0])
	if block.Mark != mark || (block.Kind != iso14443.BlockI && block.Kind != iso14443.BlockIChained) {
		return x.fail(fmt.Errorf("%w: %v with block number %t", ErrUnexpectedBlock, block.Kind, block.Mark))
	}

	n := copy(in, resp[2:])
	if n < len(resp)-2 {
		return x.fail(fmt.Errorf("%w: answer of %d bytes, buffer holds %d", ErrDataTooLarge, len(resp)-2, len(in)))
	}
	target.toggleMark()

	if block.Kind == iso14443.BlockI {
		x.enter(BlockStateComplete)
		return n, nil
	}

	x.enter(BlockStateChaining)
	mark = target.LastBlockMark
	ack := []byte{iso14443.RBlock(mark, false), target.Number}
	if err := d.sendData(ack, 8); err != nil {
		return x.fail(err)
	}

	resp, err = x.await(ack)
	if err != nil {
		return x.fail(err)
	}

	block = iso14443.DecodePCB(resp[0])
	switch {
	case block.Kind == iso14443.BlockIChained:
		return x.fail(ErrChainTooLong)
	case block.Kind != iso14443.BlockI || block.Mark != mark:
		return x.fail(fmt.Errorf("%w: %v with block number %t in chain", ErrUnexpectedBlock, block.Kind, block.Mark))
	}

	m := copy(in[n:], resp[2:])
	if m < len(resp)-2 {
		return x.fail(fmt.Errorf("%w: chained answer exceeds buffer of %d bytes", ErrDataTooLarge, len(in)))
	}
	target.toggleMark()
	x.enter(BlockStateComplete)
	return n + m, nil
}

// await reads the next block addressed to the target. Silence is answered
// with retry and a waiting time extension request is granted; both draw on
// the same retry budget.
func (x *blockExchange) await(retry []byte) ([]byte, error) {
	d := x.device
	cid := x.target.Number

	for {
		n, err := d.readWithTimeout(x.buf, x.timeout)
		if err != nil {
			return nil, err
		}

		if n == 0 {
			if x.retries >= d.config.BlockRetries {
				return nil, fmt.Errorf("%w: target %d after %d retries", ErrRetriesExhausted, cid, x.retries)
			}
			x.retries++
			Debugf("Target %d silent, retry %d", cid, x.retries)
			if err := d.sendData(retry, 8); err != nil {
				return nil, err
			}
			continue
		}

		resp := x.buf[:n]
		if n < 2 {
			return nil, fmt.Errorf("%w: %d byte", ErrShortBlock, n)
		}
		if resp[1] != cid {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrTargetMismatch, resp[1], cid)
		}

		if resp[0] == iso14443.PCBSBlockWTX {
			if x.retries >= d.config.BlockRetries {
				return nil, fmt.Errorf("%w: target %d after %d retries", ErrRetriesExhausted, cid, x.retries)
			}
			x.retries++
			previous := x.state
			x.enter(BlockStateExtensionRequested)

			var wtxm byte
			if n > 2 {
				wtxm = resp[2]
			}
			if err := d.sendData([]byte{iso14443.PCBSBlockWTX, cid, wtxm}, 8); err != nil {
				return nil, err
			}
			x.enter(previous)
			continue
		}

		return resp, nil
	}
}
