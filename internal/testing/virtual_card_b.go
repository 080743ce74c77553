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

package testing

import (
	"bytes"

	"github.com/ZaparooProject/go-pn5180/iso14443"
)

type typeBState int

const (
	typeBIdle typeBState = iota
	typeBReady
	typeBActive
	typeBHalt
)

// VirtualTypeBCard simulates an ISO/IEC 14443-4 Type B card: WUPB, ATTRIB,
// I-block exchange with optional chaining and waiting time extensions,
// R-block handling and S(DESELECT).
type VirtualTypeBCard struct {
	// Handler answers an APDU. The default echoes it followed by 90 00.
	Handler func(apdu []byte) []byte
	// Tamper rewrites every block the card sends once active.
	Tamper func(block []byte) []byte

	lastBlock []byte
	held      []byte
	pending   [][]byte
	received  [][]byte

	// ChainSplit splits answers into I-blocks of at most ChainSplit payload
	// bytes. 0 never chains.
	ChainSplit int
	// WTXRounds is the number of S(WTX) requests sent before each answer.
	WTXRounds int

	dropResponses int
	wtxLeft       int
	deselects     int
	state         typeBState

	PUPI            [4]byte
	ApplicationData [4]byte
	ProtocolInfo    [3]byte
	// MBLI is placed in the high nibble of the ATTRIB answer.
	MBLI byte
	// WTXM is the multiplier carried by S(WTX) requests.
	WTXM byte
	// RejectAttrib answers ATTRIB with a different CID.
	RejectAttrib bool
	// Silent makes the card ignore every frame.
	Silent bool

	cid         byte
	blockNumber bool
}

// NewVirtualTypeBCard creates a card with the given PUPI that supports the
// block protocol with CID, a 256-byte frame size and FWI 4.
func NewVirtualTypeBCard(pupi [4]byte) *VirtualTypeBCard {
	return &VirtualTypeBCard{
		PUPI:            pupi,
		ApplicationData: [4]byte{0x00, 0x00, 0x00, 0x00},
		ProtocolInfo:    [3]byte{0x00, 0x81, 0x41},
		WTXM:            0x01,
	}
}

// ATQB returns the answer the card gives to WUPB, without CRC.
func (c *VirtualTypeBCard) ATQB() []byte {
	out := make([]byte, 0, iso14443.ATQBLength)
	out = append(out, iso14443.ATQBHeader)
	out = append(out, c.PUPI[:]...)
	out = append(out, c.ApplicationData[:]...)
	return append(out, c.ProtocolInfo[:]...)
}

// Active reports whether the card accepted ATTRIB and was not deselected.
func (c *VirtualTypeBCard) Active() bool {
	return c.state == typeBActive
}

// CID returns the card identifier assigned by the last ATTRIB.
func (c *VirtualTypeBCard) CID() byte {
	return c.cid
}

// DropResponses makes the card lose its next n answers after processing
// the frames that caused them.
func (c *VirtualTypeBCard) DropResponses(n int) {
	c.dropResponses = n
}

// Received returns the APDUs the card has seen.
func (c *VirtualTypeBCard) Received() [][]byte {
	return append([][]byte(nil), c.received...)
}

// Deselects returns how many S(DESELECT) blocks the card answered.
func (c *VirtualTypeBCard) Deselects() int {
	return c.deselects
}

func (*VirtualTypeBCard) protocol() Protocol {
	return ProtocolB
}

func (*VirtualTypeBCard) authenticate([6]byte, byte, byte, [4]byte) byte {
	return mifareAuthTimeout
}

func (c *VirtualTypeBCard) powerOff() {
	c.state = typeBIdle
	c.cid = 0
	c.blockNumber = false
	c.lastBlock = nil
	c.held = nil
	c.pending = nil
	c.wtxLeft = 0
}

func (c *VirtualTypeBCard) receive(frame []byte, _ int) []byte {
	if c.Silent {
		return nil
	}
	payload, ok := checkCRCB(frame)
	if !ok || len(payload) == 0 {
		return nil
	}

	switch {
	case payload[0] == iso14443.CmdWUPB:
		return c.receiveWUPB(payload)
	case payload[0] == iso14443.CmdATTRIB:
		return c.receiveATTRIB(payload)
	case c.state == typeBActive:
		return c.receiveBlock(payload)
	}
	return nil
}

func (c *VirtualTypeBCard) receiveWUPB(payload []byte) []byte {
	if !bytes.Equal(payload, iso14443.WUPB()) || c.state == typeBActive {
		return nil
	}
	c.state = typeBReady
	return iso14443.AppendCRCB(c.ATQB())
}

func (c *VirtualTypeBCard) receiveATTRIB(payload []byte) []byte {
	if len(payload) != 9 || !bytes.Equal(payload[1:5], c.PUPI[:]) {
		return nil
	}
	if c.state != typeBReady && c.state != typeBHalt {
		return nil
	}

	cid := payload[8] & 0x0F
	if c.RejectAttrib {
		return iso14443.AppendCRCB([]byte{c.MBLI<<4 | (cid+1)&0x0F})
	}

	c.state = typeBActive
	c.cid = cid
	c.blockNumber = true
	c.lastBlock = nil
	return iso14443.AppendCRCB([]byte{c.MBLI<<4 | cid})
}

func (c *VirtualTypeBCard) receiveBlock(payload []byte) []byte {
	if len(payload) < 2 || payload[1] != c.cid {
		return nil
	}

	block := iso14443.DecodePCB(payload[0])
	switch block.Kind {
	case iso14443.BlockI:
		c.blockNumber = block.Mark
		apdu := append([]byte(nil), payload[2:]...)
		c.received = append(c.received, apdu)
		c.queueAnswer(c.answer(apdu))
		c.wtxLeft = c.WTXRounds
		return c.next()

	case iso14443.BlockSWTX:
		if c.held == nil {
			return nil
		}
		return c.next()

	case iso14443.BlockRNAK:
		if block.Mark == c.blockNumber && c.lastBlock != nil {
			return c.send(c.lastBlock)
		}
		return c.send([]byte{iso14443.RBlock(c.blockNumber, false), c.cid})

	case iso14443.BlockRACK:
		if block.Mark == c.blockNumber {
			if c.lastBlock == nil {
				return nil
			}
			return c.send(c.lastBlock)
		}
		c.blockNumber = block.Mark
		if len(c.pending) == 0 {
			return c.send([]byte{iso14443.RBlock(c.blockNumber, false), c.cid})
		}
		c.held = c.nextChunk()
		return c.next()

	case iso14443.BlockSDeselect:
		c.state = typeBHalt
		c.deselects++
		return c.send([]byte{iso14443.PCBSBlockDeselect, c.cid})
	}
	return nil
}

func (c *VirtualTypeBCard) answer(apdu []byte) []byte {
	if c.Handler != nil {
		return c.Handler(apdu)
	}
	return append(append([]byte(nil), apdu...), 0x90, 0x00)
}

// queueAnswer splits an answer into chunks and holds the first one.
func (c *VirtualTypeBCard) queueAnswer(answer []byte) {
	c.pending = nil
	if c.ChainSplit <= 0 || len(answer) <= c.ChainSplit {
		c.pending = append(c.pending, answer)
	} else {
		for len(answer) > c.ChainSplit {
			c.pending = append(c.pending, answer[:c.ChainSplit])
			answer = answer[c.ChainSplit:]
		}
		c.pending = append(c.pending, answer)
	}
	c.held = c.nextChunk()
}

// nextChunk builds the I-block for the next pending chunk.
func (c *VirtualTypeBCard) nextChunk() []byte {
	chunk := c.pending[0]
	c.pending = c.pending[1:]
	out := make([]byte, 0, 2+len(chunk))
	out = append(out, iso14443.IBlock(c.blockNumber, len(c.pending) > 0), c.cid)
	return append(out, chunk...)
}

// next sends a pending S(WTX) request or the held I-block.
func (c *VirtualTypeBCard) next() []byte {
	if c.wtxLeft > 0 {
		c.wtxLeft--
		return c.send([]byte{iso14443.PCBSBlockWTX, c.cid, c.WTXM})
	}
	block := c.held
	c.held = nil
	return c.send(block)
}

// send records block as the last one sent and returns it on the air, unless
// the answer is to be lost.
func (c *VirtualTypeBCard) send(block []byte) []byte {
	c.lastBlock = block
	if c.Tamper != nil {
		block = c.Tamper(append([]byte(nil), block...))
	}
	if c.dropResponses > 0 {
		c.dropResponses--
		return nil
	}
	return iso14443.AppendCRCB(append([]byte(nil), block...))
}

func checkCRCB(frame []byte) ([]byte, bool) {
	if len(frame) < iso14443.CRCSize {
		return nil, false
	}
	payload := frame[:len(frame)-iso14443.CRCSize]
	crc := iso14443.CRCB(payload)
	return payload, frame[len(frame)-2] == crc[0] && frame[len(frame)-1] == crc[1]
}
