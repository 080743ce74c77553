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

// MIFARE_AUTHENTICATE status bytes.
const (
	mifareAuthOK      byte = 0x00
	mifareAuthFailed  byte = 0x01
	mifareAuthTimeout byte = 0x02
)

// Type A card commands beyond the anticollision set.
const (
	mifareCmdRead byte = 0x30
	cmdHLTA       byte = 0x50

	mifareKeyA         byte = 0x60
	mifareKeyB         byte = 0x61
	sakMifareClassic1K byte = 0x08

	mifareBlockSize       = 16
	mifare1KBlocks        = 64
	mifareBlocksPerSector = 4
)

type typeAState int

const (
	typeAIdle typeAState = iota
	typeAReady
	typeAActive
	typeAHalt
)

// VirtualTypeACard simulates a Type A card through REQA, the anticollision
// cascade and, once selected, Mifare Classic READ after authentication.
type VirtualTypeACard struct {
	UID    []byte
	Memory [][]byte
	KeyA   [6]byte
	KeyB   [6]byte
	ATQA   [2]byte
	SAK    byte
	// BadCascadeTag makes the card put 0x00 instead of the cascade tag in
	// front of an incomplete UID CLn.
	BadCascadeTag bool

	state         typeAState
	level         int
	authenticated int
}

// NewVirtualTypeACard creates a Mifare Classic 1K card with a 4, 7 or
// 10-byte UID and transport keys FF FF FF FF FF FF.
func NewVirtualTypeACard(uid []byte) *VirtualTypeACard {
	switch len(uid) {
	case 4, 7, 10:
	default:
		panic("virtual Type A card needs a 4, 7 or 10 byte UID")
	}

	card := &VirtualTypeACard{
		UID:           append([]byte(nil), uid...),
		ATQA:          [2]byte{0x04, 0x00},
		SAK:           sakMifareClassic1K,
		KeyA:          [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		KeyB:          [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		authenticated: -1,
	}
	switch len(uid) {
	case 7:
		card.ATQA[0] |= 0x40
	case 10:
		card.ATQA[0] |= 0x80
	}

	card.Memory = make([][]byte, mifare1KBlocks)
	for i := range card.Memory {
		card.Memory[i] = make([]byte, mifareBlockSize)
		card.Memory[i][0] = byte(i)
	}
	copy(card.Memory[0], uid)
	return card
}

// Selected reports whether the card completed the cascade.
func (c *VirtualTypeACard) Selected() bool {
	return c.state == typeAActive
}

func (*VirtualTypeACard) protocol() Protocol {
	return ProtocolA
}

func (c *VirtualTypeACard) powerOff() {
	c.state = typeAIdle
	c.level = 0
	c.authenticated = -1
}

// levels returns the number of cascade levels the UID spans.
func (c *VirtualTypeACard) levels() int {
	return map[int]int{4: 1, 7: 2, 10: 3}[len(c.UID)]
}

// cln returns the four UID bytes of a cascade level and their BCC.
func (c *VirtualTypeACard) cln(level int) []byte {
	var part []byte
	if level == c.levels()-1 {
		part = append(part, c.UID[3*level:3*level+4]...)
	} else {
		tag := iso14443.CascadeTag
		if c.BadCascadeTag {
			tag = 0x00
		}
		part = append(part, tag)
		part = append(part, c.UID[3*level:3*level+3]...)
	}
	return append(part, iso14443.BCC(part))
}

func (c *VirtualTypeACard) receive(frame []byte, validBits int) []byte {
	if validBits == iso14443.ShortFrameBits && len(frame) == 1 {
		return c.receiveShortFrame(frame[0])
	}

	switch c.state {
	case typeAReady:
		return c.receiveCascade(frame)
	case typeAActive:
		payload, ok := checkCRCA(frame)
		if !ok {
			return nil
		}
		return c.receiveActive(payload)
	default:
		return nil
	}
}

func (c *VirtualTypeACard) receiveShortFrame(cmd byte) []byte {
	switch {
	case cmd == iso14443.CmdREQA && c.state == typeAIdle,
		cmd == iso14443.CmdWUPA && (c.state == typeAIdle || c.state == typeAHalt):
		c.state = typeAReady
		c.level = 0
		return c.ATQA[:]
	}
	return nil
}

func (c *VirtualTypeACard) receiveCascade(frame []byte) []byte {
	if len(frame) < 2 || frame[0] != iso14443.SelectCode(c.level) {
		c.state = typeAIdle
		return nil
	}

	switch frame[1] {
	case iso14443.NVBAnticollision:
		if len(frame) != 2 {
			c.state = typeAIdle
			return nil
		}
		return c.cln(c.level)

	case iso14443.NVBSelect:
		payload, ok := checkCRCA(frame)
		if !ok || len(payload) != 7 || !bytes.Equal(payload[2:], c.cln(c.level)) {
			c.state = typeAIdle
			return nil
		}
		if c.level < c.levels()-1 {
			c.level++
			return iso14443.AppendCRCA([]byte{iso14443.SAKCascadeBit})
		}
		c.state = typeAActive
		return iso14443.AppendCRCA([]byte{c.SAK})
	}

	c.state = typeAIdle
	return nil
}

func (c *VirtualTypeACard) receiveActive(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}

	switch payload[0] {
	case cmdHLTA:
		c.state = typeAHalt
		c.authenticated = -1
		return nil

	case mifareCmdRead:
		if len(payload) != 2 || int(payload[1]) >= len(c.Memory) {
			return nil
		}
		block := int(payload[1])
		if c.authenticated != block/mifareBlocksPerSector {
			return nil
		}
		out := make([]byte, 0, mifareBlockSize+iso14443.CRCSize)
		out = append(out, c.Memory[block]...)
		return iso14443.AppendCRCA(out)
	}
	return nil
}

func (c *VirtualTypeACard) authenticate(key [6]byte, keyType, block byte, uid [4]byte) byte {
	if c.state != typeAActive || !bytes.Equal(uid[:], c.UID[len(c.UID)-4:]) {
		return mifareAuthTimeout
	}

	want := c.KeyA
	if keyType == mifareKeyB {
		want = c.KeyB
	}
	if keyType != mifareKeyA && keyType != mifareKeyB || key != want || int(block) >= len(c.Memory) {
		c.authenticated = -1
		return mifareAuthFailed
	}

	c.authenticated = int(block) / mifareBlocksPerSector
	return mifareAuthOK
}

func checkCRCA(frame []byte) ([]byte, bool) {
	if len(frame) < iso14443.CRCSize {
		return nil, false
	}
	payload := frame[:len(frame)-iso14443.CRCSize]
	crc := iso14443.CRCA(payload)
	return payload, frame[len(frame)-2] == crc[0] && frame[len(frame)-1] == crc[1]
}
