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

package iso14443

import (
	"errors"
	"fmt"
	"time"
)

// Type B commands and parameters (ISO/IEC 14443-3 clause 7).
const (
	// CmdWUPB is the APf byte of REQB/WUPB.
	CmdWUPB byte = 0x05
	// AFIAll selects every application family.
	AFIAll byte = 0x00
	// ParamWUPB is the PARAM byte of WUPB: wake-up with N=1 slot.
	ParamWUPB byte = 0x08
	// CmdATTRIB starts an ATTRIB command.
	CmdATTRIB byte = 0x1D
	// ATTRIBParam1 uses default TR0/TR1 and keeps SOF/EOF.
	ATTRIBParam1 byte = 0x00
	// ATTRIBParam2 selects 106 kbit/s both ways and a 256-byte max frame.
	ATTRIBParam2 byte = 0x08
	// ATTRIBParam3 announces ISO/IEC 14443-4 compliance.
	ATTRIBParam3 byte = 0x01

	// ATQBLength is the size of an ATQB without its CRC.
	ATQBLength = 12
	// ATQBHeader is the first byte of every ATQB.
	ATQBHeader byte = 0x50
)

// ErrInvalidATQB is returned by ParseATQB for frames that are not an ATQB.
var ErrInvalidATQB = errors.New("invalid ATQB")

// fwtUnit is 256*16/fc with fc = 13.56 MHz.
const fwtUnit = 4096 * time.Second / 13_560_000

// fwiDefault replaces the RFU frame waiting integer 15.
const fwiDefault = 4

// ATQB is a parsed Answer To reQuest Type B.
type ATQB struct {
	Raw             [ATQBLength]byte
	PUPI            [4]byte
	ApplicationData [4]byte
	ProtocolInfo    [3]byte
}

// ParseATQB parses the 12 bytes of an ATQB as returned by the front-end with
// the CRC already stripped.
func ParseATQB(raw []byte) (ATQB, error) {
	var atqb ATQB
	if len(raw) != ATQBLength {
		return atqb, fmt.Errorf("%w: length %d, want %d", ErrInvalidATQB, len(raw), ATQBLength)
	}
	if raw[0] != ATQBHeader {
		return atqb, fmt.Errorf("%w: header 0x%02X", ErrInvalidATQB, raw[0])
	}
	copy(atqb.Raw[:], raw)
	copy(atqb.PUPI[:], raw[1:5])
	copy(atqb.ApplicationData[:], raw[5:9])
	copy(atqb.ProtocolInfo[:], raw[9:12])
	return atqb, nil
}

// BitRates returns the bit rate capability byte.
func (a ATQB) BitRates() byte {
	return a.ProtocolInfo[0]
}

// MaxFrameSize returns the maximum frame size the card accepts, in bytes.
func (a ATQB) MaxFrameSize() int {
	sizes := [...]int{16, 24, 32, 40, 48, 64, 96, 128, 256}
	code := int(a.ProtocolInfo[1] >> 4)
	if code >= len(sizes) {
		return 256
	}
	return sizes[code]
}

// SupportsISO14443_4 reports whether the card speaks the block protocol.
//
//nolint:revive // Standard name
func (a ATQB) SupportsISO14443_4() bool {
	return a.ProtocolInfo[1]&0x01 != 0
}

// FWI returns the frame waiting integer, with the RFU value 15 mapped to 4.
func (a ATQB) FWI() int {
	fwi := int(a.ProtocolInfo[2] >> 4)
	if fwi == 15 {
		return fwiDefault
	}
	return fwi
}

// FrameWaitingTime returns the maximum time the card may take to answer.
func (a ATQB) FrameWaitingTime() time.Duration {
	return FrameWaitingTime(a.FWI())
}

// FrameWaitingTime computes FWT = (256*16/fc) * 2^FWI.
func FrameWaitingTime(fwi int) time.Duration {
	if fwi < 0 || fwi > 14 {
		fwi = fwiDefault
	}
	return fwtUnit << fwi
}

// ATTRIB builds an ATTRIB command for the given PUPI and CID.
func ATTRIB(pupi [4]byte, cid byte) []byte {
	return []byte{
		CmdATTRIB,
		pupi[0], pupi[1], pupi[2], pupi[3],
		ATTRIBParam1,
		ATTRIBParam2,
		ATTRIBParam3,
		cid,
	}
}

// WUPB returns the wake-up command addressing every card.
func WUPB() []byte {
	return []byte{CmdWUPB, AFIAll, ParamWUPB}
}
