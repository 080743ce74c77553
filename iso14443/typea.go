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

// Type A short frames and anticollision parameters (ISO/IEC 14443-3 clause 6).
const (
	// CmdREQA is the request command, sent as a 7-bit short frame.
	CmdREQA byte = 0x26
	// CmdWUPA is the wake-up command, sent as a 7-bit short frame.
	CmdWUPA byte = 0x52
	// ShortFrameBits is the number of valid bits in REQA/WUPA.
	ShortFrameBits = 7

	// SelCL1 is the select code of cascade level 1; levels 2 and 3 follow
	// in steps of two (0x95, 0x97).
	SelCL1 byte = 0x93
	// NVBAnticollision asks for the whole UID CLn plus BCC.
	NVBAnticollision byte = 0x20
	// NVBSelect carries the full UID CLn plus BCC.
	NVBSelect byte = 0x70
	// CascadeTag marks an incomplete UID CLn.
	CascadeTag byte = 0x88
	// SAKCascadeBit is set in SAK while the UID is not complete.
	SAKCascadeBit byte = 0x04

	// MaxCascadeLevels is the number of cascade levels a UID can span.
	MaxCascadeLevels = 3
	// ATQALength is the size of an ATQA.
	ATQALength = 2
	// UIDCLnLength is the size of an anticollision answer: 4 UID bytes and BCC.
	UIDCLnLength = 5

	atqaUIDSizeMask   byte = 0xC0
	atqaUIDSizeDouble byte = 0x40
	atqaUIDSizeTriple byte = 0x80
)

// SelectCode returns the SEL byte for cascade level 0, 1 or 2.
func SelectCode(level int) byte {
	return SelCL1 + byte(2*level)
}

// ATQADoubleUID reports whether the ATQA announces a 7-byte UID.
func ATQADoubleUID(atqa [2]byte) bool {
	return atqa[0]&atqaUIDSizeMask == atqaUIDSizeDouble
}

// ATQATripleUID reports whether the ATQA announces a 10-byte UID.
func ATQATripleUID(atqa [2]byte) bool {
	return atqa[0]&atqaUIDSizeMask == atqaUIDSizeTriple
}

// BCC is the exclusive-or check byte following the 4 bytes of a UID CLn.
func BCC(cln []byte) byte {
	var bcc byte
	for _, b := range cln {
		bcc ^= b
	}
	return bcc
}
