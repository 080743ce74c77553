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

// Package iso14443 holds the pure, hardware independent parts of the
// ISO/IEC 14443-3 and 14443-4 protocols used by the PN5180 driver: the CRC
// engine, block control byte encoding, ATQB parsing and the anticollision
// constants.
package iso14443

import "fmt"

// CRC seeds from ISO/IEC 14443-3 Annex B.
const (
	crcSeedA uint16 = 0x6363
	crcSeedB uint16 = 0xFFFF
)

// CRCSize is the number of bytes a CRC occupies on the wire.
const CRCSize = 2

// crc16 is the CRC core shared by Type A and Type B.
func crc16(seed uint16, data []byte) uint16 {
	crc := seed
	for _, b := range data {
		x := b ^ byte(crc&0xFF)
		x ^= x << 4
		x16 := uint16(x)
		crc = (crc >> 8) ^ (x16 << 8) ^ (x16 << 3) ^ (x16 >> 4)
	}
	return crc
}

// CRCA computes the ISO/IEC 14443 Type A CRC. The result is little-endian,
// first byte on the wire first.
func CRCA(data []byte) [2]byte {
	crc := crc16(crcSeedA, data)
	return [2]byte{byte(crc), byte(crc >> 8)}
}

// CRCB computes the ISO/IEC 14443 Type B CRC (inverted output), little-endian.
func CRCB(data []byte) [2]byte {
	crc := ^crc16(crcSeedB, data)
	return [2]byte{byte(crc), byte(crc >> 8)}
}

// PutCRCA writes the Type A CRC of data into dst. dst must be exactly two
// bytes long; anything else is a programming error and panics.
func PutCRCA(dst, data []byte) {
	checkCRCBuffer("PutCRCA", dst)
	crc := CRCA(data)
	copy(dst, crc[:])
}

// PutCRCB writes the Type B CRC of data into dst, which must be two bytes.
func PutCRCB(dst, data []byte) {
	checkCRCBuffer("PutCRCB", dst)
	crc := CRCB(data)
	copy(dst, crc[:])
}

// AppendCRCA appends the Type A CRC of data to data.
func AppendCRCA(data []byte) []byte {
	crc := CRCA(data)
	return append(data, crc[0], crc[1])
}

// AppendCRCB appends the Type B CRC of data to data.
func AppendCRCB(data []byte) []byte {
	crc := CRCB(data)
	return append(data, crc[0], crc[1])
}

func checkCRCBuffer(op string, dst []byte) {
	if len(dst) != CRCSize {
		panic(fmt.Sprintf("iso14443: %s: CRC buffer must be %d bytes, got %d", op, CRCSize, len(dst)))
	}
}
