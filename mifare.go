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

import "fmt"

// MIFARE_AUTHENTICATE status bytes.
const (
	mifareAuthOK      byte = 0x00
	mifareAuthFailed  byte = 0x01
	mifareAuthTimeout byte = 0x02
)

// MifareAuthenticate runs the Crypto1 authentication for block with key A
// (MifareAuthKeyA) or key B (MifareAuthKeyB). A wrong key is (false, nil).
func (d *Device) MifareAuthenticate(key [6]byte, keyType, block byte, uid [4]byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mifareAuthenticate(key, keyType, block, uid)
}

func (d *Device) mifareAuthenticate(key [6]byte, keyType, block byte, uid [4]byte) (bool, error) {
	if keyType != MifareAuthKeyA && keyType != MifareAuthKeyB {
		panicArgument("MifareAuthenticate", "key type 0x%02X", keyType)
	}

	cmd := make([]byte, 0, 13)
	cmd = append(cmd, cmdMifareAuthenticate)
	cmd = append(cmd, key[:]...)
	cmd = append(cmd, keyType, block)
	cmd = append(cmd, uid[:]...)

	var status [1]byte
	if err := d.transport.Transfer(cmd, status[:]); err != nil {
		return false, fmt.Errorf("mifare authenticate block %d: %w", block, err)
	}

	switch status[0] {
	case mifareAuthOK:
		return true, nil
	case mifareAuthFailed:
		Debugf("Mifare authentication of block %d rejected", block)
		return false, nil
	case mifareAuthTimeout:
		return false, fmt.Errorf("%w: card did not answer for block %d", ErrAuthFailed, block)
	default:
		return false, fmt.Errorf("%w: authentication status 0x%02X", ErrProtocolMismatch, status[0])
	}
}
