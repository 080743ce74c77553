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
	"context"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-pn5180/iso14443"
)

// TypeACard is a Type A card resolved through the anticollision cascade.
type TypeACard struct {
	UID  []byte
	ATQA [2]byte
	SAK  byte
}

// TargetNumber is always 0: Type A cards are not registered and raw
// exchanges go to whichever card is selected.
func (*TypeACard) TargetNumber() byte {
	return 0
}

// UIDHex returns the UID as an uppercase hex string.
func (c *TypeACard) UIDHex() string {
	return fmt.Sprintf("%X", c.UID)
}

// ListenTypeA polls for a Type A card for up to pollTimeout and resolves
// its UID. No card answering is (nil, false, nil). A card that answers
// outside the cascade rules yields false and an error wrapping
// ErrProtocolMismatch.
func (d *Device) ListenTypeA(ctx context.Context, cfg RFConfig, pollTimeout time.Duration) (*TypeACard, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.prepareField(cfg); err != nil {
		return nil, false, err
	}

	atqa, found, err := d.requestTypeA(ctx, pollTimeout)
	if err != nil || !found {
		return nil, false, err
	}

	card, err := d.resolveCascade(atqa)
	if err != nil {
		Debugf("Type A cascade failed after ATQA %02X: %v", atqa, err)
		return nil, false, err
	}

	Debugf("Type A card UID=%X ATQA=%02X SAK=%02X", card.UID, card.ATQA, card.SAK)
	return card, true, nil
}

// prepareField loads the protocol RF configuration and switches the field on.
func (d *Device) prepareField(cfg RFConfig) error {
	if err := d.loadRFConfig(cfg); err != nil {
		return fmt.Errorf("load RF config: %w", err)
	}
	if err := d.rfOn(); err != nil {
		return fmt.Errorf("RF on: %w", err)
	}
	return nil
}

// requestTypeA repeats REQA until an ATQA arrives or pollTimeout elapses.
func (d *Device) requestTypeA(ctx context.Context, pollTimeout time.Duration) ([2]byte, bool, error) {
	var atqa [2]byte
	if err := d.setCRC(false); err != nil {
		return atqa, false, err
	}

	deadline := time.Now().Add(pollTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return atqa, false, err
		}

		if err := d.sendData([]byte{iso14443.CmdREQA}, iso14443.ShortFrameBits); err != nil {
			return atqa, false, fmt.Errorf("send REQA: %w", err)
		}
		n, err := d.readWithTimeout(atqa[:], d.config.DiscoveryFrameTimeout)
		if err != nil {
			return atqa, false, fmt.Errorf("read ATQA: %w", err)
		}
		if n == iso14443.ATQALength {
			return atqa, true, nil
		}

		if !time.Now().Before(deadline) {
			return atqa, false, nil
		}
	}
}

// resolveCascade runs anticollision and select over up to three cascade
// levels.
func (d *Device) resolveCascade(atqa [2]byte) (*TypeACard, error) {
	card := &TypeACard{ATQA: atqa}
	uid := make([]byte, 0, 10)

	for level := range iso14443.MaxCascadeLevels {
		cln, sak, err := d.selectCascadeLevel(level)
		if err != nil {
			return nil, err
		}
		card.SAK = sak

		complete := sak&iso14443.SAKCascadeBit == 0
		switch {
		case level == 0 && complete,
			level == 1 && (iso14443.ATQADoubleUID(atqa) || complete),
			level == 2:
			card.UID = append(uid, cln[:4]...)
			return card, nil
		}

		if cln[0] != iso14443.CascadeTag {
			return nil, fmt.Errorf("%w: level %d starts with 0x%02X", ErrMalformedCascade, level+1, cln[0])
		}
		uid = append(uid, cln[1:4]...)
	}

	// Unreachable: level 2 always terminates.
	return nil, ErrMalformedCascade
}

// selectCascadeLevel performs anticollision and select for one level and
// returns the UID CLn with its BCC and the SAK.
func (d *Device) selectCascadeLevel(level int) ([iso14443.UIDCLnLength]byte, byte, error) {
	var cln [iso14443.UIDCLnLength]byte
	sel := iso14443.SelectCode(level)

	if err := d.setCRC(false); err != nil {
		return cln, 0, err
	}
	if err := d.sendData([]byte{sel, iso14443.NVBAnticollision}, 8); err != nil {
		return cln, 0, fmt.Errorf("send anticollision CL%d: %w", level+1, err)
	}
	n, err := d.readWithTimeout(cln[:], d.config.DiscoveryFrameTimeout)
	if err != nil {
		return cln, 0, fmt.Errorf("read anticollision CL%d: %w", level+1, err)
	}
	if n != iso14443.UIDCLnLength {
		return cln, 0, fmt.Errorf("%w: anticollision CL%d answered %d bytes", ErrMalformedCascade, level+1, n)
	}
	if iso14443.BCC(cln[:4]) != cln[4] {
		return cln, 0, fmt.Errorf("%w: BCC mismatch at CL%d", ErrMalformedCascade, level+1)
	}

	if err := d.setCRC(true); err != nil {
		return cln, 0, err
	}
	selectCmd := make([]byte, 0, 2+iso14443.UIDCLnLength)
	selectCmd = append(selectCmd, sel, iso14443.NVBSelect)
	selectCmd = append(selectCmd, cln[:]...)
	if err := d.sendData(selectCmd, 8); err != nil {
		return cln, 0, fmt.Errorf("send select CL%d: %w", level+1, err)
	}

	var sak [1]byte
	n, err = d.readWithTimeout(sak[:], d.config.DiscoveryFrameTimeout)
	if err != nil {
		return cln, 0, fmt.Errorf("read SAK CL%d: %w", level+1, err)
	}
	if n != 1 {
		return cln, 0, fmt.Errorf("%w: no SAK at CL%d", ErrMalformedCascade, level+1)
	}
	return cln, sak[0], nil
}
