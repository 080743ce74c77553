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

// TypeBCard is a Type B card answering WUPB. Selected reports whether ATTRIB
// succeeded; only selected cards are registered and may be used with
// Transceive.
type TypeBCard struct {
	ATQB             [12]byte
	FrameWaitingTime time.Duration
	UID              [4]byte
	ApplicationData  [4]byte
	ProtocolInfo     [3]byte
	TargetNumber     byte
	Selected         bool
}

// UIDHex returns the PUPI as an uppercase hex string.
func (c *TypeBCard) UIDHex() string {
	return fmt.Sprintf("%X", c.UID)
}

// ListenTypeB drops registered targets that no longer answer, then polls
// for a new Type B card for up to pollTimeout and activates it under the
// lowest free target number. No card answering is (nil, false, nil). A card
// that rejects ATTRIB is returned with Selected false and is not registered.
func (d *Device) ListenTypeB(ctx context.Context, cfg RFConfig, pollTimeout time.Duration) (*TypeBCard, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.prepareField(cfg); err != nil {
		return nil, false, err
	}
	if err := d.setCRC(true); err != nil {
		return nil, false, err
	}
	if err := d.pruneTargets(); err != nil {
		return nil, false, err
	}

	number, err := d.targets.Allocate()
	if err != nil {
		return nil, false, err
	}

	atqb, found, err := d.wakeUpTypeB(ctx, pollTimeout)
	if err != nil || !found {
		return nil, false, err
	}

	card := &TypeBCard{
		ATQB:             atqb.Raw,
		FrameWaitingTime: atqb.FrameWaitingTime(),
		UID:              atqb.PUPI,
		ApplicationData:  atqb.ApplicationData,
		ProtocolInfo:     atqb.ProtocolInfo,
		TargetNumber:     number,
	}

	selected, err := d.attrib(atqb.PUPI, number, card.FrameWaitingTime)
	if err != nil {
		return nil, false, err
	}
	if !selected {
		Debugf("Type B card %X rejected ATTRIB for target %d", card.UID, number)
		return card, true, nil
	}

	card.Selected = true
	if err := d.targets.Add(&CardTarget{
		Number:           number,
		UID:              card.UID,
		ATQB:             card.ATQB,
		FrameWaitingTime: card.FrameWaitingTime,
	}); err != nil {
		return nil, false, err
	}

	Debugf("Type B card %X active as target %d (FWT %v)", card.UID, number, card.FrameWaitingTime)
	return card, true, nil
}

// pruneTargets probes every registered target and removes the silent ones.
func (d *Device) pruneTargets() error {
	var probeErr error
	removed := d.targets.Prune(func(target *CardTarget) bool {
		if probeErr != nil {
			return true
		}
		alive, err := d.probeTarget(target)
		if err != nil {
			probeErr = err
			return true
		}
		return alive
	})
	for _, n := range removed {
		Debugf("Target %d did not answer keep-alive, removed", n)
	}
	return probeErr
}

// probeTarget sends R(NAK) with the current block number. A card still in
// the field answers R(ACK) carrying its own block number, which is the
// opposite one.
func (d *Device) probeTarget(target *CardTarget) (bool, error) {
	mark := target.LastBlockMark
	var resp [2]byte
	n, err := d.exchange([]byte{iso14443.RBlock(mark, true), target.Number}, resp[:], target.blockTimeout())
	if err != nil {
		return false, fmt.Errorf("keep-alive target %d: %w", target.Number, err)
	}
	return n == 2 && resp[0] == iso14443.RBlock(!mark, false) && resp[1] == target.Number, nil
}

// wakeUpTypeB repeats WUPB until a valid ATQB arrives or pollTimeout elapses.
func (d *Device) wakeUpTypeB(ctx context.Context, pollTimeout time.Duration) (iso14443.ATQB, bool, error) {
	var raw [iso14443.ATQBLength]byte
	deadline := time.Now().Add(pollTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return iso14443.ATQB{}, false, err
		}

		n, err := d.exchange(iso14443.WUPB(), raw[:], d.config.DiscoveryFrameTimeout)
		if err != nil {
			return iso14443.ATQB{}, false, fmt.Errorf("WUPB: %w", err)
		}
		if n == iso14443.ATQBLength {
			atqb, err := iso14443.ParseATQB(raw[:])
			if err == nil {
				return atqb, true, nil
			}
			Debugf("Ignoring answer to WUPB: %v", err)
		}

		if !time.Now().Before(deadline) {
			return iso14443.ATQB{}, false, nil
		}
	}
}

// attrib selects the card with the given PUPI under cid. The low nibble of
// the answer must echo cid; the high nibble is the card's MBLI.
func (d *Device) attrib(pupi [4]byte, cid byte, fwt time.Duration) (bool, error) {
	timeout := max(fwt.Truncate(time.Millisecond), d.config.DiscoveryFrameTimeout)
	var resp [1]byte
	n, err := d.exchange(iso14443.ATTRIB(pupi, cid), resp[:], timeout)
	if err != nil {
		return false, fmt.Errorf("ATTRIB: %w", err)
	}
	return n == 1 && resp[0]&0x0F == cid, nil
}

// deselect sends S(DESELECT) and reports whether the card echoed it.
func (d *Device) deselect(target *CardTarget) (bool, error) {
	var resp [2]byte
	n, err := d.exchange([]byte{iso14443.PCBSBlockDeselect, target.Number}, resp[:], target.blockTimeout())
	if err != nil {
		return false, fmt.Errorf("deselect target %d: %w", target.Number, err)
	}
	return n == 2 && resp[0] == iso14443.PCBSBlockDeselect && resp[1] == target.Number, nil
}

// DeselectTypeB puts the card into HALT. The target leaves the registry
// whether or not the card acknowledged.
func (d *Device) DeselectTypeB(card *TypeBCard) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	target, ok := d.targets.Get(card.TargetNumber)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrTargetNotFound, card.TargetNumber)
	}
	defer d.targets.Remove(target.Number)

	if err := d.setCRC(true); err != nil {
		return false, err
	}
	acked, err := d.deselect(target)
	if err != nil {
		return false, err
	}
	card.Selected = false
	return acked, nil
}

// ReselectTarget deselects target n and activates it again with its stored
// PUPI, resetting the block number. A rejected ATTRIB removes the target.
// Transport errors leave the target registered so the call can be retried.
// Target 0 cannot be reselected: Type A cards need a new ListenTypeA.
func (d *Device) ReselectTarget(n byte) (bool, error) {
	if n == 0 {
		return false, fmt.Errorf("%w: reselect of target 0", ErrNotSupported)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	target, ok := d.targets.Get(n)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrTargetNotFound, n)
	}

	if err := d.setCRC(true); err != nil {
		return false, err
	}
	if _, err := d.deselect(target); err != nil {
		return false, err
	}

	selected, err := d.attrib(target.UID, n, target.FrameWaitingTime)
	if err != nil {
		return false, err
	}
	if !selected {
		d.targets.Remove(n)
		Debugf("Reselect of target %d rejected, removed", n)
		return false, nil
	}

	target.LastBlockMark = false
	return true, nil
}

// Targets returns a snapshot of the active Type B targets.
func (d *Device) Targets() []CardTarget {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.targets.Targets()
}
