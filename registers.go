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
	"encoding/binary"
	"fmt"
)

// Host interface commands (PN5180 datasheet, section 11.4).
const (
	cmdWriteRegister        byte = 0x00
	cmdWriteRegisterOrMask  byte = 0x01
	cmdWriteRegisterAndMask byte = 0x02
	cmdReadRegister         byte = 0x04
	cmdWriteEEPROM          byte = 0x06
	cmdReadEEPROM           byte = 0x07
	cmdSendData             byte = 0x09
	cmdReadData             byte = 0x0A
	cmdMifareAuthenticate   byte = 0x0C
	cmdLoadRFConfig         byte = 0x11
	cmdRetrieveRFConfigSize byte = 0x13
	cmdRetrieveRFConfig     byte = 0x14
	cmdRFOn                 byte = 0x16
	cmdRFOff                byte = 0x17
)

// Register addresses.
const (
	RegSystemConfig      byte = 0x00
	RegIRQEnable         byte = 0x01
	RegIRQStatus         byte = 0x02
	RegIRQClear          byte = 0x03
	RegTransceiverConfig byte = 0x04
	RegCRCRxConfig       byte = 0x12
	RegRxStatus          byte = 0x13
	RegCRCTxConfig       byte = 0x19
	RegRFStatus          byte = 0x1D
	RegSystemStatus      byte = 0x24
)

// SYSTEM_CONFIG command field values.
const (
	systemCommandMask       uint32 = 0x00000007
	systemCommandTransceive uint32 = 0x00000003
	irqClearAll             uint32 = 0x000FFFFF
	crcEnableBit            uint32 = 0x00000001
)

// RegisterOp selects how WriteRegister combines the value with the register.
type RegisterOp byte

const (
	// RegisterWrite replaces the register content.
	RegisterWrite = RegisterOp(cmdWriteRegister)
	// RegisterOrMask sets the bits present in the value.
	RegisterOrMask = RegisterOp(cmdWriteRegisterOrMask)
	// RegisterAndMask clears the bits absent from the value.
	RegisterAndMask = RegisterOp(cmdWriteRegisterAndMask)
)

// String returns the command name of the operation.
func (op RegisterOp) String() string {
	switch op {
	case RegisterWrite:
		return "WRITE_REGISTER"
	case RegisterOrMask:
		return "WRITE_REGISTER_OR_MASK"
	case RegisterAndMask:
		return "WRITE_REGISTER_AND_MASK"
	default:
		return fmt.Sprintf("RegisterOp(0x%02X)", byte(op))
	}
}

// ReadRegister reads the four bytes of a register, least significant first.
func (d *Device) ReadRegister(addr byte) ([4]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegister(addr)
}

// WriteRegister writes, ORs or ANDs a register with value.
func (d *Device) WriteRegister(op RegisterOp, addr byte, value [4]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeRegister(op, addr, value)
}

func (d *Device) readRegister(addr byte) ([4]byte, error) {
	var value [4]byte
	if err := d.transport.Transfer([]byte{cmdReadRegister, addr}, value[:]); err != nil {
		return value, err
	}
	return value, nil
}

func (d *Device) writeRegister(op RegisterOp, addr byte, value [4]byte) error {
	switch op {
	case RegisterWrite, RegisterOrMask, RegisterAndMask:
	default:
		panicArgument("WriteRegister", "unknown register operation 0x%02X", byte(op))
	}
	return d.transport.Write([]byte{byte(op), addr, value[0], value[1], value[2], value[3]})
}

func (d *Device) readRegister32(addr byte) (uint32, error) {
	value, err := d.readRegister(addr)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(value[:]), nil
}

func (d *Device) writeRegister32(op RegisterOp, addr byte, value uint32) error {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], value)
	return d.writeRegister(op, addr, raw)
}

// setCRC turns the hardware CRC on or off in both directions.
func (d *Device) setCRC(enabled bool) error {
	for _, reg := range []byte{RegCRCTxConfig, RegCRCRxConfig} {
		var err error
		if enabled {
			err = d.writeRegister32(RegisterOrMask, reg, crcEnableBit)
		} else {
			err = d.writeRegister32(RegisterAndMask, reg, ^crcEnableBit)
		}
		if err != nil {
			return fmt.Errorf("set CRC %t: %w", enabled, err)
		}
	}
	return nil
}

// SetCRC turns the hardware CRC on or off for both directions.
func (d *Device) SetCRC(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setCRC(enabled)
}

// startTransceive moves the state machine through Idle into Transceive and
// clears pending interrupts, the state SEND_DATA requires.
func (d *Device) startTransceive() error {
	if err := d.writeRegister32(RegisterAndMask, RegSystemConfig, ^systemCommandMask); err != nil {
		return fmt.Errorf("enter idle: %w", err)
	}
	if err := d.writeRegister32(RegisterOrMask, RegSystemConfig, systemCommandTransceive); err != nil {
		return fmt.Errorf("enter transceive: %w", err)
	}
	if err := d.writeRegister32(RegisterWrite, RegIRQClear, irqClearAll); err != nil {
		return fmt.Errorf("clear IRQ: %w", err)
	}
	return nil
}
