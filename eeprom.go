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

// EEPROM layout.
const (
	eepromSize           = 0xFF
	eepromProductVersion = 0x10
	eepromVersionBlock   = 6
)

// RF configuration bytes passed to LOAD_RF_CONFIG.
const (
	RFConfigTypeA106TX byte = 0x00
	RFConfigTypeA106RX byte = 0x80
	RFConfigTypeB106TX byte = 0x04
	RFConfigTypeB106RX byte = 0x84
)

// RFConfig selects the transmitter and receiver configurations loaded from
// EEPROM before a discovery round.
type RFConfig struct {
	TX byte
	RX byte
}

// Standard protocol configurations.
var (
	RFConfigTypeA106 = RFConfig{TX: RFConfigTypeA106TX, RX: RFConfigTypeA106RX}
	RFConfigTypeB106 = RFConfig{TX: RFConfigTypeB106TX, RX: RFConfigTypeB106RX}
)

// Version is a major.minor pair as stored in EEPROM.
type Version struct {
	Major byte
	Minor byte
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// FirmwareVersion contains the version block of the PN5180 EEPROM.
type FirmwareVersion struct {
	Product  Version
	Firmware Version
	EEPROM   Version
}

func (fv *FirmwareVersion) String() string {
	return fmt.Sprintf("product %s, firmware %s, eeprom %s", fv.Product, fv.Firmware, fv.EEPROM)
}

// ReadEEPROM fills buf from the EEPROM starting at addr.
func (d *Device) ReadEEPROM(addr byte, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readEEPROM(addr, buf)
}

func (d *Device) readEEPROM(addr byte, buf []byte) error {
	if len(buf) == 0 || int(addr)+len(buf) > eepromSize {
		panicArgument("ReadEEPROM", "range 0x%02X+%d outside EEPROM", addr, len(buf))
	}
	return d.transport.Transfer([]byte{cmdReadEEPROM, addr, byte(len(buf))}, buf)
}

// WriteEEPROM stores data in the EEPROM starting at addr.
func (d *Device) WriteEEPROM(addr byte, data []byte) error {
	if len(data) == 0 || int(addr)+len(data) > eepromSize {
		panicArgument("WriteEEPROM", "range 0x%02X+%d outside EEPROM", addr, len(data))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cmd := make([]byte, 0, 2+len(data))
	cmd = append(cmd, cmdWriteEEPROM, addr)
	cmd = append(cmd, data...)
	return d.transport.Write(cmd)
}

// FirmwareVersion reads the product, firmware and EEPROM versions.
func (d *Device) FirmwareVersion() (*FirmwareVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firmwareVersion()
}

func (d *Device) firmwareVersion() (*FirmwareVersion, error) {
	var raw [eepromVersionBlock]byte
	if err := d.readEEPROM(eepromProductVersion, raw[:]); err != nil {
		return nil, fmt.Errorf("read version block: %w", err)
	}
	return &FirmwareVersion{
		Product:  Version{Major: raw[1], Minor: raw[0]},
		Firmware: Version{Major: raw[3], Minor: raw[2]},
		EEPROM:   Version{Major: raw[5], Minor: raw[4]},
	}, nil
}

// LoadRFConfig loads the transmitter and receiver settings for a protocol.
func (d *Device) LoadRFConfig(cfg RFConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadRFConfig(cfg)
}

func (d *Device) loadRFConfig(cfg RFConfig) error {
	return d.transport.Write([]byte{cmdLoadRFConfig, cfg.TX, cfg.RX})
}

// RetrieveRFConfig returns the register/value pairs of one RF configuration,
// five bytes per register.
func (d *Device) RetrieveRFConfig(cfg byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var size [1]byte
	if err := d.transport.Transfer([]byte{cmdRetrieveRFConfigSize, cfg}, size[:]); err != nil {
		return nil, fmt.Errorf("retrieve RF config size: %w", err)
	}
	if size[0] == 0 {
		return nil, nil
	}

	data := make([]byte, int(size[0])*5)
	if err := d.transport.Transfer([]byte{cmdRetrieveRFConfig, cfg}, data); err != nil {
		return nil, fmt.Errorf("retrieve RF config: %w", err)
	}
	return data, nil
}

// RFOn switches the field on.
func (d *Device) RFOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rfOn()
}

func (d *Device) rfOn() error {
	return d.transport.Write([]byte{cmdRFOn, 0x00})
}

// RFOff switches the field off. Cards in the field lose power and return to
// their idle state, so the registered Type B targets are dropped without a
// keep-alive round.
func (d *Device) RFOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.transport.Write([]byte{cmdRFOff, 0x00}); err != nil {
		return err
	}
	if n := d.targets.Len(); n > 0 {
		Debugf("Field off, dropping %d Type B target(s)", n)
		d.targets = NewTargetRegistry()
	}
	return nil
}
