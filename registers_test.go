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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRegister(t *testing.T) {
	t.Parallel()
	device, mock := createMockDeviceWithTransport(t)
	mock.SetResponse(cmdReadRegister, []byte{0x78, 0x56, 0x34, 0x12})

	value, err := device.ReadRegister(RegRFStatus)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0x78, 0x56, 0x34, 0x12}, value)
	assert.Equal(t, [][]byte{{cmdReadRegister, RegRFStatus}}, mock.Written())

	word, err := device.readRegister32(RegRFStatus)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), word)
}

func TestWriteRegister_Encoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		op    RegisterOp
		addr  byte
		value [4]byte
		want  []byte
	}{
		{
			name:  "write",
			op:    RegisterWrite,
			addr:  RegIRQClear,
			value: [4]byte{0xFF, 0xFF, 0x0F, 0x00},
			want:  []byte{0x00, 0x03, 0xFF, 0xFF, 0x0F, 0x00},
		},
		{
			name:  "or mask",
			op:    RegisterOrMask,
			addr:  RegSystemConfig,
			value: [4]byte{0x03, 0x00, 0x00, 0x00},
			want:  []byte{0x01, 0x00, 0x03, 0x00, 0x00, 0x00},
		},
		{
			name:  "and mask",
			op:    RegisterAndMask,
			addr:  RegSystemConfig,
			value: [4]byte{0xF8, 0xFF, 0xFF, 0xFF},
			want:  []byte{0x02, 0x00, 0xF8, 0xFF, 0xFF, 0xFF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			device, mock := createMockDeviceWithTransport(t)

			require.NoError(t, device.WriteRegister(tt.op, tt.addr, tt.value))
			assert.Equal(t, [][]byte{tt.want}, mock.Written())
		})
	}
}

func TestWriteRegister_UnknownOpPanics(t *testing.T) {
	t.Parallel()
	device, _ := createMockDeviceWithTransport(t)

	assert.PanicsWithError(t, "pn5180: WriteRegister: unknown register operation 0x04", func() {
		_ = device.WriteRegister(RegisterOp(0x04), RegSystemConfig, [4]byte{})
	})
}

func TestRegisterOp_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "WRITE_REGISTER_OR_MASK", RegisterOrMask.String())
	assert.Equal(t, "RegisterOp(0x09)", RegisterOp(0x09).String())
}

func TestSetCRC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		want    [][]byte
		enabled bool
	}{
		{
			name:    "enable sets bit 0 in both directions",
			enabled: true,
			want: [][]byte{
				{0x01, RegCRCTxConfig, 0x01, 0x00, 0x00, 0x00},
				{0x01, RegCRCRxConfig, 0x01, 0x00, 0x00, 0x00},
			},
		},
		{
			name:    "disable clears bit 0 in both directions",
			enabled: false,
			want: [][]byte{
				{0x02, RegCRCTxConfig, 0xFE, 0xFF, 0xFF, 0xFF},
				{0x02, RegCRCRxConfig, 0xFE, 0xFF, 0xFF, 0xFF},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			device, mock := createMockDeviceWithTransport(t)

			require.NoError(t, device.SetCRC(tt.enabled))
			assert.Equal(t, tt.want, mock.Written())
		})
	}
}

func TestRegisterErrorsPropagate(t *testing.T) {
	t.Parallel()
	device, mock := createMockDeviceWithTransport(t)
	busErr := NewDeviceNotReadyError("read register", "mock")
	mock.SetError(cmdReadRegister, busErr)

	_, err := device.ReadRegister(RegRxStatus)
	require.ErrorIs(t, err, ErrDeviceNotReady)

	mock.SetError(cmdWriteRegisterOrMask, errors.New("bus fault"))
	err = device.SetCRC(true)
	require.ErrorContains(t, err, "bus fault")
}

func TestEEPROM(t *testing.T) {
	t.Parallel()

	t.Run("read sends address and length", func(t *testing.T) {
		t.Parallel()
		device, mock := createMockDeviceWithTransport(t)
		mock.SetResponse(cmdReadEEPROM, []byte{0xAA, 0xBB, 0xCC})

		buf := make([]byte, 3)
		require.NoError(t, device.ReadEEPROM(0x20, buf))
		assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, buf)
		assert.Equal(t, [][]byte{{cmdReadEEPROM, 0x20, 0x03}}, mock.Written())
	})

	t.Run("write sends address and data", func(t *testing.T) {
		t.Parallel()
		device, mock := createMockDeviceWithTransport(t)

		require.NoError(t, device.WriteEEPROM(0x1A, []byte{0x01, 0x02}))
		assert.Equal(t, [][]byte{{cmdWriteEEPROM, 0x1A, 0x01, 0x02}}, mock.Written())
	})

	t.Run("out of range panics", func(t *testing.T) {
		t.Parallel()
		device, _ := createMockDeviceWithTransport(t)

		assert.Panics(t, func() { _ = device.ReadEEPROM(0xF0, make([]byte, 16)) })
		assert.Panics(t, func() { _ = device.ReadEEPROM(0x00, nil) })
		assert.Panics(t, func() { _ = device.WriteEEPROM(0xFE, []byte{1, 2}) })
	})
}

func TestFirmwareVersion(t *testing.T) {
	t.Parallel()
	device, mock := createMockDeviceWithTransport(t)
	mock.SetResponse(cmdReadEEPROM, []byte{0x05, 0x03, 0x06, 0x04, 0x00, 0x0E})

	fw, err := device.FirmwareVersion()
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 3, Minor: 5}, fw.Product)
	assert.Equal(t, Version{Major: 4, Minor: 6}, fw.Firmware)
	assert.Equal(t, Version{Major: 14, Minor: 0}, fw.EEPROM)
	assert.Equal(t, "product 3.5, firmware 4.6, eeprom 14.0", fw.String())
	assert.Equal(t, [][]byte{{cmdReadEEPROM, 0x10, 0x06}}, mock.Written())
}

func TestRFCommands(t *testing.T) {
	t.Parallel()
	device, mock := createMockDeviceWithTransport(t)

	require.NoError(t, device.LoadRFConfig(RFConfigTypeB106))
	require.NoError(t, device.RFOn())
	require.NoError(t, device.RFOff())

	assert.Equal(t, [][]byte{
		{cmdLoadRFConfig, 0x04, 0x84},
		{cmdRFOn, 0x00},
		{cmdRFOff, 0x00},
	}, mock.Written())
}

func TestRetrieveRFConfig(t *testing.T) {
	t.Parallel()

	t.Run("reads size then entries", func(t *testing.T) {
		t.Parallel()
		device, mock := createMockDeviceWithTransport(t)
		mock.SetResponse(cmdRetrieveRFConfigSize, []byte{2})
		entries := []byte{0x10, 0x01, 0x02, 0x03, 0x04, 0x11, 0x05, 0x06, 0x07, 0x08}
		mock.SetResponse(cmdRetrieveRFConfig, entries)

		got, err := device.RetrieveRFConfig(RFConfigTypeA106TX)
		require.NoError(t, err)
		assert.Equal(t, entries, got)
		assert.Equal(t, [][]byte{
			{cmdRetrieveRFConfigSize, 0x00},
			{cmdRetrieveRFConfig, 0x00},
		}, mock.Written())
	})

	t.Run("empty configuration", func(t *testing.T) {
		t.Parallel()
		device, mock := createMockDeviceWithTransport(t)
		mock.SetResponse(cmdRetrieveRFConfigSize, []byte{0})

		got, err := device.RetrieveRFConfig(0x7F)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, 0, mock.GetCallCount(cmdRetrieveRFConfig))
	})
}
