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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMifareAuthenticate_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		status  byte
		want    bool
	}{
		{name: "authenticated", status: 0x00, want: true},
		{name: "rejected", status: 0x01, want: false},
		{name: "timeout", status: 0x02, wantErr: ErrAuthFailed},
		{name: "unknown status", status: 0x07, wantErr: ErrProtocolMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			device, mock := createMockDeviceWithTransport(t)
			mock.SetResponse(cmdMifareAuthenticate, []byte{tt.status})

			key := [6]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}
			ok, err := device.MifareAuthenticate(key, MifareAuthKeyB, 0x08, [4]byte{1, 2, 3, 4})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, ok)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, ok)
			}

			assert.Equal(t, [][]byte{{
				cmdMifareAuthenticate,
				0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5,
				MifareAuthKeyB, 0x08,
				0x01, 0x02, 0x03, 0x04,
			}}, mock.Written())
		})
	}
}

func TestMifareAuthenticate_InvalidKeyType(t *testing.T) {
	t.Parallel()
	device, mock := createMockDeviceWithTransport(t)

	assert.Panics(t, func() {
		_, _ = device.MifareAuthenticate([6]byte{}, 0x30, 0x04, [4]byte{})
	})
	assert.Empty(t, mock.Written())
}

func TestTransceive_MifareAuthRouting(t *testing.T) {
	t.Parallel()
	device, mock := createMockDeviceWithTransport(t)
	mock.SetResponse(cmdMifareAuthenticate, []byte{0x01})

	frame := []byte{MifareAuthKeyA, 0x04, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x02, 0x03, 0x04}
	n, err := device.Transceive(0, frame, nil)
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, -1, n)
	assert.Equal(t, 1, mock.GetCallCount(cmdMifareAuthenticate))
	assert.Zero(t, mock.GetCallCount(cmdSendData))
}
