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

//go:build !prod

package pn5180

import (
	"context"
	"testing"
	"time"

	testutil "github.com/ZaparooProject/go-pn5180/internal/testing"
	"github.com/stretchr/testify/require"
)

// simulatorTransport adapts the virtual PN5180 to the Transport interface.
type simulatorTransport struct {
	*testutil.VirtualPN5180
}

func (simulatorTransport) Type() TransportType {
	return TransportMock
}

// createSimulatedDevice creates an initialized device running on a virtual
// PN5180 with an empty field.
func createSimulatedDevice(t *testing.T, opts ...Option) (*Device, *testutil.VirtualPN5180) {
	t.Helper()
	sim := testutil.NewVirtualPN5180()
	device, err := New(simulatorTransport{sim}, opts...)
	require.NoError(t, err)
	require.NoError(t, device.Init())
	t.Cleanup(func() { _ = device.Close() })
	return device, sim
}

// createMockDeviceWithTransport creates a device on a scripted mock
// transport. The device is not initialized.
func createMockDeviceWithTransport(t *testing.T) (*Device, *MockTransport) {
	t.Helper()
	mockTransport := NewMockTransport()
	device, err := New(mockTransport)
	require.NoError(t, err)
	return device, mockTransport
}

// activateTypeB runs ListenTypeB until card is registered and returns its
// target number.
func activateTypeB(t *testing.T, device *Device, sim *testutil.VirtualPN5180, card *testutil.VirtualTypeBCard) byte {
	t.Helper()
	sim.AddCard(card)
	got, found, err := device.ListenTypeB(context.Background(), RFConfigTypeB106, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.Selected)
	require.Equal(t, card.PUPI, got.UID)
	return got.TargetNumber
}
