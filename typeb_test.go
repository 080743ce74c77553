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
	"sync"
	"testing"
	"time"

	testutil "github.com/ZaparooProject/go-pn5180/internal/testing"
	"github.com/ZaparooProject/go-pn5180/iso14443"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenTypeB_ActivatesCard(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)
	virtual := testutil.NewVirtualTypeBCard([4]byte{0x11, 0x22, 0x33, 0x44})
	virtual.ApplicationData = [4]byte{0xA1, 0xA2, 0xA3, 0xA4}
	sim.AddCard(virtual)

	card, found, err := device.ListenTypeB(context.Background(), RFConfigTypeB106, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, found)

	assert.True(t, card.Selected)
	assert.Equal(t, byte(1), card.TargetNumber)
	assert.Equal(t, [4]byte{0x11, 0x22, 0x33, 0x44}, card.UID)
	assert.Equal(t, [4]byte{0xA1, 0xA2, 0xA3, 0xA4}, card.ApplicationData)
	assert.Equal(t, [3]byte{0x00, 0x81, 0x41}, card.ProtocolInfo)
	assert.Equal(t, virtual.ATQB(), card.ATQB[:])
	assert.Equal(t, iso14443.FrameWaitingTime(4), card.FrameWaitingTime)
	assert.Equal(t, "11223344", card.UIDHex())

	assert.True(t, virtual.Active())
	assert.Equal(t, byte(1), virtual.CID())
	assert.Equal(t, 1, sim.CountFrames(0x1D, 0x11, 0x22, 0x33, 0x44, 0x00, 0x08, 0x01, 0x01))

	targets := device.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, byte(1), targets[0].Number)
	assert.False(t, targets[0].LastBlockMark)
}

func TestListenTypeB_MultipleTargets(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)

	first := activateTypeB(t, device, sim, testutil.NewVirtualTypeBCard([4]byte{1, 1, 1, 1}))
	second := activateTypeB(t, device, sim, testutil.NewVirtualTypeBCard([4]byte{2, 2, 2, 2}))

	assert.Equal(t, byte(1), first)
	assert.Equal(t, byte(2), second)
	assert.Len(t, device.Targets(), 2)
	assert.Zero(t, sim.Collisions(), "active cards must not answer WUPB")
}

func TestListenTypeB_AllocatesLowestFreeNumber(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)

	device.mu.Lock()
	require.NoError(t, device.targets.Add(&CardTarget{Number: 1}))
	require.NoError(t, device.targets.Add(&CardTarget{Number: 3}))
	device.mu.Unlock()

	// Registered targets without a card are dropped by the keep-alive pass,
	// so the card lands on the lowest number overall.
	got := activateTypeB(t, device, sim, testutil.NewVirtualTypeBCard([4]byte{9, 9, 9, 9}))
	assert.Equal(t, byte(1), got)
	assert.Len(t, device.Targets(), 1)
}

func TestListenTypeB_KeepAliveKeepsLiveTargets(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)

	live := testutil.NewVirtualTypeBCard([4]byte{1, 1, 1, 1})
	activateTypeB(t, device, sim, live)
	gone := testutil.NewVirtualTypeBCard([4]byte{2, 2, 2, 2})
	activateTypeB(t, device, sim, gone)
	sim.RemoveCard(gone)

	_, found, err := device.ListenTypeB(context.Background(), RFConfigTypeB106, 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, found)

	targets := device.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, byte(1), targets[0].Number)
	// R(NAK) with block number 0 answered by R(ACK) with block number 1.
	assert.Equal(t, 2, sim.CountFrames(0xBA, 0x01))
}

func TestListenTypeB_FullRegistry(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)

	for i := range MaxTargets {
		activateTypeB(t, device, sim, testutil.NewVirtualTypeBCard([4]byte{0xC0, 0x00, 0x00, byte(i)}))
	}
	sim.AddCard(testutil.NewVirtualTypeBCard([4]byte{0xFF, 0xFF, 0xFF, 0xFF}))

	_, found, err := device.ListenTypeB(context.Background(), RFConfigTypeB106, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrRegistryFull)
	assert.False(t, found)
	assert.Len(t, device.Targets(), MaxTargets)
}

func TestListenTypeB_NoCard(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)

	card, found, err := device.ListenTypeB(context.Background(), RFConfigTypeB106, 25*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, card)
	assert.GreaterOrEqual(t, sim.CountFrames(0x05, 0x00, 0x08), 2)

	tx, rx := sim.RFConfig()
	assert.Equal(t, RFConfigTypeB106TX, tx)
	assert.Equal(t, RFConfigTypeB106RX, rx)
}

func TestListenTypeB_AttribRejected(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)
	virtual := testutil.NewVirtualTypeBCard([4]byte{0x0A, 0x0B, 0x0C, 0x0D})
	virtual.RejectAttrib = true
	sim.AddCard(virtual)

	card, found, err := device.ListenTypeB(context.Background(), RFConfigTypeB106, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, found)

	assert.False(t, card.Selected)
	assert.Equal(t, [4]byte{0x0A, 0x0B, 0x0C, 0x0D}, card.UID)
	assert.Empty(t, device.Targets())

	n, err := device.Transceive(card.TargetNumber, []byte{0x00}, make([]byte, 8))
	require.ErrorIs(t, err, ErrTargetNotFound)
	assert.Equal(t, -1, n)
}

func TestListenTypeB_AttribAnswerCarriesMBLI(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)
	virtual := testutil.NewVirtualTypeBCard([4]byte{1, 2, 3, 4})
	virtual.MBLI = 0x08
	sim.AddCard(virtual)

	card, found, err := device.ListenTypeB(context.Background(), RFConfigTypeB106, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, card.Selected)
}

func TestDeselectTypeB(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)
	virtual := testutil.NewVirtualTypeBCard([4]byte{1, 2, 3, 4})
	sim.AddCard(virtual)
	card, found, err := device.ListenTypeB(context.Background(), RFConfigTypeB106, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, found)

	acked, err := device.DeselectTypeB(card)
	require.NoError(t, err)
	assert.True(t, acked)
	assert.False(t, card.Selected)
	assert.Empty(t, device.Targets())
	assert.Equal(t, 1, virtual.Deselects())
	assert.False(t, virtual.Active())

	_, err = device.DeselectTypeB(card)
	require.ErrorIs(t, err, ErrTargetNotFound)
}

func TestDeselectTypeB_SilentCardStillRemoved(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)
	virtual := testutil.NewVirtualTypeBCard([4]byte{1, 2, 3, 4})
	sim.AddCard(virtual)
	card, _, err := device.ListenTypeB(context.Background(), RFConfigTypeB106, 50*time.Millisecond)
	require.NoError(t, err)
	virtual.Silent = true

	acked, err := device.DeselectTypeB(card)
	require.NoError(t, err)
	assert.False(t, acked)
	assert.Empty(t, device.Targets())
}

func TestReselectTarget(t *testing.T) {
	t.Parallel()

	t.Run("restores target with same number", func(t *testing.T) {
		t.Parallel()
		device, sim := createSimulatedDevice(t)
		virtual := testutil.NewVirtualTypeBCard([4]byte{5, 6, 7, 8})
		n := activateTypeB(t, device, sim, virtual)

		_, err := device.Transceive(n, []byte{0x01}, make([]byte, 8))
		require.NoError(t, err)
		require.True(t, device.Targets()[0].LastBlockMark)

		ok, err := device.ReselectTarget(n)
		require.NoError(t, err)
		assert.True(t, ok)

		targets := device.Targets()
		require.Len(t, targets, 1)
		assert.Equal(t, n, targets[0].Number)
		assert.Equal(t, [4]byte{5, 6, 7, 8}, targets[0].UID)
		assert.False(t, targets[0].LastBlockMark)
		assert.Equal(t, 1, virtual.Deselects())

		buf := make([]byte, 8)
		got, err := device.Transceive(n, []byte{0x02}, buf)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x02, 0x90, 0x00}, buf[:got])
	})

	t.Run("failed attrib removes target", func(t *testing.T) {
		t.Parallel()
		device, sim := createSimulatedDevice(t)
		virtual := testutil.NewVirtualTypeBCard([4]byte{5, 6, 7, 8})
		n := activateTypeB(t, device, sim, virtual)
		virtual.RejectAttrib = true

		ok, err := device.ReselectTarget(n)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, device.Targets())
	})

	t.Run("card gone removes target", func(t *testing.T) {
		t.Parallel()
		device, sim := createSimulatedDevice(t)
		virtual := testutil.NewVirtualTypeBCard([4]byte{5, 6, 7, 8})
		n := activateTypeB(t, device, sim, virtual)
		sim.RemoveCard(virtual)

		ok, err := device.ReselectTarget(n)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, device.Targets())
	})

	t.Run("target 0 is not supported", func(t *testing.T) {
		t.Parallel()
		device, _ := createSimulatedDevice(t)

		ok, err := device.ReselectTarget(0)
		require.ErrorIs(t, err, ErrNotSupported)
		assert.False(t, ok)
	})

	t.Run("unknown target", func(t *testing.T) {
		t.Parallel()
		device, _ := createSimulatedDevice(t)

		ok, err := device.ReselectTarget(4)
		require.ErrorIs(t, err, ErrTargetNotFound)
		assert.False(t, ok)
	})
}

// sendDataFault fails one SEND_DATA command, counted from arm, before it
// reaches the virtual chip.
type sendDataFault struct {
	simulatorTransport
	err    error
	failAt int
	sends  int
	mu     sync.Mutex
}

func (f *sendDataFault) arm(failAt int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt = failAt
	f.sends = 0
	f.err = err
}

func (f *sendDataFault) trip(cmd []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt == 0 || len(cmd) == 0 || cmd[0] != cmdSendData {
		return nil
	}
	f.sends++
	if f.sends != f.failAt {
		return nil
	}
	f.failAt = 0
	return f.err
}

func (f *sendDataFault) Write(cmd []byte) error {
	if err := f.trip(cmd); err != nil {
		return err
	}
	return f.simulatorTransport.Write(cmd)
}

func TestReselectTarget_TransportErrorKeepsTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		failAt int
	}{
		{name: "deselect", failAt: 1},
		{name: "attrib", failAt: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sim := testutil.NewVirtualPN5180()
			transport := &sendDataFault{simulatorTransport: simulatorTransport{sim}}
			device, err := New(transport)
			require.NoError(t, err)
			require.NoError(t, device.Init())
			t.Cleanup(func() { _ = device.Close() })

			virtual := testutil.NewVirtualTypeBCard([4]byte{9, 8, 7, 6})
			n := activateTypeB(t, device, sim, virtual)
			_, err = device.Transceive(n, []byte{0x01}, make([]byte, 8))
			require.NoError(t, err)

			transport.arm(tt.failAt, NewTimeoutError("Write", "sim"))
			ok, err := device.ReselectTarget(n)
			require.ErrorIs(t, err, ErrTransportTimeout)
			assert.True(t, IsRetryable(err))
			assert.False(t, ok)

			targets := device.Targets()
			require.Len(t, targets, 1)
			assert.Equal(t, n, targets[0].Number)

			ok, err = device.ReselectTarget(n)
			require.NoError(t, err)
			assert.True(t, ok)
			require.Len(t, device.Targets(), 1)
			assert.False(t, device.Targets()[0].LastBlockMark)
		})
	}
}

func TestRFOff_DropsTargets(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)
	virtual := testutil.NewVirtualTypeBCard([4]byte{1, 1, 2, 3})
	activateTypeB(t, device, sim, virtual)

	require.NoError(t, device.RFOff())
	assert.Empty(t, device.Targets())
	assert.False(t, virtual.Active())

	// The card comes back through a fresh WUPB and ATTRIB, with no keep-alive.
	sim.ClearLogs()
	got, found, err := device.ListenTypeB(context.Background(), RFConfigTypeB106, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Selected)
	assert.Equal(t, byte(1), got.TargetNumber)
	assert.Zero(t, sim.CountFrames(iso14443.RBlock(false, true)))
}
