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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	testutil "github.com/ZaparooProject/go-pn5180/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resettingTransport struct {
	*MockTransport
	resets int
}

func (r *resettingTransport) HardReset() error {
	r.resets++
	return nil
}

func versionBlockTransport(block []byte) *MockTransport {
	mock := NewMockTransport()
	mock.SetResponse(cmdReadEEPROM, block)
	return mock
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		transport Transport
		name      string
		opts      []Option
		wantErr   bool
	}{
		{name: "mock transport", transport: NewMockTransport()},
		{name: "nil transport", transport: nil, wantErr: true},
		{
			name:      "valid options",
			transport: NewMockTransport(),
			opts:      []Option{WithTypeATimeout(50 * time.Millisecond), WithBlockRetries(2)},
		},
		{name: "zero Type A timeout", transport: NewMockTransport(), opts: []Option{WithTypeATimeout(0)}, wantErr: true},
		{
			name:      "negative discovery timeout",
			transport: NewMockTransport(),
			opts:      []Option{WithDiscoveryFrameTimeout(-time.Millisecond)},
			wantErr:   true,
		},
		{name: "negative block retries", transport: NewMockTransport(), opts: []Option{WithBlockRetries(-1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, err := New(tt.transport, tt.opts...)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidParameter)
				assert.Nil(t, device)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.transport, device.Transport())
		})
	}
}

func TestDevice_Config(t *testing.T) {
	t.Parallel()

	custom := RFConfig{TX: 0x01, RX: 0x81}
	device, err := New(NewMockTransport(),
		WithTypeATimeout(30*time.Millisecond),
		WithDiscoveryFrameTimeout(5*time.Millisecond),
		WithBlockRetries(3),
		WithRFConfigA(custom),
		WithTimeout(time.Second),
	)
	require.NoError(t, err)

	cfg := device.Config()
	assert.Equal(t, 30*time.Millisecond, cfg.TypeATimeout)
	assert.Equal(t, 5*time.Millisecond, cfg.DiscoveryFrameTimeout)
	assert.Equal(t, 3, cfg.BlockRetries)
	assert.Equal(t, custom, cfg.RFConfigA)
	assert.Equal(t, RFConfigTypeB106, cfg.RFConfigB)
	assert.Equal(t, time.Second, cfg.BusyTimeout)
	assert.Equal(t, time.Second, device.Transport().(*MockTransport).Timeout())

	cfg.BlockRetries = 9
	assert.Equal(t, 3, device.Config().BlockRetries)
}

func TestDevice_Init(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)

	fw := device.CachedFirmwareVersion()
	require.NotNil(t, fw)
	assert.Equal(t, Version{Major: 3, Minor: 5}, fw.Product)
	assert.Equal(t, Version{Major: 3, Minor: 5}, fw.Firmware)
	assert.Equal(t, Version{Major: 0x0E, Minor: 0x00}, fw.EEPROM)
	assert.Equal(t, "product 3.5, firmware 3.5, eeprom 14.0", fw.String())

	assert.False(t, sim.RFOn())
	assert.Equal(t, 1, sim.GetCommandCount(testutil.CmdRFOff))
	assert.Equal(t, DefaultBusyTimeout, sim.Timeout())
}

func TestDevice_InitContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		block   []byte
	}{
		{name: "version read", block: []byte{0x02, 0x04, 0x01, 0x04, 0x00, 0x0A}},
		{name: "bus floating high", block: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, wantErr: ErrDeviceNotFound},
		{name: "bus floating low", block: nil, wantErr: ErrDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := versionBlockTransport(tt.block)
			device, err := New(mock)
			require.NoError(t, err)

			err = device.InitContext(context.Background())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, device.CachedFirmwareVersion())
				assert.Zero(t, mock.GetCallCount(cmdRFOff))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Version{Major: 4, Minor: 2}, device.CachedFirmwareVersion().Product)
			assert.Equal(t, []byte{cmdRFOff, 0x00}, mock.Written()[len(mock.Written())-1])
		})
	}
}

func TestDevice_InitContext_RetriesTransientErrors(t *testing.T) {
	t.Parallel()
	sim := testutil.NewVirtualPN5180()
	device, err := New(simulatorTransport{sim}, WithRetryConfig(&RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1,
		RetryTimeout:      time.Second,
	}))
	require.NoError(t, err)

	sim.FailNext(NewTimeoutError("Transfer", "sim"))
	require.NoError(t, device.Init())
	assert.Equal(t, 2, sim.GetCommandCount(testutil.CmdReadEEPROM))
}

func TestDevice_InitContext_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()
	mock := NewMockTransport()
	mock.SetError(cmdReadEEPROM, NewBusyNotAssertedError("Transfer", "mock"))
	device, err := New(mock)
	require.NoError(t, err)

	err = device.Init()
	require.ErrorIs(t, err, ErrBusyNotAsserted)
	assert.Equal(t, 1, mock.GetCallCount(cmdReadEEPROM))
}

func TestDevice_InitContext_HardReset(t *testing.T) {
	t.Parallel()
	transport := &resettingTransport{MockTransport: versionBlockTransport([]byte{0x02, 0x04, 0, 0, 0, 0})}
	device, err := New(transport)
	require.NoError(t, err)

	require.NoError(t, device.Init())
	assert.Equal(t, 1, transport.resets)
}

func TestDevice_InitForgetsTargets(t *testing.T) {
	t.Parallel()
	device, sim := createSimulatedDevice(t)
	activateTypeB(t, device, sim, testutil.NewVirtualTypeBCard([4]byte{1, 2, 3, 4}))
	require.Len(t, device.Targets(), 1)

	require.NoError(t, device.Init())
	assert.Empty(t, device.Targets())
}

func TestDevice_SetTimeout(t *testing.T) {
	t.Parallel()
	device, mock := createMockDeviceWithTransport(t)

	require.NoError(t, device.SetTimeout(250*time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, mock.Timeout())
	assert.Equal(t, 250*time.Millisecond, device.Config().BusyTimeout)
}

func TestDevice_SetRetryConfig(t *testing.T) {
	t.Parallel()
	device, _ := createMockDeviceWithTransport(t)

	cfg := &RetryConfig{MaxAttempts: 7}
	device.SetRetryConfig(cfg)
	assert.Same(t, cfg, device.Config().RetryConfig)
}

func TestDevice_Close(t *testing.T) {
	t.Parallel()
	device, mock := createMockDeviceWithTransport(t)

	require.NoError(t, device.Close())
	assert.False(t, mock.IsConnected())
	assert.Equal(t, [][]byte{{cmdRFOff, 0x00}}, mock.Written())

	// A second close does not touch the bus again.
	require.NoError(t, device.Close())
	assert.Len(t, mock.Written(), 1)
}

func TestWithConnectionRetries_Option(t *testing.T) {
	t.Parallel()

	_, err := applyConnectOptions([]ConnectOption{WithConnectionRetries(0)})
	require.Error(t, err)

	cfg, err := applyConnectOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.connectionRetries)

	cfg, err = applyConnectOptions([]ConnectOption{
		WithConnectionRetries(5),
		WithDeviceOptions(WithBlockRetries(1)),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.connectionRetries)
	assert.Len(t, cfg.deviceOptions, 1)
}

func TestConnectDevice(t *testing.T) {
	t.Parallel()

	t.Run("nil factory", func(t *testing.T) {
		t.Parallel()
		_, err := ConnectDevice(context.Background(), nil)
		require.Error(t, err)
	})

	t.Run("retries until transport opens", func(t *testing.T) {
		t.Parallel()
		var attempts atomic.Int32
		factory := func() (Transport, error) {
			if attempts.Add(1) < 2 {
				return nil, ErrTransportTimeout
			}
			return simulatorTransport{testutil.NewVirtualPN5180()}, nil
		}

		device, err := ConnectDevice(context.Background(), factory,
			WithDeviceOptions(WithBlockRetries(2)))
		require.NoError(t, err)
		t.Cleanup(func() { _ = device.Close() })
		assert.Equal(t, int32(2), attempts.Load())
		assert.Equal(t, 2, device.Config().BlockRetries)
		assert.NotNil(t, device.CachedFirmwareVersion())
	})

	t.Run("closes transport of failed attempt", func(t *testing.T) {
		t.Parallel()
		var opened []*MockTransport
		factory := func() (Transport, error) {
			mock := versionBlockTransport(nil)
			opened = append(opened, mock)
			return mock, nil
		}

		_, err := ConnectDevice(context.Background(), factory, WithConnectionRetries(1))
		require.ErrorIs(t, err, ErrDeviceNotFound)
		require.Len(t, opened, 1)
		assert.False(t, opened[0].IsConnected())
	})

	t.Run("factory error not retried when permanent", func(t *testing.T) {
		t.Parallel()
		calls := 0
		factory := func() (Transport, error) {
			calls++
			return nil, errors.New("no such SPI device")
		}

		_, err := ConnectDevice(context.Background(), factory, WithConnectionRetries(3))
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
