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
	"fmt"
	"time"

	"github.com/ZaparooProject/go-pn5180/internal/syncutil"
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// RetryConfig configures retries of device bring-up
	RetryConfig *RetryConfig
	// RFConfigA is loaded before every Type A discovery
	RFConfigA RFConfig
	// RFConfigB is loaded before every Type B discovery
	RFConfigB RFConfig
	// BusyTimeout is the BUSY wait budget handed to the transport
	BusyTimeout time.Duration
	// TypeATimeout bounds the wait for an answer on target 0
	TypeATimeout time.Duration
	// DiscoveryFrameTimeout bounds the wait for each discovery answer
	DiscoveryFrameTimeout time.Duration
	// BlockRetries is the R(NAK)/S(WTX) budget of one block exchange
	BlockRetries int
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		RetryConfig:           DefaultRetryConfig(),
		RFConfigA:             RFConfigTypeA106,
		RFConfigB:             RFConfigTypeB106,
		BusyTimeout:           DefaultBusyTimeout,
		TypeATimeout:          DefaultTypeATimeout,
		DiscoveryFrameTimeout: DefaultDiscoveryFrameTimeout,
		BlockRetries:          DefaultBlockRetries,
	}
}

// Device represents a PN5180 reader.
//
// Thread Safety: every exported method holds the device lock for its whole
// duration, so the bus and the target registry are never used concurrently.
// Operations block until done; only their timeouts end a wait.
type Device struct {
	transport Transport
	config    *DeviceConfig
	targets   *TargetRegistry
	firmware  *FirmwareVersion
	mu        syncutil.Mutex
}

// New creates a new PN5180 device with the given transport
func New(transport Transport, opts ...Option) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}

	device := &Device{
		transport: transport,
		config:    DefaultDeviceConfig(),
		targets:   NewTargetRegistry(),
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// Transport returns the underlying transport
func (d *Device) Transport() Transport {
	return d.transport
}

// Config returns a copy of the device configuration.
func (d *Device) Config() DeviceConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.config
}

// Init initializes the PN5180 device
func (d *Device) Init() error {
	return d.InitContext(context.Background())
}

// InitContext resets the chip when a reset line is wired, reads the EEPROM
// version block and switches the field off. Transient bus failures are
// retried according to the device RetryConfig.
func (d *Device) InitContext(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.transport.SetTimeout(d.config.BusyTimeout); err != nil {
		return fmt.Errorf("failed to set transport timeout: %w", err)
	}

	if resetter, ok := d.transport.(Resetter); ok {
		if err := resetter.HardReset(); err != nil {
			return fmt.Errorf("hard reset: %w", err)
		}
	}

	var fw *FirmwareVersion
	err := RetryWithConfig(ctx, d.config.RetryConfig, func() error {
		var err error
		fw, err = d.firmwareVersion()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to read firmware version: %w", err)
	}
	if fw.Product == (Version{Major: 0xFF, Minor: 0xFF}) || fw.Product == (Version{}) {
		return fmt.Errorf("%w: product version %s", ErrDeviceNotFound, fw.Product)
	}
	d.firmware = fw
	Debugf("PN5180 %s", fw)

	if err := d.transport.Write([]byte{cmdRFOff, 0x00}); err != nil {
		return fmt.Errorf("RF off: %w", err)
	}
	d.targets = NewTargetRegistry()
	return nil
}

// CachedFirmwareVersion returns the version read by InitContext, or nil
// before initialization.
func (d *Device) CachedFirmwareVersion() *FirmwareVersion {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firmware
}

// SetTimeout sets the BUSY wait budget of the transport
func (d *Device) SetTimeout(timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setTimeout(timeout)
}

func (d *Device) setTimeout(timeout time.Duration) error {
	d.config.BusyTimeout = timeout
	if err := d.transport.SetTimeout(timeout); err != nil {
		return fmt.Errorf("failed to set timeout on transport: %w", err)
	}
	return nil
}

// SetRetryConfig updates the retry configuration
func (d *Device) SetRetryConfig(config *RetryConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.RetryConfig = config
}

// Close switches the field off and closes the transport. Registered
// targets are forgotten.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport == nil {
		return nil
	}

	d.targets = NewTargetRegistry()
	var rfErr error
	if d.transport.IsConnected() {
		rfErr = d.transport.Write([]byte{cmdRFOff, 0x00})
	}
	if err := d.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	if rfErr != nil && !errors.Is(rfErr, ErrTransportClosed) {
		Debugf("RF off before close failed: %v", rfErr)
	}
	return nil
}

// TransportFactory is a function type for creating transports
type TransportFactory func() (Transport, error)

// ConnectOption represents a functional option for ConnectDevice
type ConnectOption func(*connectConfig) error

// connectConfig holds configuration options for device connection
type connectConfig struct {
	deviceOptions     []Option
	connectionRetries int
}

// WithDeviceOptions adds device-level options
func WithDeviceOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceOptions = append(c.deviceOptions, opts...)
		return nil
	}
}

// WithConnectionRetries sets the number of connection retry attempts
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.connectionRetries = maxAttempts
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{
		connectionRetries: 3,
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}

	return config, nil
}

// ConnectDevice opens a transport with factory, wraps it in a Device and
// initializes it. Opening and initialization are retried together; a
// transport that was opened is closed again when the attempt fails.
//
// Example usage:
//
//	device, err := pn5180.ConnectDevice(ctx, func() (pn5180.Transport, error) {
//		return spi.New("/dev/spidev0.0", "GPIO25", "GPIO8")
//	})
func ConnectDevice(ctx context.Context, factory TransportFactory, opts ...ConnectOption) (*Device, error) {
	if factory == nil {
		return nil, errors.New("transport factory not provided")
	}

	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}

	retryConfig := &RetryConfig{
		MaxAttempts:       config.connectionRetries,
		InitialBackoff:    InitInitialBackoff,
		MaxBackoff:        InitMaxBackoff,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      10 * time.Second,
	}

	var device *Device
	err = RetryWithConfig(ctx, retryConfig, func() error {
		transport, err := factory()
		if err != nil {
			return fmt.Errorf("failed to create transport: %w", err)
		}
		device, err = New(transport, config.deviceOptions...)
		if err == nil {
			err = device.InitContext(ctx)
		}
		if err != nil {
			_ = transport.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect device after %d attempts: %w", config.connectionRetries, err)
	}

	return device, nil
}
