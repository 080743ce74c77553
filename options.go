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
	"fmt"
	"time"
)

// Option is a functional option for configuring a Device
type Option func(*Device) error

// WithRetryConfig sets the retry configuration for device bring-up
func WithRetryConfig(config *RetryConfig) Option {
	return func(d *Device) error {
		d.config.RetryConfig = config
		return nil
	}
}

// WithTimeout sets the BUSY wait budget of the transport
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		return d.setTimeout(timeout)
	}
}

// WithTypeATimeout sets how long a raw exchange on target 0 waits for an
// answer.
func WithTypeATimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: Type A timeout %v", ErrInvalidParameter, timeout)
		}
		d.config.TypeATimeout = timeout
		return nil
	}
}

// WithDiscoveryFrameTimeout sets how long discovery waits for each answer.
func WithDiscoveryFrameTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: discovery frame timeout %v", ErrInvalidParameter, timeout)
		}
		d.config.DiscoveryFrameTimeout = timeout
		return nil
	}
}

// WithBlockRetries sets the R(NAK)/S(WTX) budget of one block exchange.
func WithBlockRetries(retries int) Option {
	return func(d *Device) error {
		if retries < 0 {
			return fmt.Errorf("%w: block retries %d", ErrInvalidParameter, retries)
		}
		d.config.BlockRetries = retries
		return nil
	}
}

// WithRFConfigA overrides the RF configuration used for Type A discovery.
func WithRFConfigA(cfg RFConfig) Option {
	return func(d *Device) error {
		d.config.RFConfigA = cfg
		return nil
	}
}

// WithRFConfigB overrides the RF configuration used for Type B discovery.
func WithRFConfigB(cfg RFConfig) Option {
	return func(d *Device) error {
		d.config.RFConfigB = cfg
		return nil
	}
}
