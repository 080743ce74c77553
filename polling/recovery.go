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

package polling

import (
	"context"
	"time"

	"github.com/ZaparooProject/go-pn5180"
	"github.com/ZaparooProject/go-pn5180/internal/syncutil"
)

// Recoverer brings a reader back after sleep/wake or a fatal bus error.
type Recoverer interface {
	// AttemptRecovery tries to recover the device.
	// Returns nil if recovery was successful, error otherwise.
	AttemptRecovery(ctx context.Context) error
}

// Initializer is a device that can be brought up again from scratch.
// *pn5180.Device implements it.
type Initializer interface {
	InitContext(ctx context.Context) error
}

// DefaultRecoverer re-initializes the device: hard reset when a reset line
// is wired, version check, field off and an empty target registry.
type DefaultRecoverer struct {
	device      Initializer
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer that calls InitContext up to
// maxAttempts times, backoff apart.
func NewDefaultRecoverer(device Initializer, backoff time.Duration, maxAttempts int) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		device:      device,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery re-initializes the device and returns the last error
// when every attempt fails. It stops early only when ctx ends.
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error

	for attempt := range r.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		err := r.device.InitContext(ctx)
		if err == nil {
			pn5180.Debugf("Device recovered after %d attempt(s)", attempt+1)
			return nil
		}
		pn5180.Debugf("Recovery attempt %d failed: %v", attempt+1, err)
		lastErr = err
	}

	return lastErr
}
