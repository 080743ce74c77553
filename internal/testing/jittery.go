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

package testing

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/ZaparooProject/go-pn5180/internal/syncutil"
)

// ErrInjectedFault is returned for injected faults when JitterConfig.Fault
// is nil.
var ErrInjectedFault = errors.New("injected bus fault")

// JitterConfig configures the behavior of JitteryBus.
type JitterConfig struct {
	// Fault is returned for an injected fault. Drivers classify it, so pass
	// a retryable transport error to exercise recovery paths.
	Fault error
	// MaxLatency is the upper bound of the random delay added before
	// every exchange.
	MaxLatency time.Duration
	// StallDuration is slept once after StallAfterFrames exchanges.
	StallDuration    time.Duration
	StallAfterFrames int
	// FaultRate is the probability in [0, 1] that an exchange fails before
	// it reaches the chip.
	FaultRate float64
	Seed      uint64
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency: 200 * time.Microsecond,
		FaultRate:  0.02,
	}
}

// JitteryBus wraps a virtual PN5180 to simulate a noisy SPI link: random
// latency per exchange, a one-off stall, and faults injected before the
// command reaches the chip. Injected faults never change chip or card
// state, so a driver that retries cleanly must converge.
type JitteryBus struct {
	*VirtualPN5180
	rng    *rand.Rand
	config JitterConfig
	frames int
	faults int
	mu     syncutil.Mutex
	maxRun int
	run    int
}

// NewJitteryBus wraps sim with jitter simulation. A zero seed picks a
// random one.
func NewJitteryBus(sim *VirtualPN5180, config JitterConfig) *JitteryBus {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}
	if config.Fault == nil {
		config.Fault = ErrInjectedFault
	}
	return &JitteryBus{
		VirtualPN5180: sim,
		rng:           rng,
		config:        config,
	}
}

// SetMaxConsecutiveFaults caps runs of injected faults. Zero means no cap.
func (j *JitteryBus) SetMaxConsecutiveFaults(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.maxRun = n
}

// SetFaultRate changes the fault probability, e.g. to bring a device up
// on a clean bus before injecting faults.
func (j *JitteryBus) SetFaultRate(rate float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.config.FaultRate = rate
}

// Write executes a command with jitter applied.
func (j *JitteryBus) Write(cmd []byte) error {
	if err := j.disturb(); err != nil {
		return err
	}
	return j.VirtualPN5180.Write(cmd)
}

// Transfer executes a command and reads its answer with jitter applied.
func (j *JitteryBus) Transfer(cmd []byte, resp []byte) error {
	if err := j.disturb(); err != nil {
		return err
	}
	return j.VirtualPN5180.Transfer(cmd, resp)
}

// Exchanges returns how many exchanges went through the bus, faults included.
func (j *JitteryBus) Exchanges() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.frames
}

// Faults returns how many faults were injected.
func (j *JitteryBus) Faults() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.faults
}

// disturb sleeps for the drawn latency and reports an injected fault.
// The lock is released before sleeping.
func (j *JitteryBus) disturb() error {
	j.mu.Lock()
	j.frames++
	var delay time.Duration
	if j.config.MaxLatency > 0 {
		delay = time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1))
	}
	if j.config.StallAfterFrames > 0 && j.frames == j.config.StallAfterFrames {
		delay += j.config.StallDuration
	}
	fault := j.config.FaultRate > 0 && j.rng.Float64() < j.config.FaultRate &&
		(j.maxRun == 0 || j.run < j.maxRun)
	if fault {
		j.faults++
		j.run++
	} else {
		j.run = 0
	}
	err := j.config.Fault
	j.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fault {
		return err
	}
	return nil
}
