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
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-pn5180"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid polling config")

// SleepRecoveryConfig configures automatic recovery after host sleep/wake
type SleepRecoveryConfig struct {
	// Enabled enables sleep detection and recovery attempts
	Enabled bool

	// TimeDiscontinuityThreshold is the minimum elapsed time beyond the expected
	// poll interval that indicates a sleep occurred. Default: 2 seconds
	TimeDiscontinuityThreshold time.Duration

	// MaxRecoveryAttempts is the number of device re-initializations tried
	// before the session gives up. Default: 3
	MaxRecoveryAttempts int

	// RecoveryBackoff is the delay between recovery attempts
	RecoveryBackoff time.Duration
}

// DefaultSleepRecoveryConfig returns sensible defaults for sleep recovery
func DefaultSleepRecoveryConfig() SleepRecoveryConfig {
	return SleepRecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep checks if the elapsed time since last poll indicates a system sleep.
// Returns true if elapsed time exceeds (pollInterval + TimeDiscontinuityThreshold).
func (cfg SleepRecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	expectedMax := pollInterval + cfg.TimeDiscontinuityThreshold
	return elapsed > expectedMax
}

// Config holds polling configuration options
type Config struct {
	RFConfigA pn5180.RFConfig
	RFConfigB pn5180.RFConfig
	// SleepRecovery configures automatic recovery after host sleep/wake cycles
	SleepRecovery SleepRecoveryConfig
	// PollInterval is the pause between the starts of two discovery rounds.
	PollInterval time.Duration
	// CardRemovalTimeout is how long a card may go unseen before it is
	// reported as removed.
	CardRemovalTimeout time.Duration
	// ListenTimeout bounds each ListenTypeA and ListenTypeB call.
	ListenTimeout time.Duration
	// MaxConsecutiveErrors is the number of failed rounds in a row after
	// which the device is re-initialized.
	MaxConsecutiveErrors int
	EnableTypeA          bool
	EnableTypeB          bool
}

// DefaultConfig returns the default polling configuration
func DefaultConfig() *Config {
	return &Config{
		RFConfigA:            pn5180.RFConfigTypeA106,
		RFConfigB:            pn5180.RFConfigTypeB106,
		SleepRecovery:        DefaultSleepRecoveryConfig(),
		PollInterval:         250 * time.Millisecond,
		CardRemovalTimeout:   600 * time.Millisecond,
		ListenTimeout:        30 * time.Millisecond,
		MaxConsecutiveErrors: 10,
		EnableTypeA:          true,
		EnableTypeB:          true,
	}
}

// Validate checks that the durations are positive and at least one
// protocol is enabled.
func (c *Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval %v", ErrInvalidConfig, c.PollInterval)
	case c.CardRemovalTimeout <= 0:
		return fmt.Errorf("%w: card removal timeout %v", ErrInvalidConfig, c.CardRemovalTimeout)
	case c.ListenTimeout <= 0:
		return fmt.Errorf("%w: listen timeout %v", ErrInvalidConfig, c.ListenTimeout)
	case c.MaxConsecutiveErrors < 1:
		return fmt.Errorf("%w: max consecutive errors %d", ErrInvalidConfig, c.MaxConsecutiveErrors)
	case !c.EnableTypeA && !c.EnableTypeB:
		return fmt.Errorf("%w: no protocol enabled", ErrInvalidConfig)
	}
	return nil
}
