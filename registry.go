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
	"sort"
	"time"
)

// CardTarget is an activated ISO/IEC 14443-4 Type B card.
type CardTarget struct {
	ATQB             [12]byte
	FrameWaitingTime time.Duration
	UID              [4]byte
	Number           byte
	// LastBlockMark is the block number of the next I-block the reader sends.
	LastBlockMark bool
}

func (t *CardTarget) toggleMark() {
	t.LastBlockMark = !t.LastBlockMark
}

// blockTimeout is the frame waiting time rounded down to whole
// milliseconds, never below one.
func (t *CardTarget) blockTimeout() time.Duration {
	timeout := t.FrameWaitingTime.Truncate(time.Millisecond)
	if timeout < time.Millisecond {
		return time.Millisecond
	}
	return timeout
}

// TargetRegistry tracks the active Type B targets by number. It is owned by
// a Device and shares its lock.
type TargetRegistry struct {
	targets map[byte]*CardTarget
}

// NewTargetRegistry returns an empty registry.
func NewTargetRegistry() *TargetRegistry {
	return &TargetRegistry{targets: make(map[byte]*CardTarget, MaxTargets)}
}

// Allocate returns the lowest unused target number in 1..MaxTargets.
func (r *TargetRegistry) Allocate() (byte, error) {
	for n := byte(1); n <= MaxTargets; n++ {
		if _, used := r.targets[n]; !used {
			return n, nil
		}
	}
	return 0, ErrRegistryFull
}

// Add registers target under its number.
func (r *TargetRegistry) Add(target *CardTarget) error {
	if target.Number < 1 || target.Number > MaxTargets {
		return fmt.Errorf("%w: target number %d outside 1..%d", ErrInvalidParameter, target.Number, MaxTargets)
	}
	if _, used := r.targets[target.Number]; used {
		return fmt.Errorf("%w: target number %d already in use", ErrInvalidParameter, target.Number)
	}
	r.targets[target.Number] = target
	return nil
}

// Get returns the target registered under n.
func (r *TargetRegistry) Get(n byte) (*CardTarget, bool) {
	target, ok := r.targets[n]
	return target, ok
}

// Remove drops target n. It reports whether the target was registered.
func (r *TargetRegistry) Remove(n byte) bool {
	if _, ok := r.targets[n]; !ok {
		return false
	}
	delete(r.targets, n)
	return true
}

// Len returns the number of registered targets.
func (r *TargetRegistry) Len() int {
	return len(r.targets)
}

// Targets returns copies of the registered targets ordered by number.
func (r *TargetRegistry) Targets() []CardTarget {
	out := make([]CardTarget, 0, len(r.targets))
	for _, target := range r.targets {
		out = append(out, *target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Prune removes every target for which keep returns false and returns the
// removed numbers in ascending order.
func (r *TargetRegistry) Prune(keep func(*CardTarget) bool) []byte {
	var removed []byte
	for _, n := range r.numbers() {
		if !keep(r.targets[n]) {
			delete(r.targets, n)
			removed = append(removed, n)
		}
	}
	return removed
}

func (r *TargetRegistry) numbers() []byte {
	numbers := make([]byte, 0, len(r.targets))
	for n := range r.targets {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers
}
