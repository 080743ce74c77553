//go:build deadlock

// Package syncutil provides the mutex types guarding the PN5180 bus and the
// target registry. This file is compiled when building with -tags=deadlock.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DiscoveryLockBudget bounds how long a discovery pass may legitimately hold
// the device lock. A poll window plus the keep-alive pass over 14 targets
// stays well below it.
const DiscoveryLockBudget = 2 * time.Minute

func init() {
	deadlock.Opts.DeadlockTimeout = DiscoveryLockBudget
}

// Mutex wraps deadlock.Mutex for deadlock detection.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex for deadlock detection.
type RWMutex struct {
	deadlock.RWMutex
}
