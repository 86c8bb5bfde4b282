//go:build deadlock

// Package syncutil provides the mutex types used by the NFC service components.
// Building with -tags=deadlock swaps in github.com/sasha-s/go-deadlock so lock
// ordering mistakes between the routing, polling and dispatch locks surface as
// reports instead of hangs.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// Mutex wraps deadlock.Mutex for deadlock detection.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex for deadlock detection.
type RWMutex struct {
	deadlock.RWMutex
}

// SetLockTimeout changes how long a lock may be waited on before go-deadlock
// reports it.
func SetLockTimeout(d time.Duration) {
	deadlock.Opts.DeadlockTimeout = d
}
