//go:build !deadlock

// Package syncutil provides the mutex used for every critical section shared
// between caller goroutines and the bus executor.
// By default the standard sync.Mutex is used with zero overhead.
// Build with -tags=deadlock to enable deadlock detection via github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// Mutex wraps sync.Mutex. Build with -tags=deadlock for deadlock detection.
//
//nolint:gocritic // Intentionally embedding sync.Mutex to expose its interface
type Mutex struct {
	sync.Mutex
}
