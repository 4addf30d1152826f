//go:build deadlock

// Package syncutil provides the mutex used for every critical section shared
// between caller goroutines and the bus executor.
// This file is compiled when building with -tags=deadlock.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex wraps deadlock.Mutex for deadlock detection.
type Mutex struct {
	deadlock.Mutex
}
