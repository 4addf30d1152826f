// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package polling

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"
)

// Device is the part of *actuator.Device the actor drives
type Device interface {
	// PollStatus is the recurring status tick
	PollStatus()
	// RequestKillRefresh re-sends the kill switch state
	RequestKillRefresh()
	// ResyncTimings runs one timing resolver pass
	ResyncTimings() bool
}

// DeviceCallbacks defines callback functions for actor events
type DeviceCallbacks struct {
	// OnSleepDetected is called after a host sleep gap, before the resync
	OnSleepDetected func(elapsed time.Duration)
}

// DeviceMetrics tracks operational metrics for DeviceActor
type DeviceMetrics struct {
	PollCycles      int64         // Total number of polling cycles
	SleepEvents     int64         // Number of detected host sleep gaps
	LastPollLatency time.Duration // Duration of last polling operation
}

// DeviceActor owns the status poll timer of one device
type DeviceActor struct {
	device          Device
	config          *Config
	callbacks       DeviceCallbacks
	stopChan        chan struct{}
	wg              sync.WaitGroup // Tracks polling goroutine lifecycle
	pollCycles      atomic.Int64
	sleepEvents     atomic.Int64
	lastPollLatency atomic.Duration
	running         atomic.Bool
}

// NewDeviceActor creates a new device actor
func NewDeviceActor(device Device, config *Config, callbacks DeviceCallbacks) *DeviceActor {
	if config == nil {
		config = DefaultConfig()
	}
	return &DeviceActor{
		device:    device,
		config:    config,
		callbacks: callbacks,
		stopChan:  make(chan struct{}, 1), // Buffered to prevent deadlock in Stop()
	}
}

// Start launches the poll loop. Calling Start on a running actor is a no-op.
// The loop ends on Stop or when ctx is done.
func (da *DeviceActor) Start(ctx context.Context) error {
	// Only start if not already running
	if da.running.CompareAndSwap(false, true) {
		// Track goroutine for clean shutdown
		da.wg.Add(1)
		go da.pollLoop(ctx)
	}
	return nil
}

// pollLoop runs continuous polling until stopped
func (da *DeviceActor) pollLoop(ctx context.Context) {
	defer da.wg.Done()
	ticker := time.NewTicker(da.config.PollInterval)
	defer func() {
		ticker.Stop()
		// Mark as not running when goroutine exits
		da.running.Store(false)
	}()

	// Perform immediate poll before entering ticker loop for responsive startup
	last := time.Now()
	da.performPoll()

	for {
		select {
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			if da.config.SleepRecovery.DetectSleep(elapsed, da.config.PollInterval) {
				da.handleSleep(elapsed)
			}
			da.performPoll()
		case <-da.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// performPoll executes a single polling cycle
func (da *DeviceActor) performPoll() {
	if da.device == nil {
		return
	}

	start := time.Now()
	da.device.PollStatus()
	da.pollCycles.Inc()
	da.lastPollLatency.Store(time.Since(start))
}

// handleSleep re-sends state the board may have lost while the host slept.
func (da *DeviceActor) handleSleep(elapsed time.Duration) {
	da.sleepEvents.Inc()
	glog.Warningf("polling: %s since last poll, host likely slept; refreshing board state", elapsed)
	if da.callbacks.OnSleepDetected != nil {
		da.callbacks.OnSleepDetected(elapsed)
	}
	if da.device != nil {
		da.device.RequestKillRefresh()
		da.device.ResyncTimings()
	}
}

// Stop stops the device actor and waits for the polling goroutine to exit
func (da *DeviceActor) Stop(_ context.Context) error {
	select {
	case da.stopChan <- struct{}{}:
		// Successfully signaled stop
	default:
		// Channel might be closed or goroutine already stopped
	}
	// Wait for polling goroutine to fully exit
	da.wg.Wait()
	// Drain a stop signal nobody consumed
	select {
	case <-da.stopChan:
	default:
	}
	return nil
}

// IsRunning reports whether the poll loop is active
func (da *DeviceActor) IsRunning() bool {
	return da.running.Load()
}

// GetMetrics returns current operational metrics
func (da *DeviceActor) GetMetrics() DeviceMetrics {
	return DeviceMetrics{
		PollCycles:      da.pollCycles.Load(),
		SleepEvents:     da.sleepEvents.Load(),
		LastPollLatency: da.lastPollLatency.Load(),
	}
}
