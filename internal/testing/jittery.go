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

package testing

import (
	"math/rand/v2"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/uwrt/go-actuator/internal/syncutil"
)

// JitterConfig configures the behavior of JitteryBus.
type JitterConfig struct {
	MaxLatency time.Duration
	// StallAfterCalls stalls the call following that many calls, once
	StallAfterCalls int
	StallDuration   time.Duration
	Seed            uint64
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency: 2 * time.Millisecond,
	}
}

// JitteryBus wraps an i2c.Bus to simulate a loaded bus with clock
// stretching: every call is delayed by a random latency, and one call can be
// stalled well past the transfer timeout.
//
// This is useful for testing timeout handling and races between the poll
// timer and completion handlers that only manifest with realistic timing.
type JitteryBus struct {
	backend i2c.Bus
	rng     *rand.Rand
	config  JitterConfig
	mu      syncutil.Mutex
	calls   int
	stalled bool
}

// NewJitteryBus wraps backend with jitter simulation.
func NewJitteryBus(backend i2c.Bus, config JitterConfig) *JitteryBus {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}
	return &JitteryBus{backend: backend, rng: rng, config: config}
}

// String implements i2c.Bus
func (j *JitteryBus) String() string {
	return "jittery(" + j.backend.String() + ")"
}

// SetSpeed implements i2c.Bus
func (j *JitteryBus) SetSpeed(f physic.Frequency) error {
	return j.backend.SetSpeed(f) //nolint:wrapcheck // Pass-through wrapper
}

// Tx delays, then forwards to the backend.
func (j *JitteryBus) Tx(addr uint16, w, r []byte) error {
	time.Sleep(j.delay())
	return j.backend.Tx(addr, w, r) //nolint:wrapcheck // Pass-through wrapper
}

func (j *JitteryBus) delay() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	if j.config.StallAfterCalls > 0 && !j.stalled && j.calls > j.config.StallAfterCalls {
		j.stalled = true
		return j.config.StallDuration
	}
	if j.config.MaxLatency <= 0 {
		return 0
	}
	return time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1))
}

// Stalled reports whether the one-shot stall already happened.
func (j *JitteryBus) Stalled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stalled
}

// ResetStallState re-arms the one-shot stall.
func (j *JitteryBus) ResetStallState() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = 0
	j.stalled = false
}
