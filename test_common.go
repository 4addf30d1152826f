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

//go:build !prod

package actuator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uwrt/go-actuator/internal/syncutil"
)

// fakeSafety records fault edges and serves a settable kill switch.
type fakeSafety struct {
	raised  map[FaultID]int
	active  map[FaultID]bool
	mu      syncutil.Mutex
	kill    bool
	queries int
}

func newFakeSafety() *fakeSafety {
	return &fakeSafety{
		raised: make(map[FaultID]int),
		active: make(map[FaultID]bool),
		kill:   true,
	}
}

func (f *fakeSafety) RaiseFault(id FaultID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised[id]++
	f.active[id] = true
}

func (f *fakeSafety) LowerFault(id FaultID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[id] = false
}

func (f *fakeSafety) AssertingKill() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	return f.kill
}

func (f *fakeSafety) setKill(asserting bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kill = asserting
}

// raises returns how many times id was raised.
func (f *fakeSafety) raises(id FaultID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raised[id]
}

func (f *fakeSafety) isActive(id FaultID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[id]
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
	mu  syncutil.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// createMockDevice creates a device on a mock transport with a fake safety
// collaborator and a fake clock.
func createMockDevice(t *testing.T, opts ...Option) (*Device, *MockTransport, *fakeSafety, *fakeClock) {
	t.Helper()
	mockTransport := NewMockTransport()
	safety := newFakeSafety()
	clock := newFakeClock()
	device, err := New(mockTransport, safety, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return device, mockTransport, safety, clock
}
