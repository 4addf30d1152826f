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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type fakeDevice struct {
	polls    atomic.Int32
	refresh  atomic.Int32
	resyncs  atomic.Int32
	pollCost time.Duration
}

func (f *fakeDevice) PollStatus() {
	if f.pollCost > 0 {
		time.Sleep(f.pollCost)
	}
	f.polls.Inc()
}

func (f *fakeDevice) RequestKillRefresh() {
	f.refresh.Inc()
}

func (f *fakeDevice) ResyncTimings() bool {
	f.resyncs.Inc()
	return false
}

func TestDeviceActor_StartStop(t *testing.T) {
	t.Parallel()
	device := &fakeDevice{}
	actor := NewDeviceActor(device, &Config{PollInterval: 10 * time.Millisecond}, DeviceCallbacks{})

	require.NoError(t, actor.Start(context.Background()))
	assert.True(t, actor.IsRunning())
	// Second start is a no-op
	require.NoError(t, actor.Start(context.Background()))

	require.NoError(t, actor.Stop(context.Background()))
	assert.False(t, actor.IsRunning())
}

func TestDeviceActor_PollsImmediatelyAndPeriodically(t *testing.T) {
	t.Parallel()
	device := &fakeDevice{}
	actor := NewDeviceActor(device, &Config{PollInterval: 10 * time.Millisecond}, DeviceCallbacks{})

	require.NoError(t, actor.Start(context.Background()))
	assert.Eventually(t, func() bool { return device.polls.Load() >= 3 },
		time.Second, 5*time.Millisecond)
	require.NoError(t, actor.Stop(context.Background()))

	metrics := actor.GetMetrics()
	assert.Equal(t, int64(device.polls.Load()), metrics.PollCycles)
	assert.Zero(t, metrics.SleepEvents)
}

func TestDeviceActor_StopsWithContext(t *testing.T) {
	t.Parallel()
	device := &fakeDevice{}
	actor := NewDeviceActor(device, &Config{PollInterval: 5 * time.Millisecond}, DeviceCallbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, actor.Start(ctx))
	cancel()
	assert.Eventually(t, func() bool { return !actor.IsRunning() }, time.Second, 5*time.Millisecond)

	// Restart after the context ended
	require.NoError(t, actor.Start(context.Background()))
	require.NoError(t, actor.Stop(context.Background()))
}

func TestDeviceActor_SleepGapRefreshesBoard(t *testing.T) {
	t.Parallel()
	// A slow poll makes the next tick look like a host sleep gap
	device := &fakeDevice{pollCost: 40 * time.Millisecond}
	var gaps atomic.Int32
	actor := NewDeviceActor(device, &Config{
		PollInterval: 5 * time.Millisecond,
		SleepRecovery: SleepRecoveryConfig{
			Enabled:                    true,
			TimeDiscontinuityThreshold: 20 * time.Millisecond,
		},
	}, DeviceCallbacks{
		OnSleepDetected: func(time.Duration) { gaps.Inc() },
	})

	require.NoError(t, actor.Start(context.Background()))
	assert.Eventually(t, func() bool { return device.refresh.Load() > 0 },
		2*time.Second, 5*time.Millisecond)
	require.NoError(t, actor.Stop(context.Background()))

	assert.Positive(t, actor.GetMetrics().SleepEvents)
	assert.Equal(t, device.refresh.Load(), device.resyncs.Load())
	assert.Equal(t, gaps.Load(), device.refresh.Load())
}

func TestSleepRecoveryConfig_DetectSleep(t *testing.T) {
	t.Parallel()
	cfg := DefaultSleepRecoveryConfig()
	poll := 300 * time.Millisecond

	assert.False(t, cfg.DetectSleep(poll, poll))
	assert.False(t, cfg.DetectSleep(poll+2*time.Second, poll))
	assert.True(t, cfg.DetectSleep(poll+2*time.Second+time.Millisecond, poll))

	cfg.Enabled = false
	assert.False(t, cfg.DetectSleep(time.Hour, poll))
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.Equal(t, 300*time.Millisecond, cfg.PollInterval)
	assert.True(t, cfg.SleepRecovery.Enabled)
}
