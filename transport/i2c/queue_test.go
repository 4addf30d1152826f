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

package i2c

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	actuator "github.com/uwrt/go-actuator"
)

const testAddr = 0x1C

// recorder is a TransferHandler that logs outcomes by transfer name (Context).
type recorder struct {
	onDone func(t *actuator.Transfer)
	events []string
	errs   []error
	mu     sync.Mutex
}

func (r *recorder) TransferDone(t *actuator.Transfer) {
	r.mu.Lock()
	r.events = append(r.events, "done:"+t.Context.(string))
	fn := r.onDone
	r.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (r *recorder) TransferFailed(t *actuator.Transfer, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "failed:"+t.Context.(string))
	r.errs = append(r.errs, err)
}

func (r *recorder) snapshot() ([]string, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]error(nil), r.errs...)
}

// heldBus blocks every Tx until release is closed.
type heldBus struct {
	i2c.Bus
	entered chan struct{}
	release chan struct{}
}

func newHeldBus(inner i2c.Bus) *heldBus {
	return &heldBus{Bus: inner, entered: make(chan struct{}, 64), release: make(chan struct{})}
}

func (b *heldBus) Tx(addr uint16, w, r []byte) error {
	b.entered <- struct{}{}
	<-b.release
	return b.Bus.Tx(addr, w, r)
}

// stuckBus never completes a transaction until the test ends.
type stuckBus struct {
	unblock chan struct{}
	calls   atomic.Int32
}

func (*stuckBus) String() string                    { return "stuck" }
func (*stuckBus) SetSpeed(_ physic.Frequency) error { return nil }
func (b *stuckBus) Tx(_ uint16, _, r []byte) error {
	b.calls.Inc()
	<-b.unblock
	for i := range r {
		r[i] = 0xEE
	}
	return nil
}

func newTransfer(name string, h actuator.TransferHandler, tx []byte, rxLen int) *actuator.Transfer {
	var rx []byte
	if rxLen > 0 {
		rx = make([]byte, rxLen)
	}
	return &actuator.Transfer{Handler: h, Context: name, Addr: testAddr, Tx: tx, Rx: rx}
}

func startQueue(t *testing.T, bus i2c.Bus, opts ...QueueOption) *Queue {
	t.Helper()
	q, err := NewQueue(bus, opts...)
	require.NoError(t, err)
	require.NoError(t, q.Init(100*physic.KiloHertz, time.Second))
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func flush(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Flush(ctx))
}

func TestQueue_EnqueueBeforeInit(t *testing.T) {
	t.Parallel()

	q, err := NewQueue(&i2ctest.Playback{DontPanic: true})
	require.NoError(t, err)

	var flag actuator.InProgress
	err = q.Enqueue(newTransfer("early", &recorder{}, []byte{0x00, 0x00}, 0), &flag)
	require.ErrorIs(t, err, actuator.ErrNotInitialized)
	assert.False(t, flag.Busy())
}

func TestQueue_InitOnce(t *testing.T) {
	t.Parallel()

	q := startQueue(t, &i2ctest.Playback{DontPanic: true})
	err := q.Init(100*physic.KiloHertz, time.Second)
	require.ErrorIs(t, err, actuator.ErrAlreadyInitialized)

	_, err = NewQueue(&i2ctest.Playback{}, WithQueueDepth(0))
	require.ErrorIs(t, err, actuator.ErrInvalidConfig)
}

func TestQueue_WriteThenRead(t *testing.T) {
	t.Parallel()

	bus := &i2ctest.Playback{
		DontPanic: true,
		Ops: []i2ctest.IO{
			{Addr: testAddr, W: []byte{0x01, 0x07}},
			{Addr: testAddr, R: []byte{0x00, 0x00}},
		},
	}
	q := startQueue(t, bus)
	rec := &recorder{}
	var flag actuator.InProgress

	xfer := newTransfer("open", rec, []byte{0x01, 0x07}, 2)
	xfer.Rx[0] = 0xFF
	require.NoError(t, q.Enqueue(xfer, &flag))
	flush(t, q)

	events, _ := rec.snapshot()
	assert.Equal(t, []string{"done:open"}, events)
	assert.Equal(t, []byte{0x00, 0x00}, xfer.Rx)
	assert.False(t, flag.Busy())
	require.NoError(t, bus.Close())

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.Completed)
}

func TestQueue_NoStopCombinesPhases(t *testing.T) {
	t.Parallel()

	bus := &i2ctest.Playback{
		DontPanic: true,
		Ops: []i2ctest.IO{
			{Addr: testAddr, W: []byte{0x00, 0x00}, R: []byte{0x00, 0x01, 0x00}},
		},
	}
	q := startQueue(t, bus)
	rec := &recorder{}

	xfer := newTransfer("status", rec, []byte{0x00, 0x00}, 3)
	xfer.NoStop = true
	require.NoError(t, q.Enqueue(xfer, nil))
	flush(t, q)

	assert.Equal(t, []byte{0x00, 0x01, 0x00}, xfer.Rx)
	require.NoError(t, bus.Close())
}

func TestQueue_BusErrorCallsFailure(t *testing.T) {
	t.Parallel()

	// The board NACKs the read: playback has no op for it
	bus := &i2ctest.Playback{
		DontPanic: true,
		Ops:       []i2ctest.IO{{Addr: testAddr, W: []byte{0x02, 0x0E}}},
	}
	q := startQueue(t, bus)
	rec := &recorder{}
	var flag actuator.InProgress

	xfer := newTransfer("close", rec, []byte{0x02, 0x0E}, 2)
	require.NoError(t, q.Enqueue(xfer, &flag))
	flush(t, q)

	events, errs := rec.snapshot()
	assert.Equal(t, []string{"failed:close"}, events)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], actuator.ErrTransportRead)

	var te *actuator.TransportError
	require.ErrorAs(t, errs[0], &te)
	assert.Equal(t, actuator.AbortBusError|actuator.AbortPhaseRead, te.Code)
	assert.Equal(t, uint16(testAddr), te.Addr)
	assert.False(t, flag.Busy())
	assert.Equal(t, uint64(1), q.Stats().Failed)
}

func TestQueue_FailureDoesNotStopQueue(t *testing.T) {
	t.Parallel()

	bus := &i2ctest.Playback{
		DontPanic: true,
		Ops: []i2ctest.IO{
			{Addr: testAddr, W: []byte{0x04, 0x1C}},
		},
	}
	q := startQueue(t, bus)
	rec := &recorder{}

	// First write mismatches the playback and fails, the second matches
	require.NoError(t, q.Enqueue(newTransfer("bad", rec, []byte{0x05, 0x09}, 0), nil))
	require.NoError(t, q.Enqueue(newTransfer("arm", rec, []byte{0x04, 0x1C}, 0), nil))
	flush(t, q)

	events, _ := rec.snapshot()
	assert.Equal(t, []string{"failed:bad", "done:arm"}, events)
}

func TestQueue_ChainedTransferRunsNext(t *testing.T) {
	t.Parallel()

	inner := &i2ctest.Playback{
		DontPanic: true,
		Ops: []i2ctest.IO{
			{Addr: testAddr, W: []byte{0xA1}},
			{Addr: testAddr, W: []byte{0xA2}},
			{Addr: testAddr, W: []byte{0xB1}},
		},
	}
	bus := newHeldBus(inner)
	q := startQueue(t, bus)

	var chainFlag, otherFlag actuator.InProgress
	var busyAtFirst, busyAtLast bool
	rec := &recorder{}
	rec.onDone = func(xfer *actuator.Transfer) {
		switch xfer.Context {
		case "first":
			busyAtFirst = chainFlag.Busy()
		case "second":
			busyAtLast = chainFlag.Busy()
		}
	}

	second := newTransfer("second", rec, []byte{0xA2}, 0)
	first := newTransfer("first", rec, []byte{0xA1}, 0)
	first.Next = second

	require.NoError(t, q.Enqueue(first, &chainFlag))
	<-bus.entered // first is executing
	require.NoError(t, q.Enqueue(newTransfer("other", rec, []byte{0xB1}, 0), &otherFlag))
	assert.True(t, chainFlag.Busy())
	close(bus.release)
	flush(t, q)

	events, _ := rec.snapshot()
	assert.Equal(t, []string{"done:first", "done:second", "done:other"}, events)
	assert.True(t, busyAtFirst, "flag must stay raised across the chain")
	assert.True(t, busyAtLast, "flag clears only after the terminal handler returned")
	assert.False(t, chainFlag.Busy())
	assert.False(t, otherFlag.Busy())
	require.NoError(t, inner.Close())
}

func TestQueue_ChainStopsOnFailure(t *testing.T) {
	t.Parallel()

	bus := &i2ctest.Playback{DontPanic: true}
	q := startQueue(t, bus)
	rec := &recorder{}
	var flag actuator.InProgress

	first := newTransfer("first", rec, []byte{0x01}, 0)
	first.Next = newTransfer("second", rec, []byte{0x02}, 0)
	require.NoError(t, q.Enqueue(first, &flag))
	flush(t, q)

	events, _ := rec.snapshot()
	assert.Equal(t, []string{"failed:first"}, events)
	assert.False(t, flag.Busy())
}

func TestQueue_Overflow(t *testing.T) {
	t.Parallel()

	ops := make([]i2ctest.IO, 3)
	for i := range ops {
		ops[i] = i2ctest.IO{Addr: testAddr, W: []byte{byte(i)}}
	}
	inner := &i2ctest.Playback{DontPanic: true, Ops: ops}
	bus := newHeldBus(inner)
	q := startQueue(t, bus, WithQueueDepth(2))
	rec := &recorder{}

	require.NoError(t, q.Enqueue(newTransfer("0", rec, []byte{0}, 0), nil))
	<-bus.entered
	require.NoError(t, q.Enqueue(newTransfer("1", rec, []byte{1}, 0), nil))
	require.NoError(t, q.Enqueue(newTransfer("2", rec, []byte{2}, 0), nil))

	var flag actuator.InProgress
	err := q.Enqueue(newTransfer("3", rec, []byte{3}, 0), &flag)
	require.ErrorIs(t, err, actuator.ErrQueueOverflow)
	assert.True(t, actuator.IsFatal(err))
	assert.False(t, flag.Busy(), "rejected transfer must not raise its flag")
	assert.Equal(t, uint64(1), q.Stats().Overflows)

	close(bus.release)
	flush(t, q)
	events, _ := rec.snapshot()
	assert.Equal(t, []string{"done:0", "done:1", "done:2"}, events)
}

func TestQueue_Timeout(t *testing.T) {
	t.Parallel()

	bus := &stuckBus{unblock: make(chan struct{})}
	t.Cleanup(func() { close(bus.unblock) })

	q, err := NewQueue(bus)
	require.NoError(t, err)
	require.NoError(t, q.Init(0, 20*time.Millisecond))
	t.Cleanup(func() { _ = q.Close() })

	rec := &recorder{}
	var flag actuator.InProgress
	xfer := newTransfer("status", rec, nil, 3)
	require.NoError(t, q.Enqueue(xfer, &flag))
	flush(t, q)

	events, errs := rec.snapshot()
	assert.Equal(t, []string{"failed:status"}, events)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], actuator.ErrTransportTimeout)
	assert.Equal(t, actuator.ErrorTypeTimeout, actuator.GetErrorType(errs[0]))
	assert.Equal(t, []byte{0, 0, 0}, xfer.Rx, "abandoned call must not write caller buffers")
	assert.False(t, flag.Busy())
	assert.Equal(t, uint64(1), q.Stats().Timeouts)
}

func TestQueue_StalledCallBlocksNewCalls(t *testing.T) {
	t.Parallel()

	bus := &stuckBus{unblock: make(chan struct{})}
	q, err := NewQueue(bus)
	require.NoError(t, err)
	require.NoError(t, q.Init(0, 20*time.Millisecond))
	t.Cleanup(func() { _ = q.Close() })

	rec := &recorder{}
	for _, name := range []string{"status", "kill", "claw"} {
		require.NoError(t, q.Enqueue(newTransfer(name, rec, []byte{0x00}, 0), nil))
	}
	flush(t, q)

	events, errs := rec.snapshot()
	assert.Equal(t, []string{"failed:status", "failed:kill", "failed:claw"}, events)
	for _, err := range errs {
		assert.ErrorIs(t, err, actuator.ErrTransportTimeout)
	}
	assert.Equal(t, int32(1), bus.calls.Load(), "no call is started while one is stuck")
	assert.Equal(t, uint64(3), q.Stats().Timeouts)

	// Once the stuck call returns the bus is used again
	close(bus.unblock)
	xfer := newTransfer("status", rec, nil, 3)
	require.NoError(t, q.Enqueue(xfer, nil))
	flush(t, q)

	events, _ = rec.snapshot()
	assert.Equal(t, "done:status", events[len(events)-1])
	assert.Equal(t, []byte{0xEE, 0xEE, 0xEE}, xfer.Rx)
	assert.Equal(t, int32(2), bus.calls.Load())
}

func TestQueue_HandlerMayEnqueue(t *testing.T) {
	t.Parallel()

	bus := &i2ctest.Playback{
		DontPanic: true,
		Ops: []i2ctest.IO{
			{Addr: testAddr, W: []byte{0x0B, 0x01}},
			{Addr: testAddr, W: []byte{0x0B, 0x00}},
		},
	}
	q := startQueue(t, bus)
	rec := &recorder{}
	var flag actuator.InProgress
	var enqueueErr error
	resent := false
	rec.onDone = func(xfer *actuator.Transfer) {
		if resent {
			return
		}
		resent = true
		xfer.Tx[1] = 0x00
		enqueueErr = q.Enqueue(xfer, &flag)
	}

	require.NoError(t, q.Enqueue(newTransfer("kill", rec, []byte{0x0B, 0x01}, 0), &flag))
	flush(t, q)

	require.NoError(t, enqueueErr)
	events, _ := rec.snapshot()
	assert.Equal(t, []string{"done:kill", "done:kill"}, events)
	assert.False(t, flag.Busy())
	require.NoError(t, bus.Close())
}

func TestQueue_Close(t *testing.T) {
	t.Parallel()

	q, err := NewQueue(&i2ctest.Playback{DontPanic: true, Ops: []i2ctest.IO{{Addr: testAddr, W: []byte{0x0C, 0x00}}}})
	require.NoError(t, err)
	require.NoError(t, q.Init(100*physic.KiloHertz, time.Second))

	rec := &recorder{}
	require.NoError(t, q.Enqueue(newTransfer("reset", rec, []byte{0x0C, 0x00}, 0), nil))
	require.NoError(t, q.Close())

	events, _ := rec.snapshot()
	assert.Equal(t, []string{"done:reset"}, events, "close drains pending transfers")

	err = q.Enqueue(newTransfer("late", rec, []byte{0x01}, 0), nil)
	require.ErrorIs(t, err, actuator.ErrTransportClosed)
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Init(0, time.Second), actuator.ErrTransportClosed)
}

func TestQueue_FlushHonoursContext(t *testing.T) {
	t.Parallel()

	bus := newHeldBus(&i2ctest.Playback{DontPanic: true, Ops: []i2ctest.IO{{Addr: testAddr, W: []byte{0x01}}}})
	q := startQueue(t, bus)
	require.NoError(t, q.Enqueue(newTransfer("open", &recorder{}, []byte{0x01}, 0), nil))
	<-bus.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Flush(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(bus.release)
	flush(t, q)
}

func TestParseI2CPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"/dev/i2c-1:0x1C", "/dev/i2c-1"},
		{"/dev/i2c-1", "/dev/i2c-1"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseI2CPath(tt.in))
		})
	}
}
