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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	actuator "github.com/uwrt/go-actuator"
	"github.com/uwrt/go-actuator/internal/syncutil"
)

// Max clock frequency (400 kHz).
const maxClockFreq = 400 * physic.KiloHertz

type entry struct {
	transfer *actuator.Transfer
	flag     *actuator.InProgress
}

// Stats is a snapshot of the queue counters.
type Stats struct {
	Enqueued  uint64
	Completed uint64
	Failed    uint64
	Timeouts  uint64
	Overflows uint64
}

// QueueOption configures a Queue
type QueueOption func(*Queue) error

// WithQueueDepth sets how many transfers may wait behind the executing one.
func WithQueueDepth(depth int) QueueOption {
	return func(q *Queue) error {
		if depth <= 0 {
			return fmt.Errorf("%w: queue depth %d", actuator.ErrInvalidConfig, depth)
		}
		q.depth = depth
		return nil
	}
}

// Queue serializes transfers on one bus and executes them on a single
// executor goroutine. It implements actuator.Transport.
//
// Handlers run on the executor goroutine without the queue lock held, so they
// may call Enqueue. A transfer's Next link is executed before anything
// enqueued after it.
type Queue struct {
	bus       i2c.Bus
	cond      *sync.Cond
	name      string
	ring      []entry // depth+1 long, the spare entry holds a chained Next
	wbuf      []byte
	rbuf      []byte
	wg        sync.WaitGroup
	stalled   <-chan error // abandoned bus call, owned by the executor
	timeout   time.Duration
	depth     int
	head      int
	count     int
	enqueued  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	timeouts  atomic.Uint64
	overflows atomic.Uint64
	mu        syncutil.Mutex
	ready     bool
	closing   bool
	busy      bool
}

// NewQueue creates a transfer queue on bus. The queue accepts transfers only
// after Init.
func NewQueue(bus i2c.Bus, opts ...QueueOption) (*Queue, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", actuator.ErrInvalidParameter)
	}
	q := &Queue{
		bus:   bus,
		name:  bus.String(),
		depth: actuator.DefaultQueueDepth,
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	q.ring = make([]entry, q.depth+1)
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// Init configures the bus clock and starts the executor. speed is clamped to
// 400 kHz; a bus that refuses the speed keeps its default. timeout bounds
// each bus phase.
func (q *Queue) Init(speed physic.Frequency, timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: bus timeout must be positive", actuator.ErrInvalidParameter)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closing {
		return actuator.ErrTransportClosed
	}
	if q.ready {
		return actuator.ErrAlreadyInitialized
	}

	if speed > maxClockFreq {
		speed = maxClockFreq
	}
	if speed > 0 {
		if err := q.bus.SetSpeed(speed); err != nil {
			glog.Warningf("i2c: %s: unable to set speed %s, using bus default: %v", q.name, speed, err)
		}
	}

	q.timeout = timeout
	q.ready = true
	q.wg.Add(1)
	go q.run()
	glog.V(1).Infof("i2c: %s ready (speed %s, timeout %s, depth %d)", q.name, speed, timeout, q.depth)
	return nil
}

// Enqueue appends t and raises flag. It never blocks on bus activity. A full
// queue rejects the transfer with a *actuator.TransportError wrapping
// actuator.ErrQueueOverflow.
func (q *Queue) Enqueue(t *actuator.Transfer, flag *actuator.InProgress) error {
	if t == nil {
		return fmt.Errorf("%w: nil transfer", actuator.ErrInvalidParameter)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.closing:
		return actuator.ErrTransportClosed
	case !q.ready:
		return actuator.ErrNotInitialized
	case q.count >= q.depth:
		q.overflows.Inc()
		glog.Warningf("i2c: %s: transfer queue overflow (depth %d), rejecting transfer to 0x%02X",
			q.name, q.depth, t.Addr)
		return actuator.NewOverflowError(q.name, t.Addr)
	}

	if flag != nil {
		flag.Add()
	}
	q.ring[(q.head+q.count)%len(q.ring)] = entry{transfer: t, flag: flag}
	q.count++
	q.enqueued.Inc()
	q.cond.Broadcast()
	return nil
}

// pushFront schedules a chained transfer ahead of all pending work. The spare
// ring entry guarantees room.
func (q *Queue) pushFront(e entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head = (q.head - 1 + len(q.ring)) % len(q.ring)
	q.ring[q.head] = e
	q.count++
	q.enqueued.Inc()
}

// Flush waits until every queued transfer has finished and the executor is
// idle, or ctx is done.
func (q *Queue) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count > 0 || q.busy {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flush %s: %w", q.name, err)
		}
		q.cond.Wait()
	}
	return nil
}

// Close rejects new transfers, lets the executor drain the queue and waits
// for it to exit. The bus itself is not closed.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closing {
		q.mu.Unlock()
		return nil
	}
	q.closing = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Stats returns the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Timeouts:  q.timeouts.Load(),
		Overflows: q.overflows.Load(),
	}
}

// Len returns the number of transfers waiting to execute.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		e, ok := q.next()
		if !ok {
			return
		}
		q.execute(e)
	}
}

// next pops the oldest entry, sleeping while the queue is empty. It returns
// false once the queue is closing and drained.
func (q *Queue) next() (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.busy = false
	for q.count == 0 {
		q.cond.Broadcast() // idle: wake Flush
		if q.closing {
			return entry{}, false
		}
		q.cond.Wait()
	}
	e := q.ring[q.head]
	q.ring[q.head] = entry{}
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	q.busy = true
	return e, true
}

func (q *Queue) execute(e entry) {
	t := e.transfer
	next := t.Next

	if err := q.transact(t); err != nil {
		q.failed.Inc()
		if errors.Is(err, actuator.ErrTransportTimeout) {
			q.timeouts.Inc()
		}
		glog.V(2).Infof("i2c: %v", err)
		if t.Handler != nil {
			t.Handler.TransferFailed(t, err)
		}
		if e.flag != nil {
			e.flag.Done()
		}
		return
	}

	q.completed.Inc()
	if next != nil {
		q.pushFront(entry{transfer: next, flag: e.flag})
	}
	if t.Handler != nil {
		t.Handler.TransferDone(t)
	}
	if next == nil && e.flag != nil {
		e.flag.Done()
	}
}

// transact runs the write then the read phase of t. NoStop merges them into
// one combined transaction with a repeated start.
func (q *Queue) transact(t *actuator.Transfer) error {
	w, r := len(t.Tx), len(t.Rx)
	if t.NoStop && w > 0 && r > 0 {
		return q.phase(t.Addr, "Tx", actuator.AbortPhaseWriteRead, t.Tx, t.Rx)
	}
	if w > 0 {
		if err := q.phase(t.Addr, "Write", actuator.AbortPhaseWrite, t.Tx, nil); err != nil {
			return err
		}
	}
	if r > 0 {
		return q.phase(t.Addr, "Read", actuator.AbortPhaseRead, nil, t.Rx)
	}
	return nil
}

// phase performs one bus call bounded by the queue timeout. It works on
// scratch buffers; a call that times out is abandoned together with them, so
// the caller's buffers are never touched after the handler ran. While an
// abandoned call is still running no new call is started: the phase waits for
// it within its own timeout and fails if it does not return.
func (q *Queue) phase(addr uint16, op string, code uint32, w, r []byte) error {
	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	if q.stalled != nil {
		select {
		case <-q.stalled:
			q.stalled = nil
		case <-timer.C:
			return actuator.NewTimeoutError(op, q.name, addr, code)
		}
	}

	var wbuf, rbuf []byte
	if len(w) > 0 {
		q.wbuf = append(q.wbuf[:0], w...)
		wbuf = q.wbuf
	}
	if len(r) > 0 {
		if cap(q.rbuf) < len(r) {
			q.rbuf = make([]byte, len(r))
		}
		rbuf = q.rbuf[:len(r)]
	}

	done := make(chan error, 1)
	go func() {
		done <- q.bus.Tx(addr, wbuf, rbuf)
	}()

	select {
	case err := <-done:
		if err != nil {
			return actuator.NewBusError(op, q.name, addr, code, err)
		}
		copy(r, rbuf)
		return nil
	case <-timer.C:
		// The stalled call still owns the scratch buffers
		q.wbuf, q.rbuf = nil, nil
		q.stalled = done
		return actuator.NewTimeoutError(op, q.name, addr, code)
	}
}
