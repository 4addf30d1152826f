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

package actuator

import (
	"errors"

	"go.uber.org/atomic"

	"github.com/uwrt/go-actuator/internal/syncutil"
)

// TransferHandler receives the terminal outcome of a Transfer. Exactly one of
// the two methods is called per executed transfer, on the transport's
// executor goroutine. Implementations must be short and must never wait on
// work they enqueue themselves.
type TransferHandler interface {
	// TransferDone is called after both bus phases succeeded.
	TransferDone(t *Transfer)
	// TransferFailed is called with a *TransportError describing the abort.
	TransferFailed(t *Transfer, err error)
}

// Transfer describes one bus transaction: an optional write phase followed by
// an optional read phase. Tx and Rx must not be modified until the handler of
// the transfer (and of every chained Next transfer) has returned.
type Transfer struct {
	Handler TransferHandler
	// Next is enqueued ahead of all pending work when this transfer succeeds.
	Next    *Transfer
	Context any
	Tx      []byte
	Rx      []byte
	Addr    uint16
	// NoStop keeps the bus between the write and the read phase (repeated start).
	NoStop bool
}

// InProgress is the caller-owned busy flag of a transfer chain. It is raised
// by Enqueue and cleared after the terminal handler of the chain returned.
// A counter backs it so a handler may re-enqueue with the same flag.
type InProgress struct {
	n atomic.Int32
}

// Busy reports whether a transfer tracked by the flag is queued or executing.
func (p *InProgress) Busy() bool {
	return p.n.Load() > 0
}

// Add marks one more chain as outstanding. Called by Transport implementations.
func (p *InProgress) Add() {
	p.n.Inc()
}

// Done marks a chain as terminated. Called by Transport implementations.
func (p *InProgress) Done() {
	p.n.Dec()
}

// Transport queues transfers for asynchronous execution.
// Enqueue must be safe to call from any goroutine, including from inside a
// TransferHandler, and must never block on bus activity.
type Transport interface {
	Enqueue(t *Transfer, inProgress *InProgress) error
}

// MockTransport records enqueued transfers without executing them. Tests
// complete or fail them explicitly, which makes handler ordering deterministic.
type MockTransport struct {
	err     error
	pending []mockEntry
	mu      syncutil.Mutex
	total   int
}

type mockEntry struct {
	transfer *Transfer
	flag     *InProgress
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Enqueue records t. It fails with the error set through SetError.
func (m *MockTransport) Enqueue(t *Transfer, flag *InProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if flag != nil {
		flag.Add()
	}
	m.pending = append(m.pending, mockEntry{transfer: t, flag: flag})
	m.total++
	return nil
}

// SetError makes subsequent Enqueue calls fail with err (nil to clear).
func (m *MockTransport) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Pending returns the command ids of queued transfers in order.
func (m *MockTransport) Pending() []CommandID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]CommandID, 0, len(m.pending))
	for _, e := range m.pending {
		if len(e.transfer.Tx) > 0 {
			ids = append(ids, CommandID(e.transfer.Tx[0]))
		}
	}
	return ids
}

// Total returns the number of transfers ever accepted.
func (m *MockTransport) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Peek returns the oldest pending transfer without removing it.
func (m *MockTransport) Peek() *Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	return m.pending[0].transfer
}

var errNothingPending = errors.New("mock transport: nothing pending")

func (m *MockTransport) pop() (mockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return mockEntry{}, errNothingPending
	}
	e := m.pending[0]
	m.pending = m.pending[1:]
	return e, nil
}

func (m *MockTransport) pushFront(e mockEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append([]mockEntry{e}, m.pending...)
}

// Complete finishes the oldest pending transfer, copying response into its
// receive buffer before calling the completion handler.
func (m *MockTransport) Complete(response []byte) error {
	e, err := m.pop()
	if err != nil {
		return err
	}
	copy(e.transfer.Rx, response)
	next := e.transfer.Next
	if next != nil {
		m.pushFront(mockEntry{transfer: next, flag: e.flag})
	}
	if e.transfer.Handler != nil {
		e.transfer.Handler.TransferDone(e.transfer)
	}
	if next == nil && e.flag != nil {
		e.flag.Done()
	}
	return nil
}

// Fail aborts the oldest pending transfer with err.
func (m *MockTransport) Fail(err error) error {
	e, popErr := m.pop()
	if popErr != nil {
		return popErr
	}
	if e.transfer.Handler != nil {
		e.transfer.Handler.TransferFailed(e.transfer, err)
	}
	if e.flag != nil {
		e.flag.Done()
	}
	return nil
}
