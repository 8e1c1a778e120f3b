// Copyright 2024 The Probevm Authors
// This file is part of Probevm.
//
// Probevm is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Probevm is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Probevm. If not, see <http://www.gnu.org/licenses/>.

package serializer

import (
	"sync"
	"time"
)

// Clock abstracts the passage of time behind CoAwait'd delays, so tests can
// control scheduling deterministically instead of racing real timers.
type Clock interface {
	Sleep(d time.Duration)
}

// realClock is the production Clock: an ordinary blocking sleep.
type realClock struct{}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the default Clock used when none is supplied to New.
var RealClock Clock = realClock{}

// ManualClock is a Clock for tests: Sleep blocks until the test calls
// Advance, regardless of the requested duration. This lets a test assert a
// precise interleaving of cooperative tasks without depending on real wall
// time or tolerating flakiness from slow CI machines.
type ManualClock struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// NewManualClock returns a ManualClock with no pending waiters.
func NewManualClock() *ManualClock { return &ManualClock{} }

// Sleep blocks until the next call to Advance.
func (m *ManualClock) Sleep(d time.Duration) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()
	<-ch
}

// Advance releases every goroutine currently blocked in Sleep. It does not
// wait for waiters that call Sleep after Advance returns.
func (m *ManualClock) Advance() {
	m.mu.Lock()
	pending := m.waiters
	m.waiters = nil
	m.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}
