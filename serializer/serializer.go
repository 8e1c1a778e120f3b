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

// Package serializer implements the cooperative single-permit scheduler
// that lets one VM thread and any tasks it spawns interleave without data
// races, without ever running two tasks' script code concurrently.
//
// Exactly one task holds the permit at a time (I1). CoYield releases the
// permit and blocks until it is reacquired, giving another ready task a
// chance to run before this one continues (I2). CoSpawn registers a new
// task in the SharedContext but does not hand it the permit; a spawned
// task only runs once it is scheduled and acquires the permit on its own,
// same as any other task (I3).
package serializer

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// TaskID identifies one cooperative task within a SharedContext.
type TaskID uint64

// SharedContext holds the per-task data visible across a serialization
// group: every task spawned from the same Serializer shares one
// SharedContext instance and reaches its siblings' data only by TaskID
// lookup, never by raw pointer, so the ownership model in package heap is
// the only way to actually touch another task's values.
type SharedContext[SD any] struct {
	mu     sync.Mutex
	tasks  map[TaskID]SD
	nextID TaskID
}

// NewSharedContext returns an empty SharedContext.
func NewSharedContext[SD any]() *SharedContext[SD] {
	return &SharedContext[SD]{tasks: make(map[TaskID]SD)}
}

func (c *SharedContext[SD]) register(data SD) TaskID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.tasks[id] = data
	return id
}

// Get returns the data registered for id.
func (c *SharedContext[SD]) Get(id TaskID) (SD, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.tasks[id]
	return d, ok
}

// Forget removes a finished task's data from the context.
func (c *SharedContext[SD]) Forget(id TaskID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, id)
}

// Len returns the number of tasks currently registered, used by finish()
// to tell whether any spawned task is still outstanding.
func (c *SharedContext[SD]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// Serializer is one serialization group: the permit, the shared task
// table, and the per-group FFI call rate limiter.
type Serializer[SD any] struct {
	ctx    *SharedContext[SD]
	permit *semaphore.Weighted
	clock  Clock
	limiter *rate.Limiter
}

// New returns a Serializer with an unheld permit, ready for the caller to
// register its first task and Acquire.
func New[SD any](clock Clock, callsPerSecond rate.Limit, burst int) *Serializer[SD] {
	if clock == nil {
		clock = RealClock
	}
	return &Serializer[SD]{
		ctx:     NewSharedContext[SD](),
		permit:  semaphore.NewWeighted(1),
		clock:   clock,
		limiter: rate.NewLimiter(callsPerSecond, burst),
	}
}

// Context returns the SharedContext this Serializer's tasks share.
func (s *Serializer[SD]) Context() *SharedContext[SD] { return s.ctx }

// Limiter returns the per-group FFI call rate limiter this Serializer was
// built with. Nothing in this module consults it: ffi.Registry gates its
// checked call path with a limiter of its own.
func (s *Serializer[SD]) Limiter() *rate.Limiter { return s.limiter }

// NewTask registers data under a fresh TaskID. It does not acquire the
// permit: per I3, a newly spawned task is merely eligible to run, not
// running.
func (s *Serializer[SD]) NewTask(data SD) TaskID {
	return s.ctx.register(data)
}

// Acquire blocks until this goroutine holds the permit, or ctx is
// canceled. Exactly one caller across the whole Serializer holds the
// permit between a successful Acquire and the matching Release (I1).
func (s *Serializer[SD]) Acquire(ctx context.Context) error {
	return s.permit.Acquire(ctx, 1)
}

// Release gives up the permit this goroutine holds.
func (s *Serializer[SD]) Release() {
	s.permit.Release(1)
}

// CoYield implements a script's YIELD instruction: release the permit,
// give another ready task a chance to acquire it, then block until this
// task reacquires it (I2). Between Release and the successful re-Acquire,
// this task must not touch any heap Wrapper's state — the whole point of
// the permit is that only its holder may.
func (s *Serializer[SD]) CoYield(ctx context.Context) error {
	s.Release()
	return s.Acquire(ctx)
}

// CoAwait implements a script's AWAIT instruction over a Future: release
// the permit, block on the future resolving, then reacquire the permit
// before returning the result. Releasing across the await (rather than
// holding the permit while blocked) is what lets a spawned task make
// progress while this one waits.
func CoAwait[SD any, T any](ctx context.Context, s *Serializer[SD], fut Future[T]) (T, error) {
	s.Release()
	defer func() {
		// Best-effort reacquire: a failed reacquire (context canceled)
		// leaves the permit unheld, which is the caller's cue to treat
		// the task as dead rather than silently running without a permit.
		_ = s.Acquire(ctx)
	}()
	return fut.Await(ctx)
}

// CoSpawn registers a new task with data and starts fn in its own
// goroutine. fn is responsible for calling Acquire before touching any
// shared state and Done (then Release) when done; CoSpawn itself never blocks
// on fn and never grants it the permit (I3).
func (s *Serializer[SD]) CoSpawn(data SD, fn func(id TaskID)) TaskID {
	id := s.NewTask(data)
	go fn(id)
	return id
}

// Done removes a completed task from the shared context. Every spawned
// task calls this for itself (typically via defer) once it has released
// the permit for the last time.
func (s *Serializer[SD]) Done(id TaskID) {
	s.ctx.Forget(id)
}

// Finish implements finish(): called once by the main task, mainID, after
// it has no more script code of its own to run and every task it SPAWNed
// has either been AWAITed or abandoned. It repeatedly yields the permit —
// giving any task still registered in the SharedContext a chance to run to
// completion and call Done for itself — and blocks until none remain, then
// deregisters mainID itself. The caller must hold the permit when calling
// Finish, the same precondition CoYield has.
//
// This is the drain-all counterpart to the per-task Done: a serialization
// group's SharedContext must be empty by the time its main task is done
// with it, never leaking an entry for a task nothing will ever await again.
func (s *Serializer[SD]) Finish(ctx context.Context, mainID TaskID) error {
	for s.ctx.Len() > 1 {
		if err := s.CoYield(ctx); err != nil {
			return err
		}
	}
	s.ctx.Forget(mainID)
	if n := s.ctx.Len(); n != 0 {
		panic("serializer: finish() left tasks registered in SharedContext")
	}
	return nil
}
