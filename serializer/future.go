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

import "context"

// Future is anything a script's AWAIT instruction can block on: a spawned
// task's eventual result, a delayed value, an in-flight FFI call. Await
// blocks the calling goroutine (not the permit holder, which CoAwait has
// already released by the time it calls Await) until a result or error is
// ready, or ctx is canceled.
type Future[T any] interface {
	Await(ctx context.Context) (T, error)
}

// DelayFuture resolves once its Clock releases it, used to model a task
// that performs simulated background work before producing a value.
type DelayFuture[T any] struct {
	Clock  Clock
	Result T
	Err    error
}

// Await blocks on Clock.Sleep (real time in production, or a test's
// ManualClock.Advance) and then returns Result/Err.
func (f DelayFuture[T]) Await(ctx context.Context) (T, error) {
	done := make(chan struct{})
	go func() {
		f.Clock.Sleep(0)
		close(done)
	}()
	select {
	case <-done:
		return f.Result, f.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ChanFuture adapts a channel-producing computation (e.g. a spawned task
// reporting its result) into a Future.
type ChanFuture[T any] struct {
	Ch <-chan T
}

func (f ChanFuture[T]) Await(ctx context.Context) (T, error) {
	select {
	case v := <-f.Ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
