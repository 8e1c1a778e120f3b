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

// Package ffi implements the ownership-aware bridge between script values
// and native Go functions: it extracts a heap.Wrapper's payload under one
// of RTLC's four access modes (move, shared borrow, mutable borrow, or an
// untracked copy), dispatches CALLFFI/CALLFFI_NOALIAS by name, and rate
// limits the checked call path. It does not import package vm: a failed
// native call reports a plain error, which the executor maps onto its
// Exception taxonomy; package vm never imports package ffi either (see
// vm.NativeRegistry).
package ffi

import (
	"github.com/pkg/errors"

	"github.com/probechain/probevm-core/heap"
	"github.com/probechain/probevm-core/value"
)

func wrapperOf(v value.Value) (*heap.Wrapper, error) {
	vw, _ := v.Ptr()
	if vw == nil {
		return nil, errors.New("ffi: expected a pointer value, got an immediate")
	}
	w, ok := vw.(*heap.Wrapper)
	if !ok {
		return nil, errors.Errorf("ffi: value references unexpected wrapper type %T", vw)
	}
	return w, nil
}

func payloadAs[T any](payload interface{}) (T, error) {
	var zero T
	t, ok := payload.(T)
	if !ok {
		return zero, errors.Errorf("ffi: wrapper payload is %T, not %T", payload, zero)
	}
	return t, nil
}

// MoveOut implements value_move_out<T>: takes T out of w by value,
// transitioning it from Owned to Moved. A second MoveOut, or any further
// access through v, fails as a use-after-move OwnershipError.
func MoveOut[T any](hp *heap.Heap, v value.Value) (T, error) {
	var zero T
	w, err := wrapperOf(v)
	if err != nil {
		return zero, err
	}
	payload, err := hp.Move(w)
	if err != nil {
		return zero, err
	}
	return payloadAs[T](payload)
}

// IntoRef implements value_into_ref<T>: lends w to native code as an
// immutable reference for the duration of the call. The returned Guard
// must be released (typically via defer) before the call thunk returns;
// until then the wrapper is SharedToRust and script code may not mutate
// or move it. Calling IntoRef again on a wrapper that is already
// SharedToRust succeeds rather than failing: any number of immutable
// native borrows may coexist, including two native calls each borrowing
// the same object across a suspension point, so long as no mutable borrow
// (IntoMutRef) is ever concurrent with them.
func IntoRef[T any](hp *heap.Heap, v value.Value) (T, *heap.Guard, error) {
	var zero T
	w, err := wrapperOf(v)
	if err != nil {
		return zero, nil, err
	}
	guard, err := hp.ShareToRust(w)
	if err != nil {
		return zero, nil, err
	}
	t, err := payloadAs[T](w.Payload)
	if err != nil {
		guard.Release()
		return zero, nil, err
	}
	return t, guard, nil
}

// IntoMutRef implements value_into_mut_ref<T>: lends w to native code as a
// mutable reference. While the Guard is live, any other borrow attempt
// (another IntoRef, IntoMutRef, MoveOut, or Copy of a Moved wrapper) on the
// same wrapper fails with OwnershipCheckFailure, including one arriving
// from a different script task after this one suspended mid-call.
func IntoMutRef[T any](hp *heap.Heap, v value.Value) (T, *heap.Guard, error) {
	var zero T
	w, err := wrapperOf(v)
	if err != nil {
		return zero, nil, err
	}
	guard, err := hp.MutShareToRust(w)
	if err != nil {
		return zero, nil, err
	}
	t, err := payloadAs[T](w.Payload)
	if err != nil {
		guard.Release()
		return zero, nil, err
	}
	return t, guard, nil
}

// Copy implements value_copy<T>: reads T without disturbing w's ownership
// state at all, the access mode Untracked payloads (byte buffers, u256
// scalars) use almost exclusively. heap.checkedTransition has no "copy"
// transition because a copy never changes state; the only illegal case is
// a copy attempted after the payload has already moved out from under v,
// which Copy checks by hand against the two moved-away states.
func Copy[T any](v value.Value) (T, error) {
	var zero T
	w, err := wrapperOf(v)
	if err != nil {
		return zero, err
	}
	switch w.State() {
	case heap.Moved, heap.MovedToRust:
		return zero, errors.WithStack(&heap.OwnershipError{Attempted: "copy", From: w.State()})
	}
	return payloadAs[T](w.Payload)
}
