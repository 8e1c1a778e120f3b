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

// Package heap implements the heap Wrapper header and its Run-Time
// Lifetime Checking (RTLC) ownership state machine: every script-visible
// heap object is reached through a Wrapper, never directly, so the VM and
// FFI bridge can police moves and borrows uniformly regardless of payload
// type.
package heap

import "github.com/pkg/errors"

// Wrapper is the header every heap-allocated script object carries. The
// GC, the VM, and the FFI bridge all operate on Wrappers; Payload is opaque
// to everyone except the native function that originally allocated it and
// knows how to type-assert it back.
type Wrapper struct {
	typeID  uint64
	state   OwnershipState
	marked  bool
	next    *Wrapper
	prev    *Wrapper
	Payload interface{}

	// rustRefs counts concurrently live ShareToRust loans. It is read and
	// written only while state == SharedToRust; a Wrapper outside that
	// state always has it at zero.
	rustRefs int
	// rustRestore is the state to return to once rustRefs drops back to
	// zero: the state the Wrapper held before the first of the coexisting
	// loans began.
	rustRestore OwnershipState
}

// TypeID identifies the payload type, for downcasting at FFI boundaries
// and for the typeck package's structural checks. It satisfies
// value.Wrapper.
func (w *Wrapper) TypeID() uint64 { return w.typeID }

// State returns the Wrapper's current ownership state.
func (w *Wrapper) State() OwnershipState { return w.state }

// Heap owns the intrusive doubly-linked list of live Wrappers and hands out
// new allocations. It is not safe for concurrent use from multiple
// goroutines without external synchronization: the serializer package's
// cooperative permit is what makes that safe in practice, the same way a
// single-threaded script execution model makes heap mutation safe without
// per-object locks.
type Heap struct {
	head *Wrapper
	tail *Wrapper
	size int
}

// New returns an empty Heap.
func New() *Heap { return &Heap{} }

// Alloc allocates a new Wrapper around payload, registers it in the heap's
// live list, and returns it in the Owned state.
func (h *Heap) Alloc(typeID uint64, payload interface{}) *Wrapper {
	w := &Wrapper{typeID: typeID, state: Owned, Payload: payload}
	h.link(w)
	return w
}

// AllocUntracked is Alloc for payloads RTLC does not police (Copy-only
// host types wrapped purely to share the allocation and GC path).
func (h *Heap) AllocUntracked(typeID uint64, payload interface{}) *Wrapper {
	w := &Wrapper{typeID: typeID, state: Untracked, Payload: payload}
	h.link(w)
	return w
}

func (h *Heap) link(w *Wrapper) {
	if h.tail == nil {
		h.head, h.tail = w, w
	} else {
		w.prev = h.tail
		h.tail.next = w
		h.tail = w
	}
	h.size++
}

func (h *Heap) unlink(w *Wrapper) {
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		h.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		h.tail = w.prev
	}
	w.next, w.prev = nil, nil
	h.size--
}

// Size returns the number of Wrappers currently registered in the heap.
func (h *Heap) Size() int { return h.size }

// Move transitions w from Owned to Moved and returns the payload, matching
// the spec's value_move_out: moving a non-Owned Wrapper (already moved,
// borrowed, or lent to native code) is an OwnershipError, never a panic.
func (h *Heap) Move(w *Wrapper) (interface{}, error) {
	next, ok := checkedTransition("move", w.state)
	if !ok {
		return nil, errors.WithStack(&OwnershipError{Attempted: "move", From: w.state})
	}
	w.state = next
	return w.Payload, nil
}

// Share begins an immutable script-side borrow of w, returning a Guard
// that restores the prior state when the borrow ends.
func (h *Heap) Share(w *Wrapper) (*Guard, error) {
	prior := w.state
	next, ok := checkedTransition("share", w.state)
	if !ok {
		return nil, errors.WithStack(&OwnershipError{Attempted: "share", From: w.state})
	}
	w.state = next
	return &Guard{w: w, prior: prior}, nil
}

// MutShare begins a mutable script-side borrow of w.
func (h *Heap) MutShare(w *Wrapper) (*Guard, error) {
	prior := w.state
	next, ok := checkedTransition("mut-share", w.state)
	if !ok {
		return nil, errors.WithStack(&OwnershipError{Attempted: "mut-share", From: w.state})
	}
	w.state = next
	return &Guard{w: w, prior: prior}, nil
}

// ShareToRust lends w to native code as an immutable reference for the
// duration of one FFI call, returning a Guard the call thunk releases on
// return (including on panic-turned-Exception unwind). Any number of
// ShareToRust loans may be outstanding on the same Wrapper at once: the
// RTLC invariant is that no mutable borrow coexists with a read borrow,
// not that read borrows are exclusive of one another. A second (or third,
// ...) call while SharedToRust is already the state is a free rider: it
// returns a Guard that only decrements the shared count, and the Wrapper
// only actually returns to its pre-loan state once the last such Guard is
// released.
func (h *Heap) ShareToRust(w *Wrapper) (*Guard, error) {
	if w.state == SharedToRust {
		w.rustRefs++
		return &Guard{w: w, rustShared: true}, nil
	}
	prior := w.state
	next, ok := checkedTransition("share-to-rust", w.state)
	if !ok {
		return nil, errors.WithStack(&OwnershipError{Attempted: "share-to-rust", From: w.state})
	}
	w.state = next
	w.rustRefs = 1
	w.rustRestore = prior
	return &Guard{w: w, rustShared: true}, nil
}

// MutShareToRust lends w to native code as a mutable reference.
func (h *Heap) MutShareToRust(w *Wrapper) (*Guard, error) {
	prior := w.state
	next, ok := checkedTransition("mut-share-to-rust", w.state)
	if !ok {
		return nil, errors.WithStack(&OwnershipError{Attempted: "mut-share-to-rust", From: w.state})
	}
	w.state = next
	return &Guard{w: w, prior: prior}, nil
}

// MoveToRust transfers ownership of w's payload to native code permanently;
// there is no Guard because this transition never reverts.
func (h *Heap) MoveToRust(w *Wrapper) (interface{}, error) {
	next, ok := checkedTransition("move-to-rust", w.state)
	if !ok {
		return nil, errors.WithStack(&OwnershipError{Attempted: "move-to-rust", From: w.state})
	}
	w.state = next
	return w.Payload, nil
}

// Free removes w from the heap's live list. The caller (the GC sweep, or
// the VM dropping a stack frame's last reference) is responsible for
// ensuring no other Value still points at w.
func (h *Heap) Free(w *Wrapper) {
	h.unlink(w)
}
