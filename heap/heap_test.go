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

package heap

import "testing"

func TestMoveThenMoveAgainFails(t *testing.T) {
	h := New()
	w := h.Alloc(1, "hello")

	if _, err := h.Move(w); err != nil {
		t.Fatalf("first move: %v", err)
	}
	if w.State() != Moved {
		t.Fatalf("expected Moved, got %s", w.State())
	}
	if _, err := h.Move(w); err == nil {
		t.Fatal("expected use-after-move to fail")
	}
}

func TestShareThenMoveFails(t *testing.T) {
	h := New()
	w := h.Alloc(1, 42)

	guard, err := h.Share(w)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if _, err := h.Move(w); err == nil {
		t.Fatal("expected move to fail while a borrow is live")
	}
	guard.Release()
	if w.State() != Owned {
		t.Fatalf("expected Owned after release, got %s", w.State())
	}
	if _, err := h.Move(w); err != nil {
		t.Fatalf("move after release: %v", err)
	}
}

func TestShareToRustAllowsConcurrentReadBorrows(t *testing.T) {
	h := New()
	w := h.Alloc(1, 42)

	first, err := h.ShareToRust(w)
	if err != nil {
		t.Fatalf("first share-to-rust: %v", err)
	}
	if w.State() != SharedToRust {
		t.Fatalf("expected SharedToRust, got %s", w.State())
	}

	second, err := h.ShareToRust(w)
	if err != nil {
		t.Fatalf("second (coexisting) share-to-rust: %v", err)
	}
	if w.State() != SharedToRust {
		t.Fatalf("expected state to remain SharedToRust while both borrows are live, got %s", w.State())
	}

	if _, err := h.MutShare(w); err == nil {
		t.Fatal("expected a mutable borrow to fail while any read borrow is live")
	}

	first.Release()
	if w.State() != SharedToRust {
		t.Fatalf("expected SharedToRust to persist while the second borrow is still live, got %s", w.State())
	}

	second.Release()
	if w.State() != Owned {
		t.Fatalf("expected Owned once every coexisting borrow released, got %s", w.State())
	}
}

func TestMutShareExcludesOtherBorrows(t *testing.T) {
	h := New()
	w := h.Alloc(1, 42)

	guard, err := h.MutShare(w)
	if err != nil {
		t.Fatalf("mut-share: %v", err)
	}
	if _, err := h.Share(w); err == nil {
		t.Fatal("expected immutable borrow to fail while mutably shared")
	}
	guard.Release()
	if w.State() != Owned {
		t.Fatalf("expected Owned after release, got %s", w.State())
	}
}

func TestMoveToRustIsPermanent(t *testing.T) {
	h := New()
	w := h.Alloc(1, "payload")

	if _, err := h.MoveToRust(w); err != nil {
		t.Fatalf("move-to-rust: %v", err)
	}
	if w.State() != MovedToRust {
		t.Fatalf("expected MovedToRust, got %s", w.State())
	}
	if _, err := h.Share(w); err == nil {
		t.Fatal("expected share of a value moved to native code to fail")
	}
}

type refPayload struct{ refs []*Wrapper }

func (r refPayload) TraceRefs() []*Wrapper { return r.refs }

func TestGCCollectsUnreachable(t *testing.T) {
	h := New()
	leaf := h.Alloc(1, "leaf")
	root := h.Alloc(2, refPayload{refs: []*Wrapper{leaf}})
	garbage := h.Alloc(3, "garbage")

	collected := h.GC([]*Wrapper{root})

	if h.Size() != 2 {
		t.Fatalf("expected 2 live wrappers after GC, got %d", h.Size())
	}
	if len(collected) != 1 || collected[0] != garbage {
		t.Fatalf("expected garbage to be collected, got %v", collected)
	}
}
