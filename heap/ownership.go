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

import "fmt"

// OwnershipState is the Run-Time Lifetime Checking state of a Wrapper. It
// tracks whether script code or native (FFI/"Rust") code currently holds
// the right to read, write, or consume the wrapped payload.
type OwnershipState uint8

const (
	// Owned is the only script-side value holding the payload; it may be
	// moved, borrowed, or mutably borrowed.
	Owned OwnershipState = iota
	// Shared means one or more script-side immutable borrows are live.
	Shared
	// MutShared means exactly one script-side mutable borrow is live.
	MutShared
	// SharedToRust means the payload has been lent to native code as an
	// immutable reference; script code retains ownership but may not
	// mutate or move it until the loan ends.
	SharedToRust
	// MutSharedToRust means the payload has been lent to native code as a
	// mutable reference; script code may not read, write, or move it
	// until the loan ends.
	MutSharedToRust
	// MovedToRust means ownership was transferred to native code by value;
	// the Wrapper is a tombstone from the script's perspective.
	MovedToRust
	// Moved means script code moved the value out of this slot; any
	// further use from this Wrapper is a use-after-move.
	Moved
	// Untracked means the Wrapper holds a payload RTLC does not police
	// (Copy types wrapped only so they share the heap's allocation path).
	Untracked
)

func (s OwnershipState) String() string {
	switch s {
	case Owned:
		return "owned"
	case Shared:
		return "shared"
	case MutShared:
		return "mut-shared"
	case SharedToRust:
		return "shared-to-rust"
	case MutSharedToRust:
		return "mut-shared-to-rust"
	case MovedToRust:
		return "moved-to-rust"
	case Moved:
		return "moved"
	case Untracked:
		return "untracked"
	default:
		return fmt.Sprintf("ownership(%d)", uint8(s))
	}
}

// OwnershipError reports an illegal ownership transition: an attempt to
// move, borrow, or mutably borrow a Wrapper whose current state forbids it.
type OwnershipError struct {
	Attempted string
	From      OwnershipState
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("ownership check failed: cannot %s from state %s", e.Attempted, e.From)
}

// checkedTransition is the sole authority for which ownership transitions
// are legal. Every Wrapper method that changes state routes through it so
// the transition table lives in exactly one place.
func checkedTransition(attempted string, from OwnershipState) (OwnershipState, bool) {
	switch attempted {
	case "move":
		if from == Owned {
			return Moved, true
		}
	case "share":
		if from == Owned || from == Shared {
			return Shared, true
		}
	case "mut-share":
		if from == Owned {
			return MutShared, true
		}
	case "share-to-rust":
		if from == Owned || from == Shared {
			return SharedToRust, true
		}
	case "mut-share-to-rust":
		if from == Owned {
			return MutSharedToRust, true
		}
	case "move-to-rust":
		if from == Owned {
			return MovedToRust, true
		}
	case "unshare":
		if from == Shared || from == MutShared || from == SharedToRust || from == MutSharedToRust {
			return Owned, true
		}
	}
	return from, false
}

// Guard restores a Wrapper's prior ownership state when the borrow or loan
// it represents ends (lexical scope exit in the VM, or the native call
// thunk returning). Guards are the only sanctioned way back to Owned from a
// Shared/MutShared/*ToRust state.
type Guard struct {
	w     *Wrapper
	prior OwnershipState

	// rustShared marks a Guard returned by Heap.ShareToRust: release must
	// decrement w.rustRefs and only restore w.rustRestore once the count
	// reaches zero, since any number of these guards may be outstanding
	// on w at once.
	rustShared bool
}

// Release restores the Wrapper to the state it held before the borrow or
// loan this Guard represents began. Calling Release more than once is a
// no-op after the first call.
func (g *Guard) Release() {
	if g == nil || g.w == nil {
		return
	}
	if g.rustShared {
		g.w.rustRefs--
		if g.w.rustRefs <= 0 {
			g.w.rustRefs = 0
			g.w.state = g.w.rustRestore
		}
		g.w = nil
		return
	}
	g.w.state = g.prior
	g.w = nil
}
