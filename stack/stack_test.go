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

package stack

import (
	"testing"

	"github.com/probechain/probevm-core/value"
)

func TestFrameRoundTrip(t *testing.T) {
	for _, layout := range []Layout{Checked, Release} {
		s := New(layout, 16)

		if _, err := s.FuncCallGrowStack(1, 3, 10, []int{0}); err != nil {
			t.Fatalf("layout %v: grow: %v", layout, err)
		}
		if s.Len() != 3 || s.Depth() != 1 {
			t.Fatalf("layout %v: unexpected len/depth %d/%d", layout, s.Len(), s.Depth())
		}

		if _, _, err := s.DoneFuncCallShrinkStack1(0); err != nil {
			t.Fatalf("layout %v: shrink: %v", layout, err)
		}
		if s.Len() != 0 || s.Depth() != 0 {
			t.Fatalf("layout %v: expected empty stack after shrink, got len=%d depth=%d", layout, s.Len(), s.Depth())
		}
	}
}

func TestCheckedLayoutRejectsArityMismatch(t *testing.T) {
	s := New(Checked, 16)
	if _, err := s.FuncCallGrowStack(1, 2, 0, []int{0, 1}); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if _, _, err := s.DoneFuncCallShrinkStack([]int{0}); err == nil {
		t.Fatal("expected arity mismatch error")
	}
}

// TestReturnValueScatterToUnrelatedCallerSlots is the literal S5 scenario:
// the callee's return values live at registers unrelated to where the
// caller placed its arguments (args at [0,1], returns expected at the
// caller's [5,6]), proving the scatter is driven by RetValueLocs and not
// by CALL/CALLCLOS happening to reuse the same base register for both.
func TestReturnValueScatterToUnrelatedCallerSlots(t *testing.T) {
	for _, layout := range []Layout{Checked, Release} {
		s := New(layout, 16)

		callerFrame, err := s.FuncCallGrowStack(0, 8, 0, nil)
		if err != nil {
			t.Fatalf("layout %v: caller grow: %v", layout, err)
		}
		callerSlots := s.Slots()
		callerSlots[callerFrame.FrameStart+0] = value.NewInt(11)
		callerSlots[callerFrame.FrameStart+1] = value.NewInt(22)

		// The callee is called with args at [0,1] but the caller wants its
		// two return values scattered into its own [5,6], far from the
		// argument registers.
		calleeFrame, err := s.FuncCallGrowStack(1, 4, 0, []int{5, 6})
		if err != nil {
			t.Fatalf("layout %v: callee grow: %v", layout, err)
		}
		calleeSlots := s.Slots()
		// The callee computes its two results into registers 2 and 3,
		// registers that have nothing to do with the caller's [5,6].
		calleeSlots[calleeFrame.FrameStart+2] = value.NewInt(100)
		calleeSlots[calleeFrame.FrameStart+3] = value.NewInt(200)

		if _, _, err := s.DoneFuncCallShrinkStack([]int{2, 3}); err != nil {
			t.Fatalf("layout %v: shrink: %v", layout, err)
		}

		got := s.LastFrameSlice()
		r5, _ := got[5].AsInt()
		r6, _ := got[6].AsInt()
		if r5 != 100 || r6 != 200 {
			t.Fatalf("layout %v: expected caller [5,6] = [100,200], got [%d,%d]", layout, r5, r6)
		}
		a0, _ := got[0].AsInt()
		a1, _ := got[1].AsInt()
		if a0 != 11 || a1 != 22 {
			t.Fatalf("layout %v: expected caller [0,1] untouched at [11,22], got [%d,%d]", layout, a0, a1)
		}
	}
}

func TestCheckedLayoutDetectsFrameDiscontinuity(t *testing.T) {
	s := New(Checked, 16)
	if _, err := s.FuncCallGrowStack(1, 2, 0, nil); err != nil {
		t.Fatalf("grow: %v", err)
	}
	// Manually truncate slots to simulate a caller that corrupted the
	// stack out from under the frame bookkeeping.
	s.slots = s.slots[:1]
	if _, err := s.FuncCallGrowStack(2, 1, 0, nil); err == nil {
		t.Fatal("expected frame discontinuity error")
	}
}

func TestUnwindShrinkSliceToTargetDepth(t *testing.T) {
	s := New(Checked, 16)
	s.FuncCallGrowStack(1, 1, 0, nil)
	s.FuncCallGrowStack(2, 1, 0, nil)
	s.FuncCallGrowStack(3, 1, 0, nil)

	discarded, err := s.UnwindShrinkSlice(1)
	if err != nil {
		t.Fatalf("unwind: %v", err)
	}
	if len(discarded) != 2 {
		t.Fatalf("expected 2 discarded frames, got %d", len(discarded))
	}
	if s.Depth() != 1 {
		t.Fatalf("expected depth 1 after unwind, got %d", s.Depth())
	}
}

func TestLastFrameSlice(t *testing.T) {
	s := New(Release, 16)
	s.FuncCallGrowStack(1, 2, 0, nil)
	slice := s.LastFrameSlice()
	if len(slice) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slice))
	}
	slice[0] = value.NewInt(99)
	got, _ := s.LastFrameSlice()[0].AsInt()
	if got != 99 {
		t.Fatalf("LastFrameSlice should alias backing storage, got %d", got)
	}
}
