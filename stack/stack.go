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

// Package stack implements the VM's value stack: a flat sequence of
// value.Value slots partitioned into contiguous frames, one per active
// call. Two layouts are supported (see New): Checked, which validates
// frame contiguity and return-arity on every push/pop and is meant for
// development and the differential S6 test, and Release, which trusts a
// program already validated by the loader and skips those checks for
// speed. Both layouts expose the identical Stack API; they differ only in
// how much Push/Pop believes without checking.
package stack

import (
	"github.com/pkg/errors"

	"github.com/probechain/probevm-core/value"
)

// Layout selects how much a Stack validates on frame push/pop.
type Layout int

const (
	// Checked validates frame contiguity and ret-value arity on every
	// call, returning an error instead of corrupting the stack.
	Checked Layout = iota
	// Release skips those checks, trusting the CompiledProgram's verifier
	// already proved them statically.
	Release
)

// FrameInfo describes one active call frame.
type FrameInfo struct {
	FrameStart   int      // inclusive index into Stack.slots
	FrameEnd     int      // exclusive index into Stack.slots
	RetValueLocs []int    // slot indices, relative to the caller's frame, receiving the callee's return values
	RetAddr      uint32   // instruction offset to resume in the caller
	FuncID       uint32   // callee function id, for unwind/backtrace reporting
}

// ErrFrameDiscontinuity is returned in Checked layout when a new frame's
// FrameStart does not equal the previous frame's FrameEnd.
var ErrFrameDiscontinuity = errors.New("stack: new frame is not contiguous with the previous frame")

// ErrRetArityMismatch is returned in Checked layout when the number of
// values a callee actually returns does not match the caller's
// RetValueLocs length.
var ErrRetArityMismatch = errors.New("stack: return value count does not match ret_value_locs")

// ErrEmptyStack is returned by operations that require at least one frame.
var ErrEmptyStack = errors.New("stack: no active frame")

// Stack is the VM's value stack.
type Stack struct {
	layout Layout
	slots  []value.Value
	frames []FrameInfo
}

// New returns an empty Stack with the given layout and a preallocated slot
// capacity (a hint, not a hard limit; Go slices grow past it like any
// other).
func New(layout Layout, capacityHint int) *Stack {
	return &Stack{layout: layout, slots: make([]value.Value, 0, capacityHint)}
}

// Layout reports which layout this Stack was constructed with.
func (s *Stack) Layout() Layout { return s.layout }

// Len returns the total number of occupied slots across all frames.
func (s *Stack) Len() int { return len(s.slots) }

// Depth returns the number of active frames.
func (s *Stack) Depth() int { return len(s.frames) }

// Slots returns the full backing slice. Callers index into it with a
// FrameInfo's bounds; the returned slice aliases Stack's storage and is
// invalidated by the next grow/shrink call.
func (s *Stack) Slots() []value.Value { return s.slots }

// FrameSlice returns the slot window belonging to f.
func (s *Stack) FrameSlice(f FrameInfo) []value.Value {
	return s.slots[f.FrameStart:f.FrameEnd]
}

// LastFrame returns the top-of-stack frame.
func (s *Stack) LastFrame() (FrameInfo, bool) {
	if len(s.frames) == 0 {
		return FrameInfo{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// LastFrameSlice returns the slot window of the top-of-stack frame.
func (s *Stack) LastFrameSlice() []value.Value {
	f, ok := s.LastFrame()
	if !ok {
		return nil
	}
	return s.FrameSlice(f)
}

func (s *Stack) growSlots(n int, funcID uint32, retAddr uint32, retValueLocs []int) (FrameInfo, error) {
	start := len(s.slots)
	if s.layout == Checked {
		if prev, ok := s.LastFrame(); ok && prev.FrameEnd != start {
			return FrameInfo{}, errors.WithStack(ErrFrameDiscontinuity)
		}
	}
	for i := 0; i < n; i++ {
		s.slots = append(s.slots, value.NewNull())
	}
	f := FrameInfo{
		FrameStart:   start,
		FrameEnd:     start + n,
		RetValueLocs: retValueLocs,
		RetAddr:      retAddr,
		FuncID:       funcID,
	}
	s.frames = append(s.frames, f)
	return f, nil
}

// FuncCallGrowStack pushes a new frame of numLocals slots for an ordinary
// CALL to funcID, recording retAddr and the caller-relative slots that
// should receive the callee's return values.
func (s *Stack) FuncCallGrowStack(funcID uint32, numLocals int, retAddr uint32, retValueLocs []int) (FrameInfo, error) {
	return s.growSlots(numLocals, funcID, retAddr, retValueLocs)
}

// ClosureCallGrowStack pushes a new frame for a CALLCLOS, identical to
// FuncCallGrowStack except it exists as a distinct entry point so the
// executor and any tracing/logging around it can tell closure invocations
// apart from plain function calls without inspecting the callee.
func (s *Stack) ClosureCallGrowStack(funcID uint32, numLocals int, retAddr uint32, retValueLocs []int) (FrameInfo, error) {
	return s.growSlots(numLocals, funcID, retAddr, retValueLocs)
}

// ExtFuncCallGrowStack pushes the very first frame of a serialization
// group's top-level call, asserting the stack is completely empty
// beforehand. This is the entry point a host (or a newly spawned task)
// uses to start running a script function from scratch, as opposed to
// FuncCallGrowStack/ClosureCallGrowStack, which grow the stack from
// inside an already-running frame for a nested CALL/CALLCLOS. retAddr is
// always 0 since there is no caller bytecode to resume.
func (s *Stack) ExtFuncCallGrowStack(funcID uint32, numLocals int, retValueLocs []int) (FrameInfo, error) {
	if len(s.slots) != 0 || len(s.frames) != 0 {
		return FrameInfo{}, errors.Errorf("stack: ext_func_call_grow_stack requires an empty stack, have %d slots across %d frames", len(s.slots), len(s.frames))
	}
	return s.growSlots(numLocals, funcID, 0, retValueLocs)
}

// shrink pops the top frame and returns it plus its slot window,
// truncating the backing slice.
func (s *Stack) shrink() (FrameInfo, []value.Value, error) {
	if len(s.frames) == 0 {
		return FrameInfo{}, nil, errors.WithStack(ErrEmptyStack)
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	window := append([]value.Value(nil), s.slots[f.FrameStart:f.FrameEnd]...)
	s.slots = s.slots[:f.FrameStart]
	return f, window, nil
}

// DoneFuncCallShrinkStack pops the top frame on normal return. retRegs
// holds the source register indices, relative to the popping frame, that
// the callee's RETURN named, in order; in Checked layout its length is
// checked against the frame's RetValueLocs. This is where the caller-frame
// scatter happens: for each pair (retRegs[i], f.RetValueLocs[i]), the
// popping frame's slot retRegs[i] is copied into the new top frame's slot
// RetValueLocs[i], so a callee's return values land wherever CALL/CALLCLOS
// asked for them, independent of where the callee itself kept them. The
// extracted values are also returned directly, for a top-level caller
// (RunFunction) with no enclosing frame to scatter into.
func (s *Stack) DoneFuncCallShrinkStack(retRegs []int) (FrameInfo, []value.Value, error) {
	if s.layout == Checked {
		f, ok := s.LastFrame()
		if !ok {
			return FrameInfo{}, nil, errors.WithStack(ErrEmptyStack)
		}
		if len(retRegs) != len(f.RetValueLocs) {
			return FrameInfo{}, nil, errors.WithStack(ErrRetArityMismatch)
		}
	}
	f, window, err := s.shrink()
	if err != nil {
		return FrameInfo{}, nil, err
	}
	vals := make([]value.Value, len(retRegs))
	for i, src := range retRegs {
		vals[i] = window[src]
	}
	if caller, ok := s.LastFrame(); ok {
		n := len(f.RetValueLocs)
		if len(vals) < n {
			n = len(vals)
		}
		for i := 0; i < n; i++ {
			s.slots[caller.FrameStart+f.RetValueLocs[i]] = vals[i]
		}
	}
	return f, vals, nil
}

// DoneFuncCallShrinkStack0 is the zero-return-value convenience wrapper:
// the common case of a function called for its side effects.
func (s *Stack) DoneFuncCallShrinkStack0() (FrameInfo, error) {
	f, _, err := s.DoneFuncCallShrinkStack(nil)
	return f, err
}

// DoneFuncCallShrinkStack1 is the single-return-value convenience wrapper,
// for the single most common call shape: srcReg is the one register RETURN
// named.
func (s *Stack) DoneFuncCallShrinkStack1(srcReg int) (FrameInfo, value.Value, error) {
	f, vals, err := s.DoneFuncCallShrinkStack([]int{srcReg})
	if err != nil {
		return f, value.Value{}, err
	}
	return f, vals[0], nil
}

// UnwindShrinkSlice pops frames until only targetDepth remain, for
// exception propagation (RAISE searching for a matching CATCH further down
// the call chain). It returns the discarded frames' slot windows,
// outermost-discarded first, in case a caller wants to run destructors
// over them before they're gone.
func (s *Stack) UnwindShrinkSlice(targetDepth int) ([][]value.Value, error) {
	if targetDepth < 0 || targetDepth > len(s.frames) {
		return nil, errors.Errorf("stack: invalid unwind target depth %d (have %d frames)", targetDepth, len(s.frames))
	}
	var discarded [][]value.Value
	for len(s.frames) > targetDepth {
		_, window, err := s.shrink()
		if err != nil {
			return discarded, err
		}
		discarded = append(discarded, window)
	}
	return discarded, nil
}
