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

// Package vm implements the register-based bytecode executor: it decodes
// a program.CompiledProgram's instruction stream, routes arithmetic and
// comparison through package value, routes heap object lifetime through
// package heap, and suspends at YIELD/AWAIT/SPAWN through package
// serializer.
package vm

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/probechain/probevm-core/heap"
	"github.com/probechain/probevm-core/program"
	"github.com/probechain/probevm-core/serializer"
	"github.com/probechain/probevm-core/stack"
	"github.com/probechain/probevm-core/typeck"
	"github.com/probechain/probevm-core/value"
	"github.com/probechain/probevm-core/vmconfig"
	"github.com/probechain/probevm-core/vmlog"
)

type spawnResult struct {
	values []value.Value
	err    error
}

// Thread is one script execution context: its own value stack, sharing the
// heap, the compiled program, the native registry, and the serialization
// group with every other Thread spawned alongside it.
type Thread struct {
	prog   *program.CompiledProgram
	stk    *stack.Stack
	hp     *heap.Heap
	native NativeRegistry
	ser    *serializer.Serializer[*Thread]
	pool   *typeck.Pool
	log    *vmlog.Logger
	cfg    vmconfig.Config

	spawnResults map[serializer.TaskID]chan spawnResult

	// taskID is this Thread's own registration in ser's SharedContext. It
	// is only meaningful for the main Thread a host calls RunFunction on;
	// a SPAWN'd child runs via RunFunctionNoAcquire under the TaskID its
	// CoSpawn closure already captured, so it is left at its zero value.
	taskID serializer.TaskID
}

// CreateMainThread builds the root Thread of a new serialization group: it
// owns the heap and the permit every spawned child Thread will contend
// for. prog is assumed already loaded and verified (program.Load does
// both); native resolves the program's FFI imports.
func CreateMainThread(prog *program.CompiledProgram, native NativeRegistry, cfg vmconfig.Config) *Thread {
	layout := stack.Release
	if cfg.Features.CompilerPrettyDiag {
		// The pretty-diagnostics flag asks for richer fault context; the
		// Checked stack layout is what supplies it (frame contiguity and
		// return-arity are validated instead of assumed), so enabling one
		// implies the other rather than adding a second independent knob.
		layout = stack.Checked
	}
	ser := serializer.New[*Thread](nil, rate.Limit(200), 20)
	t := &Thread{
		prog:         prog,
		stk:          stack.New(layout, cfg.Limits.StackSlots),
		hp:           heap.New(),
		native:       native,
		ser:          ser,
		pool:         typeck.NewPool(0),
		log:          vmlog.Default(),
		cfg:          cfg,
		spawnResults: make(map[serializer.TaskID]chan spawnResult),
	}
	t.taskID = ser.NewTask(t)
	return t
}

// newChild returns a Thread for a SPAWN'd task: independent stack, shared
// everything else, so heap Wrappers allocated by one Thread are visible
// (subject to RTLC) to every other Thread in the group.
func (t *Thread) newChild() *Thread {
	return &Thread{
		prog:         t.prog,
		stk:          stack.New(t.stk.Layout(), t.cfg.Limits.StackSlots),
		hp:           t.hp,
		native:       t.native,
		ser:          t.ser,
		pool:         t.pool,
		log:          t.log,
		cfg:          t.cfg,
		spawnResults: t.spawnResults,
	}
}

// Heap returns the Thread's shared heap, for host code that needs to
// allocate a Wrapper before passing it in as an argument to RunFunction.
func (t *Thread) Heap() *heap.Heap { return t.hp }

// TypeCkPool returns the Thread's shared TypeCkInfo pool.
func (t *Thread) TypeCkPool() *typeck.Pool { return t.pool }

// RunFunction invokes funcID with args, acquiring the serialization
// group's permit for the duration (suspending, not blocking a real OS
// thread, at every YIELD/AWAIT along the way) and returning its result
// values, or the *Exception that escaped uncaught. It is the entry point
// for a serialization group's main task; it calls finish() before
// returning, so it is meant to be invoked once per Thread, at the end of a
// top-level script run, after every task this Thread SPAWNed has either
// been AWAITed or abandoned.
func (t *Thread) RunFunction(ctx context.Context, funcID uint32, args []value.Value) ([]value.Value, error) {
	if int(funcID) >= len(t.prog.Functions) {
		return nil, errors.Errorf("vm: unknown function id %d", funcID)
	}
	fn := &t.prog.Functions[funcID]
	if len(args) != fn.NumParams {
		return nil, errors.Errorf("vm: %s expects %d arguments, got %d", fn.Name, fn.NumParams, len(args))
	}

	if err := t.ser.Acquire(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	defer t.ser.Release()

	retLocs := make([]int, fn.NumRets)
	frame, err := t.stk.ExtFuncCallGrowStack(funcID, fn.NumLocals, retLocs)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for i, a := range args {
		t.setReg(frame, uint8(i), a)
	}

	retRegs, runErr := t.execute(ctx, frame)
	var results []value.Value
	if runErr == nil {
		_, results, runErr = t.stk.DoneFuncCallShrinkStack(retRegs)
		if runErr != nil {
			runErr = errors.WithStack(runErr)
		}
	}

	// finish() drains every task this Thread ever spawned before the
	// serialization group is considered done, regardless of whether the
	// script itself returned normally or raised uncaught.
	if finErr := t.ser.Finish(ctx, t.taskID); finErr != nil && runErr == nil {
		runErr = finErr
	}
	if runErr != nil {
		switch unwrap(runErr).(type) {
		case *value.BinaryOpError, *value.DivideByZeroError, *heap.OwnershipError:
			runErr = toException(runErr)
		}
		return nil, runErr
	}
	return results, nil
}

// BlockOnFuture is the synchronous host-side counterpart to a script's
// AWAIT: it blocks the calling goroutine until fut resolves, for host code
// that isn't itself running as a cooperative task and so has no permit to
// release/reacquire around the wait.
func BlockOnFuture[T any](ctx context.Context, fut serializer.Future[T]) (T, error) {
	return fut.Await(ctx)
}

func (t *Thread) reg(frame stack.FrameInfo, i uint8) value.Value {
	return t.stk.Slots()[frame.FrameStart+int(i)]
}

func (t *Thread) setReg(frame stack.FrameInfo, i uint8, v value.Value) {
	t.stk.Slots()[frame.FrameStart+int(i)] = v
}

// propagate unwinds exactly this frame (frames below it in the call chain
// were already unwound, or shrunk normally, by the time control reaches
// here) and forwards err to the caller.
func (t *Thread) propagate(err error) ([]int, error) {
	if _, unwindErr := t.stk.UnwindShrinkSlice(t.stk.Depth() - 1); unwindErr != nil {
		t.log.Error("failed to unwind stack frame during exception propagation", "err", unwindErr)
	}
	return nil, err
}
