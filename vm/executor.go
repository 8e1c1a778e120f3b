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

package vm

import (
	"context"

	"github.com/pkg/errors"

	"github.com/probechain/probevm-core/heap"
	"github.com/probechain/probevm-core/program"
	"github.com/probechain/probevm-core/serializer"
	"github.com/probechain/probevm-core/stack"
	"github.com/probechain/probevm-core/value"
)

// catchHandler is one CATCH's bookkeeping: where to resume, and which
// register receives the caught exception value.
type catchHandler struct {
	pc  uint32
	reg uint8
}

// execute runs frame's function to completion: either an ordinary RETURN,
// reporting the source register indices (relative to frame) holding the
// return values for the caller to scatter via Stack.DoneFuncCallShrinkStack,
// or an exception that escaped every CATCH in this frame, in which case
// this frame is unwound before returning (nil, err).
func (t *Thread) execute(ctx context.Context, frame stack.FrameInfo) ([]int, error) {
	fn := &t.prog.Functions[frame.FuncID]
	pc := fn.Entry
	var handlers []catchHandler

	for {
		insn, err := program.Decode(t.prog.Code, pc)
		if err != nil {
			return t.propagate(errors.WithStack(err))
		}
		nextPC := pc + program.InstructionWidth

		switch insn.Op {
		case program.OpLoadConst:
			t.setReg(frame, insn.A, t.prog.Constants[insn.Imm])
		case program.OpLoadNull:
			t.setReg(frame, insn.A, value.NewNull())
		case program.OpLoadTrue:
			t.setReg(frame, insn.A, value.NewBool(true))
		case program.OpLoadFalse:
			t.setReg(frame, insn.A, value.NewBool(false))
		case program.OpMove:
			t.setReg(frame, insn.A, t.reg(frame, insn.B))

		case program.OpAdd, program.OpSub, program.OpMul, program.OpDiv, program.OpMod,
			program.OpEq, program.OpNeq, program.OpLt, program.OpLte, program.OpGt, program.OpGte,
			program.OpBitAnd, program.OpBitOr, program.OpBitXor, program.OpShl, program.OpShr,
			program.OpLogicalAnd, program.OpLogicalOr:
			faulted, opErr := t.execBinary(frame, &handlers, &pc, insn)
			if opErr != nil {
				return t.propagate(opErr)
			}
			if faulted {
				continue
			}

		case program.OpNeg, program.OpBitNot, program.OpLogicalNot:
			faulted, opErr := t.execUnary(frame, &handlers, &pc, insn)
			if opErr != nil {
				return t.propagate(opErr)
			}
			if faulted {
				continue
			}

		case program.OpJump:
			pc = uint32(insn.Imm)
			continue

		case program.OpJumpIfTrue, program.OpJumpIfFalse:
			b, ok := t.reg(frame, insn.A).AsBool()
			if !ok {
				exc := newUnexpectedKind("branch condition is not a bool (got %s)", t.reg(frame, insn.A).Tag())
				if t.handleFault(frame, &handlers, exc, &pc) {
					continue
				}
				return t.propagate(exc)
			}
			take := b
			if insn.Op == program.OpJumpIfFalse {
				take = !b
			}
			if take {
				pc = uint32(insn.Imm)
				continue
			}

		case program.OpCall:
			faulted, callErr := t.execCall(ctx, frame, &handlers, &pc, insn, nextPC)
			if callErr != nil {
				return t.propagate(callErr)
			}
			if faulted {
				continue
			}

		case program.OpCallClosure:
			faulted, callErr := t.execCallClosure(ctx, frame, &handlers, &pc, insn, nextPC)
			if callErr != nil {
				return t.propagate(callErr)
			}
			if faulted {
				continue
			}

		case program.OpReturn:
			rets := fn.NumRets
			retRegs := make([]int, rets)
			for i := 0; i < rets; i++ {
				retRegs[i] = int(insn.A) + i
			}
			return retRegs, nil

		case program.OpMkClosure:
			tmpl := t.prog.ClosureTemplates[insn.Imm]
			base := frame.FrameStart + int(insn.A) + 1
			upvalues := append([]value.Value(nil), t.stk.Slots()[base:base+tmpl.NumUpvalues]...)
			w := t.hp.Alloc(closureTypeID, &Closure{FuncID: tmpl.FuncID, Upvalues: upvalues})
			t.setReg(frame, insn.A, value.NewPtr(w, 0))

		case program.OpCallFFI, program.OpCallFFIUnchecked:
			faulted, callErr := t.execCallFFI(ctx, frame, &handlers, &pc, insn)
			if callErr != nil {
				return t.propagate(callErr)
			}
			if faulted {
				continue
			}

		case program.OpRaise:
			exc := &Exception{Kind: ExcUserThrown, Message: "user exception", Payload: t.reg(frame, insn.A)}
			if t.handleFault(frame, &handlers, exc, &pc) {
				continue
			}
			return t.propagate(exc)

		case program.OpCatch:
			handlers = append(handlers, catchHandler{pc: uint32(insn.Imm), reg: insn.A})

		case program.OpYield:
			if err := t.ser.CoYield(ctx); err != nil {
				return t.propagate(errors.WithStack(err))
			}

		case program.OpAwait:
			faulted, awaitErr := t.execAwait(ctx, frame, &handlers, &pc, insn)
			if awaitErr != nil {
				return t.propagate(awaitErr)
			}
			if faulted {
				continue
			}

		case program.OpSpawn:
			t.execSpawn(ctx, frame, insn)

		case program.OpHalt:
			return nil, nil

		default:
			return t.propagate(errors.Errorf("vm: unimplemented opcode %s at pc=%d", insn.Op, pc))
		}

		pc = nextPC
	}
}

// handleFault looks for an active CATCH in this frame; if found, it binds
// err's value into the handler's register, redirects pc there, and
// reports handled so the caller can `continue` the decode loop instead of
// propagating.
func (t *Thread) handleFault(frame stack.FrameInfo, handlers *[]catchHandler, err error, pc *uint32) bool {
	if len(*handlers) == 0 {
		return false
	}
	h := (*handlers)[len(*handlers)-1]
	*handlers = (*handlers)[:len(*handlers)-1]
	t.setReg(frame, h.reg, t.valueFromFault(err))
	*pc = h.pc
	return true
}

// valueFromFault binds by move: a user-raised value's ownership was
// already transferred out of the raiser's register the moment RAISE ran
// (it lives only in the Exception payload until a handler claims it), and
// this simply delivers it into the handler's register. Non-user faults
// (tag errors, divide-by-zero, ownership violations) have no script-level
// value to move, so they are surfaced as an opaque heap-wrapped Exception
// the script can inspect but not forge.
func (t *Thread) valueFromFault(err error) value.Value {
	exc := toException(err)
	if exc.Kind == ExcUserThrown {
		return exc.Payload
	}
	w := t.hp.AllocUntracked(exceptionTypeID, exc)
	return value.NewPtr(w, 0)
}

type binFn func(a, b value.Value) (value.Value, error)

var binaryOps = map[program.Opcode]binFn{
	program.OpAdd: value.Add,
	program.OpSub: value.Sub,
	program.OpMul: value.Mul,
	program.OpDiv: value.Div,
	program.OpMod: value.Mod,
	program.OpEq:  func(a, b value.Value) (value.Value, error) { return value.Eq(a, b), nil },
	program.OpNeq: func(a, b value.Value) (value.Value, error) { return value.Neq(a, b), nil },
	program.OpLt:  value.Lt,
	program.OpLte: value.Lte,
	program.OpGt:  value.Gt,
	program.OpGte: value.Gte,

	program.OpBitAnd: value.And,
	program.OpBitOr:  value.Or,
	program.OpBitXor: value.Xor,
	program.OpShl:    value.Shl,
	program.OpShr:    value.Shr,

	program.OpLogicalAnd: value.LogicalAnd,
	program.OpLogicalOr:  value.LogicalOr,
}

// execBinary evaluates insn against binaryOps, setting the destination
// register on success. faulted reports whether a CATCH consumed the
// resulting error (in which case the caller must `continue` the decode
// loop rather than advance pc normally); a non-nil error means no handler
// caught it and the caller must propagate.
func (t *Thread) execBinary(frame stack.FrameInfo, handlers *[]catchHandler, pc *uint32, insn program.Instruction) (bool, error) {
	fn := binaryOps[insn.Op]
	res, err := fn(t.reg(frame, insn.B), t.reg(frame, insn.C))
	if err != nil {
		if t.handleFault(frame, handlers, err, pc) {
			return true, nil
		}
		return false, err
	}
	t.setReg(frame, insn.A, res)
	return false, nil
}

type unaryFn func(a value.Value) (value.Value, error)

var unaryOps = map[program.Opcode]unaryFn{
	program.OpNeg:        value.Neg,
	program.OpBitNot:     value.BitNot,
	program.OpLogicalNot: value.LogicalNot,
}

func (t *Thread) execUnary(frame stack.FrameInfo, handlers *[]catchHandler, pc *uint32, insn program.Instruction) (bool, error) {
	fn := unaryOps[insn.Op]
	res, err := fn(t.reg(frame, insn.B))
	if err != nil {
		if t.handleFault(frame, handlers, err, pc) {
			return true, nil
		}
		return false, err
	}
	t.setReg(frame, insn.A, res)
	return false, nil
}

// execCall implements CALL rA, #funcID: args live at [A, A+NumParams) in
// the caller's frame; results are scattered back starting at A.
func (t *Thread) execCall(ctx context.Context, frame stack.FrameInfo, handlers *[]catchHandler, pc *uint32, insn program.Instruction, nextPC uint32) (bool, error) {
	targetID := uint32(insn.Imm)
	if int(targetID) >= len(t.prog.Functions) {
		return false, newUnexpectedKind("CALL references unknown function id %d", targetID)
	}
	callee := &t.prog.Functions[targetID]
	argBase := int(insn.A)
	args := append([]value.Value(nil), t.stk.Slots()[frame.FrameStart+argBase:frame.FrameStart+argBase+callee.NumParams]...)

	retLocs := make([]int, callee.NumRets)
	for i := range retLocs {
		retLocs[i] = argBase + i
	}
	childFrame, err := t.stk.FuncCallGrowStack(targetID, callee.NumLocals, nextPC, retLocs)
	if err != nil {
		return false, errors.WithStack(err)
	}
	for i, a := range args {
		t.setReg(childFrame, uint8(i), a)
	}

	retRegs, callErr := t.execute(ctx, childFrame)
	if callErr != nil {
		if t.handleFault(frame, handlers, callErr, pc) {
			return true, nil
		}
		return false, callErr
	}
	// DoneFuncCallShrinkStack performs the actual scatter into this frame
	// (now back on top of the stack) at childFrame's RetValueLocs; no
	// manual copy is needed here.
	if _, _, err := t.stk.DoneFuncCallShrinkStack(retRegs); err != nil {
		return false, errors.WithStack(err)
	}
	return false, nil
}

// execCallClosure implements CALLCLOS rA(closure), rB(args/rets base):
// upvalues are appended after the explicit arguments in the callee's
// register window.
func (t *Thread) execCallClosure(ctx context.Context, frame stack.FrameInfo, handlers *[]catchHandler, pc *uint32, insn program.Instruction, nextPC uint32) (bool, error) {
	cv := t.reg(frame, insn.A)
	w, _ := cv.Ptr()
	wrapper, ok := w.(*heap.Wrapper)
	if !ok || wrapper == nil {
		return false, newUnexpectedKind("CALLCLOS operand is not a closure")
	}
	closure, ok := wrapper.Payload.(*Closure)
	if !ok {
		return false, newUnexpectedKind("CALLCLOS operand does not wrap a closure")
	}
	if int(closure.FuncID) >= len(t.prog.Functions) {
		return false, newUnexpectedKind("closure references unknown function id %d", closure.FuncID)
	}
	callee := &t.prog.Functions[closure.FuncID]
	argBase := int(insn.B)
	explicitArgs := append([]value.Value(nil), t.stk.Slots()[frame.FrameStart+argBase:frame.FrameStart+argBase+callee.NumParams]...)

	retLocs := make([]int, callee.NumRets)
	for i := range retLocs {
		retLocs[i] = argBase + i
	}
	childFrame, err := t.stk.ClosureCallGrowStack(closure.FuncID, callee.NumLocals, nextPC, retLocs)
	if err != nil {
		return false, errors.WithStack(err)
	}
	for i, a := range explicitArgs {
		t.setReg(childFrame, uint8(i), a)
	}
	for i, uv := range closure.Upvalues {
		t.setReg(childFrame, uint8(callee.NumParams+i), uv)
	}

	retRegs, callErr := t.execute(ctx, childFrame)
	if callErr != nil {
		if t.handleFault(frame, handlers, callErr, pc) {
			return true, nil
		}
		return false, callErr
	}
	if _, _, err := t.stk.DoneFuncCallShrinkStack(retRegs); err != nil {
		return false, errors.WithStack(err)
	}
	return false, nil
}

// execCallFFI implements CALLFFI/CALLFFI_NOALIAS rA, #importIndex.
func (t *Thread) execCallFFI(ctx context.Context, frame stack.FrameInfo, handlers *[]catchHandler, pc *uint32, insn program.Instruction) (bool, error) {
	if int(insn.Imm) >= len(t.prog.FFI) {
		return false, newUnexpectedKind("CALLFFI references unknown import index %d", insn.Imm)
	}
	imp := t.prog.FFI[insn.Imm]
	argBase := int(insn.A)
	args := append([]value.Value(nil), t.stk.Slots()[frame.FrameStart+argBase:frame.FrameStart+argBase+imp.NumArgs]...)

	checked := insn.Op == program.OpCallFFI
	results, err := t.native.Call(ctx, imp.Name, args, checked)
	if err != nil {
		if t.handleFault(frame, handlers, err, pc) {
			return true, nil
		}
		return false, err
	}
	for i, r := range results {
		t.setReg(frame, uint8(argBase+i), r)
	}
	return false, nil
}

// execAwait implements AWAIT rA: regs[A] holds a task handle (an int
// produced by SPAWN); it blocks (cooperatively, releasing the permit)
// until that task's result is ready and overwrites regs[A] with it.
func (t *Thread) execAwait(ctx context.Context, frame stack.FrameInfo, handlers *[]catchHandler, pc *uint32, insn program.Instruction) (bool, error) {
	idVal, ok := t.reg(frame, insn.A).AsInt()
	if !ok {
		return false, newUnexpectedKind("AWAIT operand is not a task handle")
	}
	taskID := serializer.TaskID(idVal)
	ch, ok := t.spawnResults[taskID]
	if !ok {
		return false, newUnexpectedKind("AWAIT on unknown or already-awaited task %d", taskID)
	}
	delete(t.spawnResults, taskID)

	res, err := serializer.CoAwait[*Thread, spawnResult](ctx, t.ser, serializer.ChanFuture[spawnResult]{Ch: ch})
	if err != nil {
		return false, errors.WithStack(err)
	}
	if res.err != nil {
		if t.handleFault(frame, handlers, res.err, pc) {
			return true, nil
		}
		return false, res.err
	}
	if len(res.values) > 0 {
		t.setReg(frame, insn.A, res.values[0])
	} else {
		t.setReg(frame, insn.A, value.NewNull())
	}
	return false, nil
}

// execSpawn implements SPAWN rA, #funcID: args for the new task live at
// [A, A+NumParams) in the caller's own frame; regs[A] is overwritten with
// an opaque task handle for a later AWAIT.
func (t *Thread) execSpawn(ctx context.Context, frame stack.FrameInfo, insn program.Instruction) {
	targetID := uint32(insn.Imm)
	callee := &t.prog.Functions[targetID]
	argBase := int(insn.A)
	args := append([]value.Value(nil), t.stk.Slots()[frame.FrameStart+argBase:frame.FrameStart+argBase+callee.NumParams]...)

	resultCh := make(chan spawnResult, 1)
	child := t.newChild()
	taskID := t.ser.CoSpawn(t, func(id serializer.TaskID) {
		if err := t.ser.Acquire(ctx); err != nil {
			resultCh <- spawnResult{err: err}
			return
		}
		defer t.ser.Release()
		defer t.ser.Done(id)
		values, err := child.RunFunctionNoAcquire(ctx, targetID, args)
		resultCh <- spawnResult{values: values, err: err}
	})
	t.spawnResults[taskID] = resultCh
	t.setReg(frame, insn.A, value.NewInt(int64(taskID)))
}

// RunFunctionNoAcquire is RunFunction's body without the permit
// acquire/release: used by the SPAWN handler, which already holds the
// permit (acquired just above) for the task's entire synchronous run. The
// Thread it runs on is freshly spawned with an empty stack of its own, so
// it uses ExtFuncCallGrowStack exactly as a main-thread top-level call
// does.
func (t *Thread) RunFunctionNoAcquire(ctx context.Context, funcID uint32, args []value.Value) ([]value.Value, error) {
	fn := &t.prog.Functions[funcID]
	retLocs := make([]int, fn.NumRets)
	frame, err := t.stk.ExtFuncCallGrowStack(funcID, fn.NumLocals, retLocs)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for i, a := range args {
		t.setReg(frame, uint8(i), a)
	}
	retRegs, err := t.execute(ctx, frame)
	if err != nil {
		return nil, err
	}
	_, results, err := t.stk.DoneFuncCallShrinkStack(retRegs)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return results, nil
}
