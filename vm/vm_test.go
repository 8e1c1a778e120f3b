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
	"encoding/binary"
	"testing"

	"github.com/probechain/probevm-core/program"
	"github.com/probechain/probevm-core/value"
	"github.com/probechain/probevm-core/vmconfig"
)

// noopRegistry is a NativeRegistry stub for tests that never reach
// CALLFFI; the ffi package that actually implements this interface for
// production use lives outside this package.
type noopRegistry struct{}

func (noopRegistry) Call(_ context.Context, name string, _ []value.Value, _ bool) ([]value.Value, error) {
	return nil, &Exception{Kind: ExcUnexpectedValueKind, Message: "no native function " + name + " registered in this test"}
}

// funcBuilder accumulates one function's instruction stream.
type funcBuilder struct {
	name                            string
	numParams, numLocals, numRets   int
	code                            []byte
}

func (fb *funcBuilder) std(op program.Opcode, a, b, c uint8) *funcBuilder {
	fb.code = program.EncodeStd(fb.code, op, a, b, c)
	return fb
}

func (fb *funcBuilder) wide(op program.Opcode, a uint8, imm uint16) *funcBuilder {
	fb.code = program.EncodeWide(fb.code, op, a, imm)
	return fb
}

// patchImm overwrites the 16-bit immediate of the wide instruction starting
// at byte offset insnOffset, for forward references (CATCH targets) fixed
// up after the target's actual offset is known.
func (fb *funcBuilder) patchImm(insnOffset int, imm uint16) {
	binary.LittleEndian.PutUint16(fb.code[insnOffset+2:insnOffset+4], imm)
}

// buildProgram links a set of functions into one CompiledProgram, assigning
// function ids by slice position (the same convention program.Load uses
// once loaded from disk).
func buildProgram(fns []*funcBuilder, consts []value.Value, ffi []program.FFIImport, closures []program.ClosureTemplate) *program.CompiledProgram {
	var code []byte
	defs := make([]program.FunctionDef, len(fns))
	for i, fb := range fns {
		entry := uint32(len(code))
		code = append(code, fb.code...)
		defs[i] = program.FunctionDef{
			Name:      fb.name,
			Entry:     entry,
			End:       uint32(len(code)),
			NumParams: fb.numParams,
			NumLocals: fb.numLocals,
			NumRets:   fb.numRets,
		}
	}
	return &program.CompiledProgram{Code: code, Constants: consts, Functions: defs, FFI: ffi, ClosureTemplates: closures}
}

func runMain(t *testing.T, prog *program.CompiledProgram, cfg vmconfig.Config, args ...value.Value) []value.Value {
	t.Helper()
	th := CreateMainThread(prog, noopRegistry{}, cfg)
	results, err := th.RunFunction(context.Background(), 0, args)
	if err != nil {
		t.Fatalf("RunFunction: unexpected error: %v", err)
	}
	return results
}

func wantInt(t *testing.T, results []value.Value, idx int, want int64) {
	t.Helper()
	if idx >= len(results) {
		t.Fatalf("result %d missing (have %d results)", idx, len(results))
	}
	got, ok := results[idx].AsInt()
	if !ok {
		t.Fatalf("result %d is not an int (tag=%s)", idx, results[idx].Tag())
	}
	if got != want {
		t.Errorf("result %d: got %d; want %d", idx, got, want)
	}
}

// ---- Arithmetic --------------------------------------------------------

func TestArithmeticReturn(t *testing.T) {
	main := &funcBuilder{name: "main", numLocals: 8, numRets: 1}
	main.wide(program.OpLoadConst, 2, 0) // R2 = 10
	main.wide(program.OpLoadConst, 3, 1) // R3 = 32
	main.std(program.OpAdd, 4, 2, 3)     // R4 = R2 + R3
	main.std(program.OpReturn, 4, 0, 0)

	prog := buildProgram([]*funcBuilder{main}, []value.Value{value.NewInt(10), value.NewInt(32)}, nil, nil)
	results := runMain(t, prog, vmconfig.Default())
	wantInt(t, results, 0, 42)
}

func TestDivideByZeroPropagatesUncaught(t *testing.T) {
	main := &funcBuilder{name: "main", numLocals: 8, numRets: 1}
	main.wide(program.OpLoadConst, 2, 0) // R2 = 10
	main.wide(program.OpLoadConst, 3, 1) // R3 = 0
	main.std(program.OpDiv, 4, 2, 3)
	main.std(program.OpReturn, 4, 0, 0)

	prog := buildProgram([]*funcBuilder{main}, []value.Value{value.NewInt(10), value.NewInt(0)}, nil, nil)
	th := CreateMainThread(prog, noopRegistry{}, vmconfig.Default())
	_, err := th.RunFunction(context.Background(), 0, nil)
	if err == nil {
		t.Fatal("expected an error from dividing by zero, got nil")
	}
	exc := toException(err)
	if exc.Kind != ExcDivideByZero {
		t.Errorf("got exception kind %s; want DivideByZero", exc.Kind)
	}
}

// ---- Fibonacci (iterative, recursion-free control flow) ----------------

// TestFibonacci mirrors the teacher's iterative fib(10)=55 test, ported to
// this VM's opcodes and wide-immediate jump targets.
//
//	R2 = n (10), R3 = a (0), R4 = b (1), R6 = const 1
//	[[loop]]  R7 = (R2 == 0); if R7 jump to [[exit]]
//	          R5 = R3 + R4; R3 = R4; R4 = R5; R2 = R2 - R6; jump [[loop]]
//	[[exit]]  return R3
func TestFibonacci(t *testing.T) {
	main := &funcBuilder{name: "main", numLocals: 10, numRets: 1}
	main.wide(program.OpLoadConst, 2, 0) // R2 = 10 (n)
	main.wide(program.OpLoadConst, 3, 1) // R3 = 0  (a)
	main.wide(program.OpLoadConst, 4, 2) // R4 = 1  (b)
	main.wide(program.OpLoadConst, 6, 2) // R6 = 1  (decrement constant)
	main.wide(program.OpLoadConst, 8, 1) // R8 = 0  (comparison constant; this VM has no always-zero register)

	loopPC := uint32(len(main.code))
	main.std(program.OpEq, 7, 2, 8) // R7 = (R2 == 0)
	jumpIfAtOffset := len(main.code)
	main.wide(program.OpJumpIfTrue, 7, 0) // placeholder, patched to exitPC below
	main.std(program.OpAdd, 5, 3, 4)      // R5 = R3 + R4
	main.std(program.OpMove, 3, 4, 0)     // R3 = R4
	main.std(program.OpMove, 4, 5, 0)     // R4 = R5
	main.std(program.OpSub, 2, 2, 6)      // R2 = R2 - 1
	main.wide(program.OpJump, 0, uint16(loopPC))
	exitPC := uint32(len(main.code))
	main.patchImm(jumpIfAtOffset, uint16(exitPC))
	main.std(program.OpReturn, 3, 0, 0)

	prog := buildProgram([]*funcBuilder{main}, []value.Value{value.NewInt(10), value.NewInt(0), value.NewInt(1)}, nil, nil)
	results := runMain(t, prog, vmconfig.Default())
	wantInt(t, results, 0, 55)
}

// ---- Call / Return -------------------------------------------------------

func TestCallReturn(t *testing.T) {
	// add(a, b) = a + b, called from main with args placed at R2, R3 and
	// the result scattered back into R2.
	add := &funcBuilder{name: "add", numParams: 2, numLocals: 3, numRets: 1}
	add.std(program.OpAdd, 2, 0, 1)
	add.std(program.OpReturn, 2, 0, 0)

	main := &funcBuilder{name: "main", numLocals: 8, numRets: 1}
	main.wide(program.OpLoadConst, 2, 0) // R2 = 20 (arg 0)
	main.wide(program.OpLoadConst, 3, 1) // R3 = 22 (arg 1)
	main.wide(program.OpCall, 2, 1)      // CALL funcID 1 (add), args/ret at base R2
	main.std(program.OpReturn, 2, 0, 0)

	prog := buildProgram([]*funcBuilder{main, add}, []value.Value{value.NewInt(20), value.NewInt(22)}, nil, nil)
	results := runMain(t, prog, vmconfig.Default())
	wantInt(t, results, 0, 42)
}

// ---- Exceptions: RAISE/CATCH binds by move -------------------------------

func TestRaiseCaughtByLocalHandler(t *testing.T) {
	main := &funcBuilder{name: "main", numLocals: 8, numRets: 1}
	catchAt := len(main.code)
	main.wide(program.OpCatch, 5, 0) // handler: bind into R5, target patched below
	main.wide(program.OpLoadConst, 2, 0)
	main.std(program.OpRaise, 2, 0, 0)
	main.std(program.OpLoadFalse, 5, 0, 0) // unreachable: RAISE always transfers control
	main.std(program.OpReturn, 5, 0, 0)    // unreachable
	handlerPC := uint32(len(main.code))
	main.patchImm(catchAt, uint16(handlerPC))
	main.std(program.OpReturn, 5, 0, 0)

	prog := buildProgram([]*funcBuilder{main}, []value.Value{value.NewInt(99)}, nil, nil)
	results := runMain(t, prog, vmconfig.Default())
	wantInt(t, results, 0, 99)
}

func TestRaiseUncaughtEscapesFrame(t *testing.T) {
	main := &funcBuilder{name: "main", numLocals: 8, numRets: 1}
	main.wide(program.OpLoadConst, 2, 0)
	main.std(program.OpRaise, 2, 0, 0)
	main.std(program.OpReturn, 2, 0, 0)

	prog := buildProgram([]*funcBuilder{main}, []value.Value{value.NewInt(7)}, nil, nil)
	th := CreateMainThread(prog, noopRegistry{}, vmconfig.Default())
	_, err := th.RunFunction(context.Background(), 0, nil)
	if err == nil {
		t.Fatal("expected the RAISE to escape uncaught")
	}
	exc := toException(err)
	if exc.Kind != ExcUserThrown {
		t.Errorf("got kind %s; want UserThrown", exc.Kind)
	}
	if got, ok := exc.Payload.AsInt(); !ok || got != 7 {
		t.Errorf("payload = %v, ok=%v; want 7", got, ok)
	}
}

// ---- Closures -------------------------------------------------------------

// TestClosureCaptureAndCall builds adder(x) that returns x + <captured>,
// closes over captured=100 via MKCLOS, and invokes it with x=5.
func TestClosureCaptureAndCall(t *testing.T) {
	adder := &funcBuilder{name: "adder", numParams: 1, numLocals: 3, numRets: 1}
	adder.std(program.OpAdd, 2, 0, 1) // R2 = param(R0) + upvalue(R1)
	adder.std(program.OpReturn, 2, 0, 0)

	main := &funcBuilder{name: "main", numLocals: 8, numRets: 1}
	main.wide(program.OpLoadConst, 3, 0) // R3 = 100 (goes into the upvalue slot, A+1 of MKCLOS below)
	main.wide(program.OpMkClosure, 2, 0) // R2 = closure over template 0, upvalue from R3
	main.wide(program.OpLoadConst, 4, 1) // R4 = 5 (explicit arg, at CALLCLOS's arg base)
	main.std(program.OpCallClosure, 2, 4, 0)
	main.std(program.OpReturn, 4, 0, 0)

	closures := []program.ClosureTemplate{{FuncID: 1, NumUpvalues: 1}}
	prog := buildProgram([]*funcBuilder{main, adder}, []value.Value{value.NewInt(100), value.NewInt(5)}, nil, closures)
	results := runMain(t, prog, vmconfig.Default())
	wantInt(t, results, 0, 105)
}

// ---- Cooperative scheduling: SPAWN/AWAIT ----------------------------------

func TestSpawnAwaitRoundTrip(t *testing.T) {
	callee := &funcBuilder{name: "callee", numLocals: 2, numRets: 1}
	callee.wide(program.OpLoadConst, 0, 0) // R0 = 77
	callee.std(program.OpReturn, 0, 0, 0)

	main := &funcBuilder{name: "main", numLocals: 8, numRets: 1}
	main.wide(program.OpSpawn, 2, 1) // R2 = task handle for callee (funcID 1)
	main.std(program.OpAwait, 2, 0, 0)
	main.std(program.OpReturn, 2, 0, 0)

	prog := buildProgram([]*funcBuilder{main, callee}, []value.Value{value.NewInt(77)}, nil, nil)
	results := runMain(t, prog, vmconfig.Default())
	wantInt(t, results, 0, 77)
}

// ---- Differential: Checked and Release layouts agree ----------------------

// TestCheckedAndReleaseLayoutsAgree runs the same compiled program once with
// the validating Checked stack layout and once with the trusting Release
// layout, and requires identical observable results: Checked only adds
// bookkeeping, it must never change semantics.
func TestCheckedAndReleaseLayoutsAgree(t *testing.T) {
	add := &funcBuilder{name: "add", numParams: 2, numLocals: 3, numRets: 1}
	add.std(program.OpAdd, 2, 0, 1)
	add.std(program.OpReturn, 2, 0, 0)

	main := &funcBuilder{name: "main", numLocals: 8, numRets: 1}
	main.wide(program.OpLoadConst, 2, 0)
	main.wide(program.OpLoadConst, 3, 1)
	main.wide(program.OpCall, 2, 1)
	main.std(program.OpReturn, 2, 0, 0)

	prog := buildProgram([]*funcBuilder{main, add}, []value.Value{value.NewInt(17), value.NewInt(25)}, nil, nil)

	checkedCfg := vmconfig.Default()
	checkedCfg.Features.CompilerPrettyDiag = true
	releaseCfg := vmconfig.Default()
	releaseCfg.Features.CompilerPrettyDiag = false

	checked := runMain(t, prog, checkedCfg)
	release := runMain(t, prog, releaseCfg)

	wantInt(t, checked, 0, 42)
	wantInt(t, release, 0, 42)
}
