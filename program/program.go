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

package program

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/probechain/probevm-core/typeck"
	"github.com/probechain/probevm-core/value"
)

// FunctionDef locates one function's instructions within the shared code
// stream and records its calling convention.
type FunctionDef struct {
	Name      string
	Entry     uint32 // offset into CompiledProgram.Code
	End       uint32 // exclusive offset into CompiledProgram.Code
	NumParams int
	NumLocals int
	NumRets   int
}

// FFIImport declares one native function a program calls through CALLFFI.
// The program only records the name and the signature it expects; the ffi
// package resolves the name against its native registry at link time
// (CreateMainThread), the same separation the teacher's loader keeps
// between "what a function is called" and "what it actually does".
type FFIImport struct {
	Name      string
	Signature *typeck.TypeCkInfo
	NumArgs   int
	NumRets   int
}

// ClosureTemplate describes one MKCLOS site: which function it wraps and
// how many upvalue slots its closure cells carry.
type ClosureTemplate struct {
	FuncID      uint32
	NumUpvalues int
}

// CompiledProgram is the linked artifact the VM executes.
type CompiledProgram struct {
	Code             []byte
	Constants        []value.Value
	Functions        []FunctionDef
	FFI              []FFIImport
	ClosureTemplates []ClosureTemplate
}

// FunctionByName looks up a function by name, for host code bootstrapping
// a call into the program (e.g. cmd/probevm calling a "main" entry point).
func (p *CompiledProgram) FunctionByName(name string) (uint32, *FunctionDef, bool) {
	for i := range p.Functions {
		if p.Functions[i].Name == name {
			return uint32(i), &p.Functions[i], true
		}
	}
	return 0, nil, false
}

// Verify statically checks that the code stream decodes cleanly and that
// every control-transfer target lands inside a function's own code range.
// It does not attempt full type checking (that belongs to the out-of-scope
// semantic arena); it only rules out the class of errors that would make
// Release-layout execution (which trusts the stack invariants instead of
// rechecking them) unsafe.
func Verify(p *CompiledProgram) error {
	for i := range p.Functions {
		fn := &p.Functions[i]
		if fn.Entry > fn.End || int(fn.End) > len(p.Code) {
			return errors.Errorf("program: function %q has out-of-range bounds [%d,%d)", fn.Name, fn.Entry, fn.End)
		}
		for pc := fn.Entry; pc < fn.End; pc += InstructionWidth {
			insn, err := Decode(p.Code, pc)
			if err != nil {
				return errors.WithStack(err)
			}
			if isJump(insn.Op) {
				target := uint32(insn.Imm)
				if target < fn.Entry || target >= fn.End {
					return errors.Errorf("program: function %q jump at pc=%d targets %d, outside its own body [%d,%d)", fn.Name, pc, target, fn.Entry, fn.End)
				}
			}
		}
	}
	for i, imp := range p.FFI {
		if imp.Name == "" {
			return errors.Errorf("program: ffi import %d has an empty name", i)
		}
	}
	for i, ct := range p.ClosureTemplates {
		if int(ct.FuncID) >= len(p.Functions) {
			return errors.Errorf("program: closure template %d references unknown function id %d", i, ct.FuncID)
		}
	}
	return nil
}

func isJump(op Opcode) bool {
	return op == OpJump || op == OpJumpIfTrue || op == OpJumpIfFalse
}

// magic identifies the on-disk format Load/Save produce, so Load can fail
// fast on unrelated input instead of decoding garbage.
var magic = [4]byte{'P', 'V', 'M', 1}

// Load decodes a CompiledProgram previously produced by Save, verifying it
// before returning. A Load of identical bytes is served from the package's
// content-addressed decode cache (see cache.go) when available.
func Load(data []byte) (*CompiledProgram, error) {
	if cached, ok := decodeCache.lookup(data); ok {
		return cached, nil
	}
	p, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := Verify(p); err != nil {
		return nil, err
	}
	decodeCache.store(data, p)
	return p, nil
}

func decode(data []byte) (*CompiledProgram, error) {
	r := &byteReader{data: data}
	var m [4]byte
	if err := r.readBytes(m[:]); err != nil {
		return nil, errors.Wrap(err, "program: truncated header")
	}
	if m != magic {
		return nil, errors.New("program: bad magic, not a probevm-core compiled program")
	}

	p := &CompiledProgram{}

	codeLen, err := r.readUint32()
	if err != nil {
		return nil, errors.Wrap(err, "program: reading code length")
	}
	p.Code = make([]byte, codeLen)
	if err := r.readBytes(p.Code); err != nil {
		return nil, errors.Wrap(err, "program: reading code")
	}

	constCount, err := r.readUint32()
	if err != nil {
		return nil, errors.Wrap(err, "program: reading constant count")
	}
	for i := uint32(0); i < constCount; i++ {
		v, err := r.readConstant()
		if err != nil {
			return nil, errors.Wrapf(err, "program: reading constant %d", i)
		}
		p.Constants = append(p.Constants, v)
	}

	fnCount, err := r.readUint32()
	if err != nil {
		return nil, errors.Wrap(err, "program: reading function count")
	}
	for i := uint32(0); i < fnCount; i++ {
		name, err := r.readString()
		if err != nil {
			return nil, err
		}
		entry, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		end, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		params, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		locals, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		rets, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		p.Functions = append(p.Functions, FunctionDef{
			Name: name, Entry: entry, End: end,
			NumParams: int(params), NumLocals: int(locals), NumRets: int(rets),
		})
	}

	ffiCount, err := r.readUint32()
	if err != nil {
		return nil, errors.Wrap(err, "program: reading ffi import count")
	}
	for i := uint32(0); i < ffiCount; i++ {
		name, err := r.readString()
		if err != nil {
			return nil, err
		}
		numArgs, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		numRets, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		p.FFI = append(p.FFI, FFIImport{Name: name, NumArgs: int(numArgs), NumRets: int(numRets)})
	}

	closureCount, err := r.readUint32()
	if err != nil {
		return nil, errors.Wrap(err, "program: reading closure template count")
	}
	for i := uint32(0); i < closureCount; i++ {
		funcID, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		upvalues, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		p.ClosureTemplates = append(p.ClosureTemplates, ClosureTemplate{FuncID: funcID, NumUpvalues: int(upvalues)})
	}

	return p, nil
}

// Save serializes p into the binary format Load expects, enabling the
// round-trip guarantee spec.md §6 asks implementations to support.
func Save(p *CompiledProgram) []byte {
	var buf []byte
	buf = append(buf, magic[:]...)
	buf = appendUint32(buf, uint32(len(p.Code)))
	buf = append(buf, p.Code...)

	buf = appendUint32(buf, uint32(len(p.Constants)))
	for _, c := range p.Constants {
		buf = appendConstant(buf, c)
	}

	buf = appendUint32(buf, uint32(len(p.Functions)))
	for _, fn := range p.Functions {
		buf = appendString(buf, fn.Name)
		buf = appendUint32(buf, fn.Entry)
		buf = appendUint32(buf, fn.End)
		buf = appendUint32(buf, uint32(fn.NumParams))
		buf = appendUint32(buf, uint32(fn.NumLocals))
		buf = appendUint32(buf, uint32(fn.NumRets))
	}

	buf = appendUint32(buf, uint32(len(p.FFI)))
	for _, imp := range p.FFI {
		buf = appendString(buf, imp.Name)
		buf = appendUint32(buf, uint32(imp.NumArgs))
		buf = appendUint32(buf, uint32(imp.NumRets))
	}

	buf = appendUint32(buf, uint32(len(p.ClosureTemplates)))
	for _, ct := range p.ClosureTemplates {
		buf = appendUint32(buf, ct.FuncID)
		buf = appendUint32(buf, uint32(ct.NumUpvalues))
	}

	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

const (
	constTagNull = iota
	constTagBool
	constTagInt
	constTagFloat
	constTagChar
)

func appendConstant(buf []byte, v value.Value) []byte {
	switch v.Tag() {
	case value.KindBool:
		b, _ := v.AsBool()
		buf = append(buf, constTagBool)
		if b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case value.KindInt:
		i, _ := v.AsInt()
		buf = append(buf, constTagInt)
		buf = appendUint64(buf, uint64(i))
	case value.KindFloat:
		f, _ := v.AsFloat()
		buf = append(buf, constTagFloat)
		buf = appendUint64(buf, math.Float64bits(f))
	case value.KindChar:
		c, _ := v.AsChar()
		buf = append(buf, constTagChar)
		buf = appendUint32(buf, uint32(c))
	default:
		buf = append(buf, constTagNull)
	}
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
