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

// Package value implements the tagged Value cell shared by the VM, the FFI
// bridge, and the GC.
//
// A Value has two disjoint interpretations, discriminated by IsValue:
//
//   - Immediate: a Kind selects one of {null, bool, int64, float64, char};
//     the 64-bit payload carries the raw bit pattern.
//   - Pointer: Ptr references a heap Wrapper (see package heap); Aux carries
//     auxiliary information used by generic containers (a vtable id).
//
// The spec this package implements models Value as a flat 16-byte two-word
// cell addressed by raw bit tricks (a pointer packed into a machine word).
// That representation is unsafe in Go: the garbage collector only traces
// pointers held in pointer-typed fields, so a live Wrapper referenced only
// through a word disguised as a uint64 could be collected out from under a
// running script. Value instead uses a small discriminated struct with a
// real *heap.Wrapper field. It is still trivially copyable by value and
// still satisfies every operation and invariant the spec assigns to Value;
// only the literal bit layout differs, and only for GC-safety reasons (see
// DESIGN.md).
package value

import "fmt"

// Kind identifies the type tag of an Immediate value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindChar
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindChar:
		return "char"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Wrapper is the minimal interface a heap-allocated object must satisfy to
// be referenced from a Pointer Value. Package heap provides the concrete
// implementation; value only needs enough surface to route ownership
// queries without importing heap (which itself never needs to know about
// Value), avoiding an import cycle between the two leaf packages.
type Wrapper interface {
	// TypeID identifies the payload type for downcasting by the FFI bridge.
	TypeID() uint64
}

// Value is the fixed-shape cell flowing through VM registers, stack slots,
// closure captures, and FFI call boundaries.
type Value struct {
	isValue bool
	kind    Kind    // meaningful only when isValue
	bits    uint64  // immediate payload bits; meaningful only when isValue
	ptr     Wrapper // meaningful only when !isValue
	aux     uint64  // container vtable id; meaningful only when !isValue
}

// NewNull returns the null Immediate value.
func NewNull() Value { return Value{isValue: true, kind: KindNull} }

// NewBool returns an Immediate bool value.
func NewBool(b bool) Value {
	var bits uint64
	if b {
		bits = 1
	}
	return Value{isValue: true, kind: KindBool, bits: bits}
}

// NewInt returns an Immediate int64 value.
func NewInt(i int64) Value {
	return Value{isValue: true, kind: KindInt, bits: uint64(i)}
}

// NewFloat returns an Immediate float64 value.
func NewFloat(f float64) Value {
	return Value{isValue: true, kind: KindFloat, bits: floatBits(f)}
}

// NewChar returns an Immediate char (rune) value.
func NewChar(r rune) Value {
	return Value{isValue: true, kind: KindChar, bits: uint64(uint32(r))}
}

// NewPtr returns a Pointer value referencing w, with container auxiliary
// word aux (0 for non-container payloads).
func NewPtr(w Wrapper, aux uint64) Value {
	return Value{isValue: false, ptr: w, aux: aux}
}

// IsValue reports whether v is Immediate (true) or Pointer (false).
func (v Value) IsValue() bool { return v.isValue }

// Tag returns the type tag of an Immediate value. The result is undefined
// (KindNull) if v is a Pointer value; callers must test IsValue first, per
// spec.
func (v Value) Tag() Kind {
	if !v.isValue {
		return KindNull
	}
	return v.kind
}

// Ptr returns the referenced Wrapper and the container auxiliary word. Both
// are zero if v is Immediate.
func (v Value) Ptr() (Wrapper, uint64) { return v.ptr, v.aux }

// AsBool extracts the bool payload of an Immediate bool value. The second
// return is false if v is not a bool.
func (v Value) AsBool() (bool, bool) {
	if !v.isValue || v.kind != KindBool {
		return false, false
	}
	return v.bits != 0, true
}

// AsInt extracts the int64 payload of an Immediate int value.
func (v Value) AsInt() (int64, bool) {
	if !v.isValue || v.kind != KindInt {
		return 0, false
	}
	return int64(v.bits), true
}

// AsFloat extracts the float64 payload of an Immediate float value.
func (v Value) AsFloat() (float64, bool) {
	if !v.isValue || v.kind != KindFloat {
		return 0, false
	}
	return bitsFloat(v.bits), true
}

// AsChar extracts the rune payload of an Immediate char value.
func (v Value) AsChar() (rune, bool) {
	if !v.isValue || v.kind != KindChar {
		return 0, false
	}
	return rune(uint32(v.bits)), true
}

// RawBits returns the raw immediate payload word, for callers (the executor,
// the disassembler) that already know the Kind and want to avoid the
// type-switch in the As* accessors.
func (v Value) RawBits() uint64 { return v.bits }

func (v Value) String() string {
	if !v.isValue {
		if v.ptr == nil {
			return "<nil-ptr>"
		}
		return fmt.Sprintf("ptr(type=%d, aux=%d)", v.ptr.TypeID(), v.aux)
	}
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		b, _ := v.AsBool()
		return fmt.Sprintf("%t", b)
	case KindInt:
		i, _ := v.AsInt()
		return fmt.Sprintf("%d", i)
	case KindFloat:
		f, _ := v.AsFloat()
		return fmt.Sprintf("%g", f)
	case KindChar:
		c, _ := v.AsChar()
		return fmt.Sprintf("%q", c)
	default:
		return "<invalid>"
	}
}
