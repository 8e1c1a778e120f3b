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

// Package typeck implements TypeCkInfo, a structural type descriptor the
// FFI bridge uses to declare each native function's signature, and
// TypeCkInfoPool, which interns TypeCkInfo nodes so two structurally
// identical descriptors end up as the same pointer while the first one's
// hash is still held in the pool's bounded LRU cache; once it is evicted,
// an equal descriptor interns to a new pointer. Pointer equality implies
// structural equality, by construction of the pool; pointer inequality
// does not imply structural inequality.
package typeck

import "fmt"

// TKind is the structural kind a TypeCkInfo describes.
type TKind uint8

const (
	TNull TKind = iota
	TBool
	TInt
	TFloat
	TChar
	TPtr  // a heap.Wrapper payload identified by TypeID
	TFunc // Params -> Results
)

// TypeCkInfo is a structural type descriptor. Two TypeCkInfo values with
// equal Kind/TypeID/Params/Results are interchangeable for every RTLC and
// FFI signature-matching purpose; Equals defines exactly that equivalence.
type TypeCkInfo struct {
	Kind    TKind
	TypeID  uint64        // meaningful only when Kind == TPtr
	Params  []*TypeCkInfo // meaningful only when Kind == TFunc
	Results []*TypeCkInfo // meaningful only when Kind == TFunc
}

// Equals reports whether t and other describe the same structural type.
// Both must already be built from canonical (pool-interned, or at least
// consistently-built) child pointers for the fast path to be correct in
// general use, but Equals itself always does a full structural walk so it
// is safe to call on non-interned nodes too (e.g. before they are
// interned).
func (t *TypeCkInfo) Equals(other *TypeCkInfo) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil {
		return false
	}
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case TPtr:
		return t.TypeID == other.TypeID
	case TFunc:
		return equalList(t.Params, other.Params) && equalList(t.Results, other.Results)
	default:
		return true
	}
}

func equalList(a, b []*TypeCkInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

func (t *TypeCkInfo) String() string {
	switch t.Kind {
	case TNull:
		return "null"
	case TBool:
		return "bool"
	case TInt:
		return "int"
	case TFloat:
		return "float"
	case TChar:
		return "char"
	case TPtr:
		return fmt.Sprintf("ptr<%d>", t.TypeID)
	case TFunc:
		return fmt.Sprintf("fn%s->%s", stringList(t.Params), stringList(t.Results))
	default:
		return "?"
	}
}

func stringList(ts []*TypeCkInfo) string {
	s := "("
	for i, t := range ts {
		if i > 0 {
			s += ", "
		}
		s += t.String()
	}
	return s + ")"
}
