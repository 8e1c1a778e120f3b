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

package typeck

import "testing"

func TestInternReturnsSamePointerForEqualStructure(t *testing.T) {
	p := NewPool(16)

	a := p.Intern(&TypeCkInfo{Kind: TFunc,
		Params:  []*TypeCkInfo{{Kind: TInt}, {Kind: TBool}},
		Results: []*TypeCkInfo{{Kind: TFloat}},
	})
	b := p.Intern(&TypeCkInfo{Kind: TFunc,
		Params:  []*TypeCkInfo{{Kind: TInt}, {Kind: TBool}},
		Results: []*TypeCkInfo{{Kind: TFloat}},
	})

	if a != b {
		t.Fatal("structurally identical TypeCkInfo did not intern to the same pointer")
	}
}

func TestInternDistinguishesDifferentStructure(t *testing.T) {
	p := NewPool(16)

	a := p.Intern(&TypeCkInfo{Kind: TPtr, TypeID: 1})
	b := p.Intern(&TypeCkInfo{Kind: TPtr, TypeID: 2})

	if a == b {
		t.Fatal("different TypeID should not intern to the same pointer")
	}
	if a.Equals(b) {
		t.Fatal("different TypeID should not be Equals")
	}
}

func TestInternDistinguishesParamResultArity(t *testing.T) {
	p := NewPool(16)

	a := p.Intern(&TypeCkInfo{Kind: TFunc, Params: []*TypeCkInfo{{Kind: TInt}}})
	b := p.Intern(&TypeCkInfo{Kind: TFunc, Results: []*TypeCkInfo{{Kind: TInt}}})

	if a == b || a.Equals(b) {
		t.Fatal("a param-only and a result-only function type must not be considered equal")
	}
}
