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

package value

import (
	"testing"

	fuzz "github.com/google/gofuzz"
)

func TestArithOnMatchingTags(t *testing.T) {
	tests := []struct {
		name string
		fn   func(a, b Value) (Value, error)
		a, b Value
		want Value
	}{
		{"int add", Add, NewInt(2), NewInt(3), NewInt(5)},
		{"int sub", Sub, NewInt(5), NewInt(3), NewInt(2)},
		{"int mul", Mul, NewInt(4), NewInt(3), NewInt(12)},
		{"float add", Add, NewFloat(1.5), NewFloat(2.5), NewFloat(4)},
		{"float sub", Sub, NewFloat(5.5), NewFloat(2), NewFloat(3.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want.String() {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestArithTagMismatchReportsOp(t *testing.T) {
	// Regression: each arithmetic kernel must report the operator it was
	// actually asked to perform, not a copy-pasted symbol from another
	// kernel (the subtract kernel used to always report '-').
	tests := []struct {
		op   string
		fn   func(a, b Value) (Value, error)
	}{
		{"+", Add},
		{"-", Sub},
		{"*", Mul},
	}
	for _, tt := range tests {
		_, err := tt.fn(NewInt(1), NewBool(true))
		boe, ok := err.(*BinaryOpError)
		if !ok {
			t.Fatalf("op %q: expected *BinaryOpError, got %T", tt.op, err)
		}
		if boe.Op != tt.op {
			t.Fatalf("op %q: error reported op %q", tt.op, boe.Op)
		}
	}
}

func TestIntDivideByZero(t *testing.T) {
	_, err := Div(NewInt(1), NewInt(0))
	if _, ok := err.(*DivideByZeroError); !ok {
		t.Fatalf("expected *DivideByZeroError, got %v", err)
	}
	_, err = Mod(NewInt(1), NewInt(0))
	if _, ok := err.(*DivideByZeroError); !ok {
		t.Fatalf("expected *DivideByZeroError, got %v", err)
	}
}

func TestFloatDivideByZeroIsNotAnError(t *testing.T) {
	got, err := Div(NewFloat(1), NewFloat(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, _ := got.AsFloat()
	if !isInf(f) {
		t.Fatalf("expected +Inf, got %v", f)
	}

	if _, err := Mod(NewFloat(1), NewFloat(0)); err != nil {
		t.Fatalf("float modulo by zero must not error, got %v", err)
	}
}

func isInf(f float64) bool { return f > 1e300 || f < -1e300 }

func TestEqIsTotalAcrossTags(t *testing.T) {
	if !Eq(NewNull(), NewNull()).mustBool(t) {
		t.Fatal("null == null should be true")
	}
	if Eq(NewInt(1), NewBool(true)).mustBool(t) {
		t.Fatal("int(1) == bool(true) should be false, not coerced")
	}
	if Eq(NewInt(1), NewInt(1)).mustBool(t) != true {
		t.Fatal("int(1) == int(1) should be true")
	}
}

func (v Value) mustBool(t *testing.T) bool {
	t.Helper()
	b, ok := v.AsBool()
	if !ok {
		t.Fatalf("expected bool value, got %v", v)
	}
	return b
}

func TestOrderingRejectsMixedTags(t *testing.T) {
	if _, err := Lt(NewInt(1), NewFloat(2)); err == nil {
		t.Fatal("expected InvalidBinaryOp for mixed int/float ordering")
	}
}

// Property: for any two ints, Add is commutative and Sub is its inverse.
func TestIntArithProperties(t *testing.T) {
	f := fuzz.New().NilChance(0)
	for i := 0; i < 200; i++ {
		var a, b int64
		f.Fuzz(&a)
		f.Fuzz(&b)
		va, vb := NewInt(a), NewInt(b)

		sum1, err := Add(va, vb)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		sum2, err := Add(vb, va)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if sum1.String() != sum2.String() {
			t.Fatalf("Add not commutative for %d,%d", a, b)
		}

		diff, err := Sub(sum1, vb)
		if err != nil {
			t.Fatalf("Sub: %v", err)
		}
		if diff.String() != va.String() {
			t.Fatalf("(a+b)-b != a for %d,%d", a, b)
		}
	}
}

// Property: round-tripping through the immediate constructors/accessors is
// lossless for every payload-carrying immediate tag (int, bool, float, char).
func TestImmediateRoundTrip(t *testing.T) {
	f := fuzz.New().NilChance(0)
	for i := 0; i < 200; i++ {
		var i64 int64
		var f64 float64
		var b bool
		var r rune
		f.Fuzz(&i64)
		f.Fuzz(&f64)
		f.Fuzz(&b)
		f.Fuzz(&r)

		if got, ok := NewInt(i64).AsInt(); !ok || got != i64 {
			t.Fatalf("int round-trip: got %v,%v want %v", got, ok, i64)
		}
		if got, ok := NewBool(b).AsBool(); !ok || got != b {
			t.Fatalf("bool round-trip: got %v,%v want %v", got, ok, b)
		}
		gotF, ok := NewFloat(f64).AsFloat()
		if !ok || (gotF != f64 && !(isNaN(gotF) && isNaN(f64))) {
			t.Fatalf("float round-trip: got %v,%v want %v", gotF, ok, f64)
		}
		if got, ok := NewChar(r).AsChar(); !ok || got != r {
			t.Fatalf("char round-trip: got %v,%v want %v", got, ok, r)
		}
	}
}

func isNaN(f float64) bool { return f != f }

func TestPointerValuesAreNotImmediate(t *testing.T) {
	w := fakeWrapper{id: 7}
	v := NewPtr(w, 42)
	if v.IsValue() {
		t.Fatal("pointer value reported IsValue() == true")
	}
	gotW, aux := v.Ptr()
	if gotW.TypeID() != 7 || aux != 42 {
		t.Fatalf("Ptr() round-trip failed: %v, %v", gotW, aux)
	}
}

type fakeWrapper struct{ id uint64 }

func (f fakeWrapper) TypeID() uint64 { return f.id }
