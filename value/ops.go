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

import "fmt"

// BinaryOpError reports that op cannot be applied to a value of lhs's tag
// and a value of rhs's tag (tag mismatch, or a tag that op never supports,
// e.g. bitwise and on floats).
type BinaryOpError struct {
	Op  string
	Lhs Value
	Rhs Value
}

func (e *BinaryOpError) Error() string {
	return fmt.Sprintf("invalid binary op %q for %s and %s", e.Op, e.Lhs.Tag(), e.Rhs.Tag())
}

// DivideByZeroError reports an integer division or modulo by zero. Floating
// point division and modulo by zero are not errors: they follow IEEE 754
// (yielding +Inf, -Inf, or NaN) the same way a plain `/`/`%` would in any
// other floating point runtime, so they fall straight through Div/Mod
// without ever constructing this error.
type DivideByZeroError struct {
	Op string
}

func (e *DivideByZeroError) Error() string {
	return fmt.Sprintf("divide by zero in %q", e.Op)
}

// Add implements the `+` operator. Int/Int wraps on overflow, matching
// register-machine integer semantics; Float/Float follows IEEE 754.
func Add(lhs, rhs Value) (Value, error) { return arith("+", lhs, rhs) }

// Sub implements the `-` operator.
func Sub(lhs, rhs Value) (Value, error) { return arith("-", lhs, rhs) }

// Mul implements the `*` operator.
func Mul(lhs, rhs Value) (Value, error) { return arith("*", lhs, rhs) }

func arith(op string, lhs, rhs Value) (Value, error) {
	if lhs.IsValue() && rhs.IsValue() && lhs.Tag() == KindInt && rhs.Tag() == KindInt {
		a, _ := lhs.AsInt()
		b, _ := rhs.AsInt()
		switch op {
		case "+":
			return NewInt(a + b), nil
		case "-":
			return NewInt(a - b), nil
		case "*":
			return NewInt(a * b), nil
		}
	}
	if lhs.IsValue() && rhs.IsValue() && lhs.Tag() == KindFloat && rhs.Tag() == KindFloat {
		a, _ := lhs.AsFloat()
		b, _ := rhs.AsFloat()
		switch op {
		case "+":
			return NewFloat(a + b), nil
		case "-":
			return NewFloat(a - b), nil
		case "*":
			return NewFloat(a * b), nil
		}
	}
	return Value{}, &BinaryOpError{Op: op, Lhs: lhs, Rhs: rhs}
}

// Div implements the `/` operator. Integer division by zero is
// DivideByZeroError; floating point division by zero is not an error.
func Div(lhs, rhs Value) (Value, error) {
	if lhs.Tag() == KindInt && rhs.Tag() == KindInt {
		a, _ := lhs.AsInt()
		b, _ := rhs.AsInt()
		if b == 0 {
			return Value{}, &DivideByZeroError{Op: "/"}
		}
		return NewInt(a / b), nil
	}
	if lhs.Tag() == KindFloat && rhs.Tag() == KindFloat {
		a, _ := lhs.AsFloat()
		b, _ := rhs.AsFloat()
		return NewFloat(a / b), nil
	}
	return Value{}, &BinaryOpError{Op: "/", Lhs: lhs, Rhs: rhs}
}

// Mod implements the `%` operator. For Int/Int operands it is the usual
// remainder and divide-by-zero is an error. For Float/Float operands this
// runtime defines modulo as plain float division, not the textbook fmod;
// it never raises DivideByZeroError, producing NaN or Inf the same way Div
// does for a zero divisor (a documented oddity inherited from the source
// this VM is modeled on, not a bug: see DESIGN.md).
func Mod(lhs, rhs Value) (Value, error) {
	if lhs.Tag() == KindInt && rhs.Tag() == KindInt {
		a, _ := lhs.AsInt()
		b, _ := rhs.AsInt()
		if b == 0 {
			return Value{}, &DivideByZeroError{Op: "%"}
		}
		return NewInt(a % b), nil
	}
	if lhs.Tag() == KindFloat && rhs.Tag() == KindFloat {
		a, _ := lhs.AsFloat()
		b, _ := rhs.AsFloat()
		return NewFloat(a / b), nil
	}
	return Value{}, &BinaryOpError{Op: "%", Lhs: lhs, Rhs: rhs}
}

// Neg implements unary `-`.
func Neg(v Value) (Value, error) {
	switch v.Tag() {
	case KindInt:
		i, _ := v.AsInt()
		return NewInt(-i), nil
	case KindFloat:
		f, _ := v.AsFloat()
		return NewFloat(-f), nil
	default:
		return Value{}, &BinaryOpError{Op: "neg", Lhs: v, Rhs: v}
	}
}

// Eq implements `==`. Unlike the arithmetic and ordering operators, Eq is
// defined across any pair of Immediate tags (mismatched tags simply compare
// unequal, they do not error) and across Pointer values (pointer identity).
func Eq(lhs, rhs Value) Value {
	return NewBool(equal(lhs, rhs))
}

// Neq implements `!=`.
func Neq(lhs, rhs Value) Value {
	return NewBool(!equal(lhs, rhs))
}

func equal(lhs, rhs Value) bool {
	if lhs.IsValue() != rhs.IsValue() {
		return false
	}
	if !lhs.IsValue() {
		lp, laux := lhs.Ptr()
		rp, raux := rhs.Ptr()
		return lp == rp && laux == raux
	}
	if lhs.Tag() != rhs.Tag() {
		return false
	}
	switch lhs.Tag() {
	case KindNull:
		return true
	case KindBool:
		a, _ := lhs.AsBool()
		b, _ := rhs.AsBool()
		return a == b
	case KindInt:
		a, _ := lhs.AsInt()
		b, _ := rhs.AsInt()
		return a == b
	case KindFloat:
		a, _ := lhs.AsFloat()
		b, _ := rhs.AsFloat()
		return a == b
	case KindChar:
		a, _ := lhs.AsChar()
		b, _ := rhs.AsChar()
		return a == b
	default:
		return false
	}
}

// Lt, Lte, Gt, Gte implement the ordering operators. They accept only
// Int/Int and Float/Float pairs; any other combination is InvalidBinaryOp,
// mirroring the teacher's register VM where Lt/Lte/Gt/Gte are separate
// opcodes from Eq/Neq rather than a single three-way compare.
func Lt(lhs, rhs Value) (Value, error)  { return cmp("<", lhs, rhs) }
func Lte(lhs, rhs Value) (Value, error) { return cmp("<=", lhs, rhs) }
func Gt(lhs, rhs Value) (Value, error)  { return cmp(">", lhs, rhs) }
func Gte(lhs, rhs Value) (Value, error) { return cmp(">=", lhs, rhs) }

func cmp(op string, lhs, rhs Value) (Value, error) {
	if lhs.Tag() == KindInt && rhs.Tag() == KindInt {
		a, _ := lhs.AsInt()
		b, _ := rhs.AsInt()
		switch {
		case a < b:
			return NewBool(op == "<" || op == "<="), nil
		case a > b:
			return NewBool(op == ">" || op == ">="), nil
		default:
			return NewBool(op == "<=" || op == ">="), nil
		}
	}
	if lhs.Tag() == KindFloat && rhs.Tag() == KindFloat {
		a, _ := lhs.AsFloat()
		b, _ := rhs.AsFloat()
		return NewBool(cmpOrdered(op, a, b)), nil
	}
	return Value{}, &BinaryOpError{Op: op, Lhs: lhs, Rhs: rhs}
}

func cmpOrdered(op string, a, b float64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	default:
		return false
	}
}

// And, Or, Xor implement the bitwise operators, defined only on Int/Int.
func And(lhs, rhs Value) (Value, error) { return bitwise("&", lhs, rhs) }
func Or(lhs, rhs Value) (Value, error)  { return bitwise("|", lhs, rhs) }
func Xor(lhs, rhs Value) (Value, error) { return bitwise("^", lhs, rhs) }

func bitwise(op string, lhs, rhs Value) (Value, error) {
	if lhs.Tag() != KindInt || rhs.Tag() != KindInt {
		return Value{}, &BinaryOpError{Op: op, Lhs: lhs, Rhs: rhs}
	}
	a, _ := lhs.AsInt()
	b, _ := rhs.AsInt()
	switch op {
	case "&":
		return NewInt(a & b), nil
	case "|":
		return NewInt(a | b), nil
	case "^":
		return NewInt(a ^ b), nil
	}
	panic("unreachable")
}

// Shl, Shr implement the shift operators; the shift amount is masked to the
// low 6 bits (matching a 64-bit shift's defined behavior in Go itself).
func Shl(lhs, rhs Value) (Value, error) { return shift("<<", lhs, rhs) }
func Shr(lhs, rhs Value) (Value, error) { return shift(">>", lhs, rhs) }

func shift(op string, lhs, rhs Value) (Value, error) {
	if lhs.Tag() != KindInt || rhs.Tag() != KindInt {
		return Value{}, &BinaryOpError{Op: op, Lhs: lhs, Rhs: rhs}
	}
	a, _ := lhs.AsInt()
	b, _ := rhs.AsInt()
	n := uint(b) & 63
	if op == "<<" {
		return NewInt(a << n), nil
	}
	return NewInt(a >> n), nil
}

// BitNot implements unary bitwise complement, defined only on Int.
func BitNot(v Value) (Value, error) {
	if v.Tag() != KindInt {
		return Value{}, &BinaryOpError{Op: "~", Lhs: v, Rhs: v}
	}
	i, _ := v.AsInt()
	return NewInt(^i), nil
}

// LogicalAnd, LogicalOr, LogicalNot implement the eager boolean operators
// used by non-branching logic opcodes (short-circuiting `&&`/`||` are
// expressed by the executor as branches, not by these kernels).
func LogicalAnd(lhs, rhs Value) (Value, error) { return logical("&&", lhs, rhs) }
func LogicalOr(lhs, rhs Value) (Value, error)  { return logical("||", lhs, rhs) }

func logical(op string, lhs, rhs Value) (Value, error) {
	if lhs.Tag() != KindBool || rhs.Tag() != KindBool {
		return Value{}, &BinaryOpError{Op: op, Lhs: lhs, Rhs: rhs}
	}
	a, _ := lhs.AsBool()
	b, _ := rhs.AsBool()
	if op == "&&" {
		return NewBool(a && b), nil
	}
	return NewBool(a || b), nil
}

// LogicalNot implements unary `!`.
func LogicalNot(v Value) (Value, error) {
	if v.Tag() != KindBool {
		return Value{}, &BinaryOpError{Op: "!", Lhs: v, Rhs: v}
	}
	b, _ := v.AsBool()
	return NewBool(!b), nil
}
