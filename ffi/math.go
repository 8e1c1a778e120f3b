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

package ffi

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/probechain/probevm-core/typeck"
	"github.com/probechain/probevm-core/value"
)

// registerMath wires math.* host functions: u256 big-integer arithmetic
// (the host-side representation of the script's u256 structural type) and
// the U64Vector container, an array-programming type in the spirit of the
// upstream stdlib's U64Array, re-cast here as a heap-tracked, mutably
// borrowable container so its checked/unchecked call paths actually
// differ (a plain Untracked Copy type would make that distinction moot).
func registerMath(r *Registry) {
	u256Binary := tFunc([]*typeck.TypeCkInfo{tPtr(u256TypeID), tPtr(u256TypeID)}, []*typeck.TypeCkInfo{tPtr(u256TypeID)})

	r.Register("math.u256_from_int", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tInt()}, []*typeck.TypeCkInfo{tPtr(u256TypeID)}),
		Checked:   u256FromInt,
	})
	r.Register("math.u256_add", HostFunc{Signature: u256Binary, Checked: u256Add})
	r.Register("math.u256_sub", HostFunc{Signature: u256Binary, Checked: u256Sub})
	r.Register("math.u256_mul", HostFunc{Signature: u256Binary, Checked: u256Mul})

	r.Register("math.vector_new", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tInt()}, []*typeck.TypeCkInfo{tPtr(u64VectorTypeID)}),
		Checked:   vectorNew,
	})
	r.Register("math.vector_len", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tPtr(u64VectorTypeID)}, []*typeck.TypeCkInfo{tInt()}),
		Checked:   vectorLen,
	})
	r.Register("math.vector_get", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tPtr(u64VectorTypeID), tInt()}, []*typeck.TypeCkInfo{tInt()}),
		Checked:   vectorGet,
	})
	r.Register("math.vector_set", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tPtr(u64VectorTypeID), tInt(), tInt()}, nil),
		Checked:   vectorSetChecked,
		Unchecked: vectorSetUnchecked,
	})
	r.Register("math.vector_sum", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tPtr(u64VectorTypeID)}, []*typeck.TypeCkInfo{tInt()}),
		Checked:   vectorSum,
	})
}

func u256Arg(v value.Value) (*uint256.Int, error) { return Copy[*uint256.Int](v) }

func wrapU256(r *Registry, n *uint256.Int) value.Value {
	w := r.hp.AllocUntracked(u256TypeID, n)
	return value.NewPtr(w, 0)
}

func u256FromInt(_ context.Context, r *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 1 {
		return nil, errors.Errorf("math.u256_from_int: expects 1 argument, got %d", len(args))
	}
	i, ok := args[0].AsInt()
	if !ok {
		return nil, errors.New("math.u256_from_int: argument must be an int")
	}
	return []value.Value{wrapU256(r, uint256.NewInt(uint64(i)))}, nil
}

func u256Binop(r *Registry, args []value.Value, op func(z, a, b *uint256.Int) *uint256.Int) ([]value.Value, error) {
	if len(args) != 2 {
		return nil, errors.Errorf("math: u256 binary op expects 2 arguments, got %d", len(args))
	}
	a, err := u256Arg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := u256Arg(args[1])
	if err != nil {
		return nil, err
	}
	return []value.Value{wrapU256(r, op(new(uint256.Int), a, b))}, nil
}

func u256Add(_ context.Context, r *Registry, args []value.Value) ([]value.Value, error) {
	return u256Binop(r, args, (*uint256.Int).Add)
}

func u256Sub(_ context.Context, r *Registry, args []value.Value) ([]value.Value, error) {
	return u256Binop(r, args, (*uint256.Int).Sub)
}

func u256Mul(_ context.Context, r *Registry, args []value.Value) ([]value.Value, error) {
	return u256Binop(r, args, (*uint256.Int).Mul)
}

func vectorNew(_ context.Context, r *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 1 {
		return nil, errors.Errorf("math.vector_new: expects 1 argument, got %d", len(args))
	}
	n, ok := args[0].AsInt()
	if !ok || n < 0 {
		return nil, errors.New("math.vector_new: argument must be a non-negative int")
	}
	w := r.hp.Alloc(u64VectorTypeID, &U64Vector{elems: make([]uint64, n)})
	return []value.Value{value.NewPtr(w, uint64(n))}, nil
}

// vectorLen reads the vector's length straight out of the Pointer's Aux
// word rather than dereferencing the wrapper, the same shortcut a real
// vtable-id consumer would take for any generic container.
func vectorLen(_ context.Context, _ *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 1 {
		return nil, errors.Errorf("math.vector_len: expects 1 argument, got %d", len(args))
	}
	_, aux := args[0].Ptr()
	return []value.Value{value.NewInt(int64(aux))}, nil
}

func vectorGet(_ context.Context, _ *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 2 {
		return nil, errors.Errorf("math.vector_get: expects 2 arguments, got %d", len(args))
	}
	vec, err := Copy[*U64Vector](args[0])
	if err != nil {
		return nil, err
	}
	idx, ok := args[1].AsInt()
	if !ok || idx < 0 || int(idx) >= len(vec.elems) {
		return nil, errors.Errorf("math.vector_get: index %d out of range [0,%d)", idx, len(vec.elems))
	}
	return []value.Value{value.NewInt(int64(vec.elems[idx]))}, nil
}

func vectorSetChecked(_ context.Context, r *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 3 {
		return nil, errors.Errorf("math.vector_set: expects 3 arguments, got %d", len(args))
	}
	vec, guard, err := IntoMutRef[*U64Vector](r.hp, args[0])
	if err != nil {
		return nil, err
	}
	defer guard.Release()
	return nil, vectorSetInto(vec, args[1], args[2])
}

func vectorSetUnchecked(_ context.Context, _ *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 3 {
		return nil, errors.Errorf("math.vector_set: expects 3 arguments, got %d", len(args))
	}
	vec, err := Copy[*U64Vector](args[0])
	if err != nil {
		return nil, err
	}
	return nil, vectorSetInto(vec, args[1], args[2])
}

func vectorSetInto(vec *U64Vector, idxV, valV value.Value) error {
	idx, ok := idxV.AsInt()
	if !ok || idx < 0 || int(idx) >= len(vec.elems) {
		return errors.Errorf("math.vector_set: index %d out of range [0,%d)", idx, len(vec.elems))
	}
	val, ok := valV.AsInt()
	if !ok {
		return errors.New("math.vector_set: value must be an int")
	}
	vec.elems[idx] = uint64(val)
	return nil
}

func vectorSum(_ context.Context, _ *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 1 {
		return nil, errors.Errorf("math.vector_sum: expects 1 argument, got %d", len(args))
	}
	vec, err := Copy[*U64Vector](args[0])
	if err != nil {
		return nil, err
	}
	var sum uint64
	for _, v := range vec.elems {
		sum += v
	}
	return []value.Value{value.NewInt(int64(sum))}, nil
}
