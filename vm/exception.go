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
	"fmt"

	"github.com/probechain/probevm-core/heap"
	"github.com/probechain/probevm-core/value"
)

// ExcKind classifies a script-visible exception.
type ExcKind uint8

const (
	ExcInvalidBinaryOp ExcKind = iota
	ExcDivideByZero
	ExcOwnershipCheckFailure
	ExcInvalidType
	ExcUnexpectedValueKind
	ExcUserThrown
)

func (k ExcKind) String() string {
	switch k {
	case ExcInvalidBinaryOp:
		return "InvalidBinaryOp"
	case ExcDivideByZero:
		return "DivideByZero"
	case ExcOwnershipCheckFailure:
		return "OwnershipCheckFailure"
	case ExcInvalidType:
		return "InvalidType"
	case ExcUnexpectedValueKind:
		return "UnexpectedValueKind"
	case ExcUserThrown:
		return "UserThrown"
	default:
		return fmt.Sprintf("ExcKind(%d)", uint8(k))
	}
}

// Exception is the payload RAISE, a failed operation, or a failed FFI call
// propagates up the call chain looking for a CATCH. Payload carries the
// raised value.Value for ExcUserThrown; it is the zero Value otherwise (the
// executor synthesizes a heap-wrapped *Exception for CATCH to bind in that
// case, see valueFromFault).
type Exception struct {
	Kind    ExcKind
	Message string
	Payload value.Value
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// exceptionTypeID is the heap.Wrapper TypeID reserved for non-user
// exceptions bound into a CATCH register. It is a sentinel far outside the
// range an FFI host registry would hand out for its own payload types.
const exceptionTypeID = ^uint64(0)

// toException normalizes any error surfaced by value, heap, or ffi into an
// *Exception, preserving the taxonomy those packages already define rather
// than collapsing everything into one generic kind.
func toException(err error) *Exception {
	if exc, ok := err.(*Exception); ok {
		return exc
	}
	switch e := unwrap(err).(type) {
	case *value.BinaryOpError:
		return &Exception{Kind: ExcInvalidBinaryOp, Message: e.Error()}
	case *value.DivideByZeroError:
		return &Exception{Kind: ExcDivideByZero, Message: e.Error()}
	case *heap.OwnershipError:
		return &Exception{Kind: ExcOwnershipCheckFailure, Message: e.Error()}
	default:
		return &Exception{Kind: ExcInvalidType, Message: err.Error()}
	}
}

// unwrap walks github.com/pkg/errors-wrapped causes without importing that
// package's Cause helper directly, so toException also works on plain
// errors.Unwrap chains from the standard library.
func unwrap(err error) error {
	type causer interface{ Cause() error }
	type unwrapper interface{ Unwrap() error }
	for {
		if c, ok := err.(causer); ok {
			err = c.Cause()
			continue
		}
		if u, ok := err.(unwrapper); ok {
			if next := u.Unwrap(); next != nil {
				err = next
				continue
			}
		}
		return err
	}
}

func newUnexpectedKind(format string, args ...interface{}) *Exception {
	return &Exception{Kind: ExcUnexpectedValueKind, Message: fmt.Sprintf(format, args...)}
}
