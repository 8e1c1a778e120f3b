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

import "github.com/probechain/probevm-core/value"

// Closure is the heap payload created by MKCLOS: a function id plus the
// register values it captured at creation time. It is always reached
// through a heap.Wrapper, never copied directly, so RTLC's ownership rules
// apply to a closure the same way they apply to any other heap object.
type Closure struct {
	FuncID   uint32
	Upvalues []value.Value
}

// closureTypeID is the heap.Wrapper TypeID reserved for Closure payloads.
const closureTypeID = ^uint64(0) - 1
