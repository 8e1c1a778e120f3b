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

	"github.com/probechain/probevm-core/value"
)

// NativeRegistry dispatches CALLFFI/CALLFFI_NOALIAS to a host function by
// name. The vm package depends only on this interface, never on package
// ffi directly, so ffi is free to depend on vm (for Exception and Closure)
// without creating an import cycle.
type NativeRegistry interface {
	Call(ctx context.Context, name string, args []value.Value, checked bool) ([]value.Value, error)
}
