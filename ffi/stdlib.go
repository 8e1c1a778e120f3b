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

// RegisterStandardLibrary populates r with every crypto.*, math.*,
// chain.*, and agent.* host function this module ships. A host embedding
// probevm-core for something narrower is free to build its own Registry
// and call only the register* functions it needs instead.
func RegisterStandardLibrary(r *Registry) {
	registerCrypto(r)
	registerMath(r)
	registerChain(r)
	registerAgent(r)
}
