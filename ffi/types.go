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
	"encoding/binary"

	"github.com/google/uuid"
)

// typeIDFromName derives a stable heap.Wrapper TypeID for a native payload
// type from its name, the same role the teacher's contract ABI gives a
// 4-byte selector: two registries built independently from the same name
// agree on the same TypeID without a shared counter. uuid.NewSHA1 over a
// fixed namespace keeps the derivation deterministic across processes,
// unlike uuid.New (which draws from crypto/rand and would make every
// process's TypeIDs for the same native type disagree).
func typeIDFromName(name string) uint64 {
	id := uuid.NewSHA1(nativeTypeNamespace, []byte(name))
	return binary.BigEndian.Uint64(id[:8])
}

// nativeTypeNamespace roots every TypeID this package derives, so a name
// like "u64vector" can never collide with an unrelated host embedding
// package's own uuid.NewSHA1 namespace.
var nativeTypeNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("probevm-core/ffi"))

var (
	bytesTypeID     = typeIDFromName("bytes")
	addressTypeID   = typeIDFromName("address")
	u256TypeID      = typeIDFromName("u256")
	u64VectorTypeID = typeIDFromName("u64vector")
	agentMsgTypeID  = typeIDFromName("agent.message")
)

// U64Vector is the native payload behind math.vector_*: a growable
// container of uint64 exercising the generic-container aux word in
// value.Value (the vector's length travels in the Pointer's Aux field
// the same way a vtable id would for a richer container type).
type U64Vector struct {
	elems []uint64
}
