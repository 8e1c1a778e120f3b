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

// HostContext is the block/caller/balance context chain.* host functions
// read from; the embedding process constructs one per call (or per block)
// and hands it to NewRegistry.
type HostContext struct {
	BlockNumber uint64
	BlockTime   uint64
	Caller      [20]byte

	balances map[[20]byte]*uint256.Int
}

// NewHostContext returns a HostContext with an empty balance table.
func NewHostContext(blockNumber, blockTime uint64, caller [20]byte) *HostContext {
	return &HostContext{BlockNumber: blockNumber, BlockTime: blockTime, Caller: caller, balances: make(map[[20]byte]*uint256.Int)}
}

// SetBalance records addr's balance for chain.balance to read back.
func (h *HostContext) SetBalance(addr [20]byte, bal *uint256.Int) {
	h.balances[addr] = bal
}

func (h *HostContext) balanceOf(addr [20]byte) *uint256.Int {
	if b, ok := h.balances[addr]; ok {
		return b
	}
	return uint256.NewInt(0)
}

// registerChain wires chain.* host functions, the accessors a contract
// reads instead of taking them as ordinary arguments (so two calls in the
// same block observe the same values without the caller having to thread
// them through every function signature).
func registerChain(r *Registry) {
	r.Register("chain.block_number", HostFunc{
		Signature: tFunc(nil, []*typeck.TypeCkInfo{tInt()}),
		Checked:   chainBlockNumber,
	})
	r.Register("chain.block_time", HostFunc{
		Signature: tFunc(nil, []*typeck.TypeCkInfo{tInt()}),
		Checked:   chainBlockTime,
	})
	r.Register("chain.caller", HostFunc{
		Signature: tFunc(nil, []*typeck.TypeCkInfo{tPtr(addressTypeID)}),
		Checked:   chainCaller,
	})
	r.Register("chain.balance", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tPtr(addressTypeID)}, []*typeck.TypeCkInfo{tPtr(u256TypeID)}),
		Checked:   chainBalance,
	})
}

func chainBlockNumber(_ context.Context, r *Registry, _ []value.Value) ([]value.Value, error) {
	return []value.Value{value.NewInt(int64(r.host.BlockNumber))}, nil
}

func chainBlockTime(_ context.Context, r *Registry, _ []value.Value) ([]value.Value, error) {
	return []value.Value{value.NewInt(int64(r.host.BlockTime))}, nil
}

func chainCaller(_ context.Context, r *Registry, _ []value.Value) ([]value.Value, error) {
	addr := append([]byte(nil), r.host.Caller[:]...)
	w := r.hp.AllocUntracked(addressTypeID, addr)
	return []value.Value{value.NewPtr(w, 0)}, nil
}

func chainBalance(_ context.Context, r *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 1 {
		return nil, errors.Errorf("chain.balance: expects 1 argument, got %d", len(args))
	}
	addrBytes, err := bytesArg(args[0])
	if err != nil {
		return nil, err
	}
	if len(addrBytes) != 20 {
		return nil, errors.Errorf("chain.balance: address must be 20 bytes, got %d", len(addrBytes))
	}
	var addr [20]byte
	copy(addr[:], addrBytes)
	return []value.Value{wrapU256(r, r.host.balanceOf(addr))}, nil
}
