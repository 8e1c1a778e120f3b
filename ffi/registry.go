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

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/probechain/probevm-core/heap"
	"github.com/probechain/probevm-core/typeck"
	"github.com/probechain/probevm-core/value"
	"github.com/probechain/probevm-core/vmconfig"
)

// HostThunk is one native function's implementation. It receives the
// Registry so it can reach the shared heap and host context, and returns
// its result Values the same way a CALL's RETURN would.
type HostThunk func(ctx context.Context, r *Registry, args []value.Value) ([]value.Value, error)

// HostFunc pairs a host function's structural Signature (declarative only:
// neither program.Load nor Call checks arguments against it) with its
// checked and unchecked thunks.
// Most host functions (hashing, arithmetic on Untracked payloads) behave
// identically either way and only set Checked, leaving Unchecked nil;
// functions that borrow a tracked payload (the vector container) set both,
// since only the checked path pays for the ownership guard.
type HostFunc struct {
	Signature *typeck.TypeCkInfo
	Checked   HostThunk
	Unchecked HostThunk
}

// Registry is the vm.NativeRegistry this package implements: a name ->
// HostFunc table, the heap its thunks allocate into, the host execution
// context (block/caller/balance) chain.* thunks read, and the per-group
// rate limiter call_rtlc is gated by.
//
// vm.CreateMainThread takes a NativeRegistry before it has anywhere to put
// one, so Registry's heap is bound after the fact via BindHeap rather than
// threaded through the constructor; every other field is ready to use
// immediately.
type Registry struct {
	hp      *heap.Heap
	host    *HostContext
	mailbox *Mailbox
	limiter *rate.Limiter
	bench   bool
	fns     map[string]HostFunc
}

// NewRegistry returns a Registry bound to host and an empty mailbox, with
// no functions registered yet; callers typically follow this with
// RegisterStandardLibrary.
func NewRegistry(host *HostContext) *Registry {
	return &Registry{
		host:    host,
		mailbox: newMailbox(),
		limiter: rate.NewLimiter(rate.Limit(500), 50),
		fns:     make(map[string]HostFunc),
	}
}

// BindHeap points the registry at the heap its thunks should allocate
// into. Call CreateMainThread first, then BindHeap(thread.Heap()), before
// running any program that calls into this registry.
func (r *Registry) BindHeap(hp *heap.Heap) { r.hp = hp }

// ApplyConfig mirrors vmconfig.Features.Bench onto the registry: with
// Bench set, call_rtlc skips the rate limiter so a throughput benchmark
// measures the executor and the ownership guards, not how quickly the
// limiter's bucket drains.
func (r *Registry) ApplyConfig(cfg vmconfig.Config) { r.bench = cfg.Features.Bench }

// Register adds one host function under name, overwriting any previous
// registration of the same name.
func (r *Registry) Register(name string, fn HostFunc) { r.fns[name] = fn }

// Signature returns the structural type a registered host function
// expects, for a loader that wants to check a program's FFIImport against
// the registry it will eventually run against before even starting the VM.
func (r *Registry) Signature(name string) (*typeck.TypeCkInfo, bool) {
	fn, ok := r.fns[name]
	if !ok {
		return nil, false
	}
	return fn.Signature, true
}

// Call implements vm.NativeRegistry. checked selects call_rtlc (rate
// limited, runs HostFunc.Checked) over call_unchecked (runs Unchecked if
// set, otherwise falls back to Checked): CALLFFI_NOALIAS asks for the
// latter, trading the ownership guard's cost for speed in code the
// compiler has already proven aliasing-safe.
func (r *Registry) Call(ctx context.Context, name string, args []value.Value, checked bool) ([]value.Value, error) {
	fn, ok := r.fns[name]
	if !ok {
		return nil, errors.Errorf("ffi: no native function registered for %q", name)
	}
	if checked {
		if !r.bench && !r.limiter.Allow() {
			return nil, errors.Errorf("ffi: call_rtlc rate limit exceeded for %q", name)
		}
		if fn.Checked == nil {
			return nil, errors.Errorf("ffi: %q has no checked thunk", name)
		}
		return fn.Checked(ctx, r, args)
	}
	if fn.Unchecked != nil {
		return fn.Unchecked(ctx, r, args)
	}
	if fn.Checked == nil {
		return nil, errors.Errorf("ffi: %q has no unchecked thunk", name)
	}
	return fn.Checked(ctx, r, args)
}

func tFunc(params, results []*typeck.TypeCkInfo) *typeck.TypeCkInfo {
	return &typeck.TypeCkInfo{Kind: typeck.TFunc, Params: params, Results: results}
}

func tInt() *typeck.TypeCkInfo   { return &typeck.TypeCkInfo{Kind: typeck.TInt} }
func tBool() *typeck.TypeCkInfo  { return &typeck.TypeCkInfo{Kind: typeck.TBool} }
func tPtr(typeID uint64) *typeck.TypeCkInfo {
	return &typeck.TypeCkInfo{Kind: typeck.TPtr, TypeID: typeID}
}
