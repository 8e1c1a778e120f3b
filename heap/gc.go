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

package heap

import mapset "github.com/deckarep/golang-set"

// Tracer lets a payload report the Wrappers it references, so the GC can
// walk the object graph below the stack roots (e.g. an array-of-references
// host container, or a closure's captured upvalues).
type Tracer interface {
	TraceRefs() []*Wrapper
}

// GC runs one mark-sweep cycle over h, starting from roots (typically every
// Wrapper directly reachable from a live Value on the stack or in a
// register). Unreached Wrappers are unlinked from h and returned so the
// caller can finalize or reuse their Payload.
//
// The mark set is backed by deckarep/golang-set rather than a bare Go map:
// during a trace the same Wrapper is frequently re-offered by multiple
// referrers (diamond-shaped object graphs are common once closures and
// containers are involved), and the set's Add is the natural "already
// visited" check without a second, parallel map of bools.
func (h *Heap) GC(roots []*Wrapper) []*Wrapper {
	marked := mapset.NewThreadUnsafeSet()
	var walk func(w *Wrapper)
	walk = func(w *Wrapper) {
		if w == nil || marked.Contains(w) {
			return
		}
		marked.Add(w)
		if t, ok := w.Payload.(Tracer); ok {
			for _, ref := range t.TraceRefs() {
				walk(ref)
			}
		}
	}
	for _, r := range roots {
		walk(r)
	}

	var collected []*Wrapper
	for w := h.head; w != nil; {
		next := w.next
		if !marked.Contains(w) {
			h.unlink(w)
			collected = append(collected, w)
		}
		w = next
	}
	return collected
}
