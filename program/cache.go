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

package program

import (
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cespare/xxhash/v2"
)

// decodeCacheBytes bounds the in-memory size of the fastcache index of seen
// content hashes; the decoded programs themselves are kept in a plain map
// that is never evicted, so it does not bound them. A host repeatedly loading the same persisted image (e.g. re-running a
// test suite, or a long-lived process reloading a hot-patched script many
// times) pays the decode-and-verify cost once per distinct byte sequence.
const decodeCacheBytes = 16 * 1024 * 1024

// programCache maps a content hash of a program's serialized bytes to the
// already-decoded, already-verified *CompiledProgram. fastcache is used
// for its bounded memory footprint and its freedom from Go GC pressure
// (it allocates off-heap), which matters here because CompiledProgram
// pointers must stay valid for as long as the cache entry survives, and a
// generic map would otherwise require the same care by hand.
type programCache struct {
	mu      sync.Mutex
	hashes  *fastcache.Cache
	decoded map[uint64]*CompiledProgram
}

var decodeCache = newProgramCache()

func newProgramCache() *programCache {
	return &programCache{
		hashes:  fastcache.New(decodeCacheBytes),
		decoded: make(map[uint64]*CompiledProgram),
	}
}

func (c *programCache) lookup(data []byte) (*CompiledProgram, bool) {
	h := xxhash.Sum64(data)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.hashes.HasGet(nil, uint64Key(h)); ok {
		if p, ok := c.decoded[h]; ok {
			return p, true
		}
	}
	return nil, false
}

func (c *programCache) store(data []byte, p *CompiledProgram) {
	h := xxhash.Sum64(data)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes.Set(uint64Key(h), []byte{1})
	c.decoded[h] = p
}

func uint64Key(h uint64) []byte {
	key := make([]byte, 8)
	for i := 0; i < 8; i++ {
		key[i] = byte(h >> (8 * i))
	}
	return key
}
