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

package typeck

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
)

// defaultPoolSize bounds the number of distinct structural hashes the pool
// remembers. A long-lived host process that repeatedly loads and unloads
// programs would otherwise grow this cache forever from transient
// closure/FFI signature churn.
const defaultPoolSize = 4096

// Pool interns TypeCkInfo nodes. Lookup is two-level: an xxhash of the
// node's structure picks a bucket in a bounded LRU cache, and a linear
// Equals scan within that bucket resolves hash collisions (two distinct
// structural types are vanishingly unlikely but not impossible to collide
// on a 64-bit hash, and treating a collision as "equal" would corrupt the
// pointer-equality guarantee).
type Pool struct {
	mu     sync.Mutex
	cache  *lru.Cache // structural hash -> []*TypeCkInfo bucket
}

// NewPool returns an empty Pool with room for up to size distinct
// structural hashes (defaultPoolSize if size <= 0).
func NewPool(size int) *Pool {
	if size <= 0 {
		size = defaultPoolSize
	}
	c, err := lru.New(size)
	if err != nil {
		// lru.New only fails for size <= 0, already excluded above.
		panic(err)
	}
	return &Pool{cache: c}
}

// Intern returns the canonical pointer for a TypeCkInfo structurally equal
// to t, adding t itself (after interning its children) to the pool if no
// such pointer exists yet.
func (p *Pool) Intern(t *TypeCkInfo) *TypeCkInfo {
	if t == nil {
		return nil
	}
	// Intern children first so Params/Results already point at canonical
	// nodes, keeping structural hashing and Equals cheap for every parent
	// built afterward.
	for i, c := range t.Params {
		t.Params[i] = p.Intern(c)
	}
	for i, c := range t.Results {
		t.Results[i] = p.Intern(c)
	}

	h := structuralHash(t)

	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.cache.Get(h); ok {
		bucket := v.([]*TypeCkInfo)
		for _, existing := range bucket {
			if existing.Equals(t) {
				return existing
			}
		}
		p.cache.Add(h, append(bucket, t))
		return t
	}
	p.cache.Add(h, []*TypeCkInfo{t})
	return t
}

func structuralHash(t *TypeCkInfo) uint64 {
	d := xxhash.New()
	writeHash(d, t)
	return d.Sum64()
}

func writeHash(d *xxhash.Digest, t *TypeCkInfo) {
	var buf [9]byte
	buf[0] = byte(t.Kind)
	binary.LittleEndian.PutUint64(buf[1:], t.TypeID)
	d.Write(buf[:])
	for _, c := range t.Params {
		writeHash(d, c)
	}
	// separator so Params/Results of different lengths can't hash-collide
	// by having one list's tail read as the other's head.
	d.Write([]byte{0xff})
	for _, c := range t.Results {
		writeHash(d, c)
	}
}
