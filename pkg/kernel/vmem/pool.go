// Copyright 2026 The CascadeOS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vmem

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cascadeos/cascade/pkg/kernel/pmm"
)

// TagPool supplies boundary tags to arenas. It carries the kernel-wide
// unused-tag LIFO (lock-free) and the tag-page mutex that serializes
// PMM-backed replenishment.
//
// Tag pages are never returned to the PMM; once carved, a tag circulates
// between arenas and the pool for the life of the kernel.
type TagPool struct {
	pmm *pmm.Allocator

	// head is the lock-free LIFO of unused tags, linked through kindNext.
	// The top tag's direct-map virtual address occupies the low 48 bits; a
	// 16-bit sequence above it breaks CAS ABA when a popped tag is pushed
	// back while another pop holds a stale head.
	head atomic.Uint64

	// mu serializes tag-page creation across all arenas. Lock order:
	// arena mutex is dropped before mu; mu precedes the PMM spin lock.
	mu sync.Mutex
}

const (
	headAddrBits = 48
	headAddrMask = (uint64(1) << headAddrBits) - 1
)

// NewTagPool returns an empty pool drawing tag pages from p.
func NewTagPool(p *pmm.Allocator) *TagPool {
	return &TagPool{pmm: p}
}

func packHead(t *boundaryTag, seq uint64) uint64 {
	return uint64(uintptr(unsafe.Pointer(t)))&headAddrMask | seq<<headAddrBits
}

func unpackHead(v uint64) (*boundaryTag, uint64) {
	addr := uintptr(v & headAddrMask)
	if addr == 0 {
		return nil, v >> headAddrBits
	}
	return (*boundaryTag)(unsafe.Pointer(addr)), v >> headAddrBits
}

// pop removes and returns one tag, or nil when the pool is empty.
func (tp *TagPool) pop() *boundaryTag {
	for {
		old := tp.head.Load()
		top, seq := unpackHead(old)
		if top == nil {
			return nil
		}
		next := top.kindNext
		if tp.head.CompareAndSwap(old, packHead(next, seq+1)) {
			top.kindNext = nil
			return top
		}
	}
}

// push returns one tag to the pool.
func (tp *TagPool) push(t *boundaryTag) {
	for {
		old := tp.head.Load()
		top, seq := unpackHead(old)
		t.kindNext = top
		if tp.head.CompareAndSwap(old, packHead(t, seq+1)) {
			return
		}
	}
}

// carvePage allocates one physical page, carves it into boundary tags,
// keeps maxTagsPerOperation of them for the calling arena, and pushes the
// surplus onto the LIFO.
//
// Preconditions: tp.mu is held.
func (tp *TagPool) carvePage() ([maxTagsPerOperation]*boundaryTag, error) {
	var kept [maxTagsPerOperation]*boundaryTag

	page, err := tp.pmm.AllocatePage()
	if err != nil {
		return kept, ErrOutOfBoundaryTags
	}
	va := tp.pmm.DirectMap().VirtualFor(page.Address)
	count := int(tp.pmm.PageSize() / unsafe.Sizeof(boundaryTag{}))
	tags := unsafe.Slice((*boundaryTag)(va.Ptr()), count)
	for i := range tags {
		tags[i] = boundaryTag{}
	}
	for i := 0; i < maxTagsPerOperation; i++ {
		kept[i] = &tags[i]
	}
	for i := maxTagsPerOperation; i < count; i++ {
		tp.push(&tags[i])
	}
	return kept, nil
}

// defaultPool is the kernel-wide pool wired once during bring-up.
var defaultPool *TagPool

// Bootstrap installs the kernel-wide tag pool. It is called once per boot,
// before the first arena is created; a hosted machine that boots repeatedly
// in one process replaces the pool wholesale.
func Bootstrap(p *pmm.Allocator) {
	defaultPool = NewTagPool(p)
}

// DefaultPool returns the pool wired by Bootstrap, or nil before it runs.
func DefaultPool() *TagPool {
	return defaultPool
}
