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

// Package kheap provides the kernel heap: an arena of 16-byte grain whose
// source allocates kernel virtual space and backs it with freshly
// allocated, freshly mapped physical pages. Releasing reverses both.
package kheap

import (
	"fmt"
	"sync"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/kernel/pmm"
	"github.com/cascadeos/cascade/pkg/kernel/vmem"
	"github.com/cascadeos/cascade/pkg/log"
	"github.com/cascadeos/cascade/pkg/memory"
)

var heapLog = log.Component("kheap")

// allocationQuantum is the heap's grain; allocations are rounded up to it.
const allocationQuantum = 16

// Heap is the kernel heap façade.
type Heap struct {
	a   arch.Arch
	pmm *pmm.Allocator
	pt  arch.PageTable

	// addressSpace hands out page-granular kernel virtual ranges.
	addressSpace *vmem.Arena

	// heap hands out byte buffers, importing mapped ranges from
	// addressSpace on demand.
	heap *vmem.Arena

	// backingMu protects backing.
	backingMu sync.Mutex

	// backing records the physical pages mapped under each imported span,
	// keyed by span base, so release can return them.
	backing map[uintptr][]memory.PhysicalRange
}

// New builds the heap over the given kernel virtual range, mapping backing
// pages into pt.
func New(a arch.Arch, p *pmm.Allocator, pt arch.PageTable, r memory.VirtualRange, tags *vmem.TagPool) (*Heap, error) {
	h := &Heap{
		a:       a,
		pmm:     p,
		pt:      pt,
		backing: make(map[uintptr][]memory.PhysicalRange),
	}

	addressSpace, err := vmem.New("heap_address_space", a.StandardPageSize(), vmem.Options{Tags: tags})
	if err != nil {
		return nil, err
	}
	if err := addressSpace.AddSpan(uintptr(r.Address), r.Size); err != nil {
		return nil, fmt.Errorf("heap address space %s: %w", r, err)
	}
	h.addressSpace = addressSpace

	heap, err := vmem.New("heap", allocationQuantum, vmem.Options{
		Tags: tags,
		Source: &vmem.Source{
			Import:  h.importSpan,
			Release: h.releaseSpan,
		},
	})
	if err != nil {
		return nil, err
	}
	h.heap = heap
	heapLog.Debugf("heap over %s", r)
	return h, nil
}

// Allocate returns a heap buffer of at least size bytes.
func (h *Heap) Allocate(size uintptr) (memory.VirtualRange, error) {
	alloc, err := h.heap.Allocate(size, vmem.BestFit)
	if err != nil {
		return memory.VirtualRange{}, err
	}
	return memory.VirtualRange{Address: memory.VirtualAddress(alloc.Base), Size: alloc.Len}, nil
}

// DeallocateBase returns the buffer at addr.
func (h *Heap) DeallocateBase(addr memory.VirtualAddress) {
	h.heap.DeallocateBase(uintptr(addr))
}

// importSpan grows the heap: a fresh virtual range, populated page by page
// from the PMM.
func (h *Heap) importSpan(length uintptr) (vmem.Allocation, error) {
	pageSize := h.a.StandardPageSize()
	need, ok := alignUp(length, pageSize)
	if !ok {
		return vmem.Allocation{}, vmem.ErrRequestedLengthUnavailable
	}

	span, err := h.addressSpace.Allocate(need, vmem.InstantFit)
	if err != nil {
		return vmem.Allocation{}, err
	}

	var pages []memory.PhysicalRange
	unwind := func() {
		for i, page := range pages {
			h.a.UnmapRange(h.pt, memory.VirtualRange{
				Address: memory.VirtualAddress(span.Base).Add(uintptr(i) * pageSize),
				Size:    pageSize,
			})
			h.pmm.DeallocatePage(page)
		}
		h.addressSpace.Deallocate(span)
	}
	for off := uintptr(0); off < span.Len; off += pageSize {
		page, err := h.pmm.AllocatePage()
		if err != nil {
			unwind()
			return vmem.Allocation{}, err
		}
		va := memory.VirtualRange{Address: memory.VirtualAddress(span.Base).Add(off), Size: pageSize}
		if err := h.a.MapRange(h.pt, va, page, arch.MapKernelReadWrite); err != nil {
			h.pmm.DeallocatePage(page)
			unwind()
			return vmem.Allocation{}, err
		}
		pages = append(pages, page)
	}

	h.backingMu.Lock()
	h.backing[span.Base] = pages
	h.backingMu.Unlock()
	return span, nil
}

// releaseSpan reverses importSpan.
func (h *Heap) releaseSpan(span vmem.Allocation) {
	h.backingMu.Lock()
	pages := h.backing[span.Base]
	delete(h.backing, span.Base)
	h.backingMu.Unlock()
	if pages == nil {
		panic(fmt.Sprintf("heap released unknown span %s", span))
	}

	h.a.UnmapRange(h.pt, memory.VirtualRange{Address: memory.VirtualAddress(span.Base), Size: span.Len})
	for _, page := range pages {
		h.pmm.DeallocatePage(page)
	}
	h.addressSpace.Deallocate(span)
}

func alignUp(v, align uintptr) (uintptr, bool) {
	sum, ok := memory.CheckedAdd(v, align-1)
	if !ok {
		return 0, false
	}
	return sum &^ (align - 1), true
}
