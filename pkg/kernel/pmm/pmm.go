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

// Package pmm provides the physical page-frame allocator.
//
// The allocator is a single LIFO of standard-size frames protected by a
// ticket lock. Each free frame stores its list node at its own start,
// reached through the cacheable direct map, so the allocator depends on no
// other allocator. Higher-level structure (DMA pools, contiguous blocks) is
// built from resource arenas stacked on top.
package pmm

import (
	"errors"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/kernel/ticketlock"
	"github.com/cascadeos/cascade/pkg/log"
	"github.com/cascadeos/cascade/pkg/memory"
)

var (
	// ErrOutOfPhysicalMemory indicates the free list is empty.
	ErrOutOfPhysicalMemory = errors.New("out of physical memory")

	// ErrInvalidRange indicates a range whose base or size is not a
	// multiple of the standard page size.
	ErrInvalidRange = errors.New("invalid physical range")
)

var pmmLog = log.Component("pmm")

// pageNode is the intrusive free-list node written at the start of every
// free frame. next is the direct-map virtual address of the next free
// frame, or 0 at the tail.
type pageNode struct {
	next memory.VirtualAddress
}

// Allocator is the page-frame allocator.
type Allocator struct {
	a        arch.Arch
	dm       memory.DirectMap
	pageSize uintptr

	mu ticketlock.Lock

	// head is the direct-map virtual address of the most recently freed
	// frame, or 0 when empty.
	//
	// head and free are protected by mu.
	head memory.VirtualAddress
	free uint64
}

// New returns an empty allocator translating frames through dm.
func New(a arch.Arch, dm memory.DirectMap) *Allocator {
	p := &Allocator{
		a:        a,
		dm:       dm,
		pageSize: a.StandardPageSize(),
	}
	p.mu.Init(a)
	return p
}

// PageSize returns the frame size managed by the allocator.
func (p *Allocator) PageSize() uintptr {
	return p.pageSize
}

// DirectMap returns the direct map the allocator translates through.
func (p *Allocator) DirectMap() memory.DirectMap {
	return p.dm
}

// AddRange contributes a physical range to the free list.
//
// The range's base and size must both be multiples of the standard page
// size.
func (p *Allocator) AddRange(r memory.PhysicalRange) error {
	if !r.Address.IsAligned(p.pageSize) || r.Size%p.pageSize != 0 || r.Size == 0 {
		return ErrInvalidRange
	}
	vr := p.dm.VirtualRangeFor(r)

	held := p.mu.Acquire()
	for off := uintptr(0); off < vr.Size; off += p.pageSize {
		va := vr.Address.Add(off)
		node := (*pageNode)(va.Ptr())
		*node = pageNode{next: p.head}
		p.head = va
		p.free++
	}
	held.Release()

	pmmLog.Debugf("added %s (%d pages)", r, r.Size/p.pageSize)
	return nil
}

// AllocatePage pops one frame from the free list.
func (p *Allocator) AllocatePage() (memory.PhysicalRange, error) {
	held := p.mu.Acquire()
	va := p.head
	if va == 0 {
		held.Release()
		return memory.PhysicalRange{}, ErrOutOfPhysicalMemory
	}
	node := (*pageNode)(va.Ptr())
	p.head = node.next
	p.free--
	held.Release()

	return memory.PhysicalRange{Address: p.dm.PhysicalFor(va), Size: p.pageSize}, nil
}

// DeallocatePage pushes a frame back onto the free list.
//
// Preconditions: r was returned by AllocatePage, so r.Address is
// page-aligned and r.Size is exactly one standard page.
func (p *Allocator) DeallocatePage(r memory.PhysicalRange) {
	if !r.Address.IsAligned(p.pageSize) {
		panic("deallocated page " + r.String() + " is not page-aligned")
	}
	if r.Size != p.pageSize {
		panic("deallocated range " + r.String() + " is not a single page")
	}
	va := p.dm.VirtualFor(r.Address)
	node := (*pageNode)(va.Ptr())
	*node = pageNode{}

	held := p.mu.Acquire()
	node.next = p.head
	p.head = va
	p.free++
	held.Release()
}

// FreePages returns the current free-list length.
func (p *Allocator) FreePages() uint64 {
	held := p.mu.Acquire()
	n := p.free
	held.Release()
	return n
}
