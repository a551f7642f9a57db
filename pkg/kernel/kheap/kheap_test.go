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

package kheap

import (
	"testing"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/arch/archtest"
	"github.com/cascadeos/cascade/pkg/kernel/pmm"
	"github.com/cascadeos/cascade/pkg/kernel/vmem"
	"github.com/cascadeos/cascade/pkg/memory"
)

const heapBase = 0x7000_0000_0000

func newTestHeap(t *testing.T) (*Heap, *pmm.Allocator, *archtest.Arch, arch.PageTable) {
	t.Helper()
	ta := archtest.New(64 * 0x1000)
	p := pmm.New(ta, ta.DirectMap())
	if err := p.AddRange(ta.PhysicalMemory()); err != nil {
		t.Fatalf("AddRange: %v", err)
	}
	pt, err := ta.NewPageTable()
	if err != nil {
		t.Fatalf("NewPageTable: %v", err)
	}
	h, err := New(ta, p, pt, memory.VirtualRange{Address: heapBase, Size: 1 << 20}, vmem.NewTagPool(p))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h, p, ta, pt
}

func TestAllocateBacksAndMaps(t *testing.T) {
	h, p, ta, pt := newTestHeap(t)
	free := p.FreePages()

	buf, err := h.Allocate(100)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if buf.Size < 100 {
		t.Errorf("buffer size = %#x, want >= 100", buf.Size)
	}
	if !buf.Contains(buf.Address) || buf.Address < heapBase {
		t.Errorf("buffer %s outside the heap region", buf)
	}

	// One page imported, populated, and mapped.
	if got := p.FreePages(); got != free-1 {
		t.Errorf("free pages = %d, want %d", got, free-1)
	}
	if got := ta.Mapped(pt); got != 1 {
		t.Errorf("mapped pages = %d, want 1", got)
	}

	// A second small buffer fits in the same imported page.
	buf2, err := h.Allocate(64)
	if err != nil {
		t.Fatalf("second Allocate: %v", err)
	}
	if got := p.FreePages(); got != free-1 {
		t.Errorf("free pages after second allocate = %d, want %d", got, free-1)
	}

	h.DeallocateBase(buf.Address)
	h.DeallocateBase(buf2.Address)

	// The span coalesced whole: unmapped, pages returned.
	if got := p.FreePages(); got != free {
		t.Errorf("free pages after release = %d, want %d", got, free)
	}
	if got := ta.Mapped(pt); got != 0 {
		t.Errorf("mapped pages after release = %d, want 0", got)
	}
}

func TestLargeAllocation(t *testing.T) {
	h, p, _, _ := newTestHeap(t)
	free := p.FreePages()

	buf, err := h.Allocate(5 * 0x1000)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got := p.FreePages(); got != free-5 {
		t.Errorf("free pages = %d, want %d", got, free-5)
	}
	h.DeallocateBase(buf.Address)
	if got := p.FreePages(); got != free {
		t.Errorf("free pages after release = %d, want %d", got, free)
	}
}

func TestExhaustion(t *testing.T) {
	h, _, _, _ := newTestHeap(t)

	// More than physical memory can back.
	if _, err := h.Allocate(1 << 19); err == nil {
		t.Fatal("allocation beyond physical memory succeeded")
	}
}
