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

package hosted

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/boot"
	"github.com/cascadeos/cascade/pkg/memory"
)

func newTestMachine(t *testing.T, cfg Config) *Machine {
	t.Helper()
	m, err := NewMachine(cfg)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// TestDirectMapAliases checks that the two direct-map windows really alias
// the same physical memory.
func TestDirectMapAliases(t *testing.T) {
	m := newTestMachine(t, Config{CPUs: 1, MemoryBytes: 1 << 20})

	dm, nc := m.DirectMap(), m.NonCachedDirectMap()
	if dm.VirtualBase == nc.VirtualBase {
		t.Fatal("cached and uncached windows share a base")
	}

	p := memory.PhysicalAddress(0x4000)
	*(*uint64)(dm.VirtualFor(p).Ptr()) = 0xdead_beef_cafe_f00d
	if got := *(*uint64)(nc.VirtualFor(p).Ptr()); got != 0xdead_beef_cafe_f00d {
		t.Errorf("uncached alias read %#x, want 0xdeadbeefcafef00d", got)
	}
}

func TestHandoffMemoryMap(t *testing.T) {
	m := newTestMachine(t, Config{
		CPUs:        2,
		MemoryBytes: 16 << 20,
		Reserved:    []ReservedRange{{Base: 0x80_0000, Size: 0x1_0000}},
	})
	h := m.Handoff()

	var covered uintptr
	prevEnd := memory.PhysicalAddress(0)
	for _, e := range h.MemoryMap {
		if e.Range.Address < prevEnd {
			t.Fatalf("memory map entries overlap at %s", e.Range)
		}
		prevEnd = e.Range.End()
		covered += e.Range.Size
	}
	if covered != 16<<20 {
		t.Errorf("memory map covers %#x bytes, want %#x", covered, 16<<20)
	}

	types := make(map[boot.MemoryMapEntryType]uintptr)
	for _, e := range h.MemoryMap {
		types[e.Type] += e.Range.Size
	}
	want := map[boot.MemoryMapEntryType]uintptr{
		boot.MemoryMapReserved:         0x1000 + 0x1_0000,
		boot.MemoryMapKernelAndModules: kernelImageSize,
		boot.MemoryMapUsable:           16<<20 - 0x1000 - 0x1_0000 - kernelImageSize,
	}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("memory map type totals mismatch (-want +got):\n%s", diff)
	}

	if h.BootstrapCPU() == nil || !h.BootstrapCPU().Bootstrap {
		t.Error("handoff has no bootstrap CPU")
	}
	if len(h.CPUs) != 2 {
		t.Errorf("cpu descriptors = %d, want 2", len(h.CPUs))
	}
}

func TestCPUBinding(t *testing.T) {
	m := newTestMachine(t, Config{CPUs: 2, MemoryBytes: 1 << 20})

	ids := make(chan arch.CPUID, 2)
	for i := 0; i < 2; i++ {
		id := arch.CPUID(i)
		m.RunOn(id, func() {
			ids <- m.CurrentCPU().ID
		})
	}
	if err := m.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	close(ids)
	seen := make(map[arch.CPUID]bool)
	for id := range ids {
		seen[id] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("CurrentCPU ids = %v, want {0, 1}", seen)
	}
}

func TestInterruptFlagIsPerCPU(t *testing.T) {
	m := newTestMachine(t, Config{CPUs: 2, MemoryBytes: 1 << 20})

	step := make(chan struct{})
	m.RunOn(0, func() {
		m.EnableInterrupts()
		step <- struct{}{}
		<-step
		if !m.InterruptsEnabled() {
			t.Error("cpu 0 interrupt flag changed by cpu 1")
		}
	})
	m.RunOn(1, func() {
		<-step
		m.DisableInterrupts()
		step <- struct{}{}
	})
	if err := m.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestMapRangeErrors(t *testing.T) {
	m := newTestMachine(t, Config{CPUs: 1, MemoryBytes: 1 << 20})
	pt, err := m.NewPageTable()
	if err != nil {
		t.Fatalf("NewPageTable: %v", err)
	}

	vr := memory.VirtualRange{Address: 0x4000_0000, Size: 0x2000}
	pr := memory.PhysicalRange{Address: 0x0, Size: 0x2000}
	if err := m.MapRange(pt, vr, pr, arch.MapKernelReadWrite); err != nil {
		t.Fatalf("MapRange: %v", err)
	}
	if err := m.MapRange(pt, vr, pr, arch.MapKernelReadWrite); err != arch.ErrAlreadyMapped {
		t.Errorf("remap = %v, want ErrAlreadyMapped", err)
	}

	// A huge mapping blocks standard-size mappings beneath it.
	huge := memory.VirtualRange{Address: 0x8000_0000, Size: largePageSize}
	if err := m.MapRangeAllPageSizes(pt, huge, memory.PhysicalRange{Address: 0, Size: largePageSize}, arch.MapKernelRead); err != nil {
		t.Fatalf("MapRangeAllPageSizes: %v", err)
	}
	inside := memory.VirtualRange{Address: 0x8000_1000, Size: 0x1000}
	if err := m.MapRange(pt, inside, memory.PhysicalRange{Address: 0, Size: 0x1000}, arch.MapKernelRead); err != arch.ErrMappingNotValid {
		t.Errorf("map beneath huge mapping = %v, want ErrMappingNotValid", err)
	}

	m.UnmapRange(pt, vr)
	if err := m.MapRange(pt, vr, pr, arch.MapKernelReadWrite); err != nil {
		t.Errorf("remap after unmap: %v", err)
	}

	if pt.IsLoaded() {
		t.Error("unloaded table reports loaded")
	}
	m.RunOn(0, func() { m.LoadPageTable(pt) })
	if err := m.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !pt.IsLoaded() {
		t.Error("loaded table reports unloaded")
	}
}
