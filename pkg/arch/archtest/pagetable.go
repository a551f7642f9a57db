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

package archtest

import (
	"sync"
	"unsafe"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/memory"
)

func unsafeBase(mem []uint64) unsafe.Pointer {
	return unsafe.Pointer(&mem[0])
}

type pageTable struct {
	mu      sync.Mutex
	entries map[memory.VirtualAddress]memory.PhysicalAddress
	loaded  bool
}

// IsLoaded implements arch.PageTable.IsLoaded.
func (pt *pageTable) IsLoaded() bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.loaded
}

// NewPageTable implements arch.Arch.NewPageTable.
func (a *Arch) NewPageTable() (arch.PageTable, error) {
	return &pageTable{entries: make(map[memory.VirtualAddress]memory.PhysicalAddress)}, nil
}

// LoadPageTable implements arch.Arch.LoadPageTable.
func (a *Arch) LoadPageTable(pt arch.PageTable) {
	t := pt.(*pageTable)
	t.mu.Lock()
	t.loaded = true
	t.mu.Unlock()
}

// MapRange implements arch.Arch.MapRange.
func (a *Arch) MapRange(t arch.PageTable, vr memory.VirtualRange, pr memory.PhysicalRange, mt arch.MapType) error {
	pt := t.(*pageTable)
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for off := uintptr(0); off < vr.Size; off += pageSize {
		va := vr.Address.Add(off)
		if _, ok := pt.entries[va]; ok {
			return arch.ErrAlreadyMapped
		}
		pt.entries[va] = pr.Address.Add(off)
	}
	return nil
}

// MapRangeAllPageSizes implements arch.Arch.MapRangeAllPageSizes. The test
// architecture has no large pages.
func (a *Arch) MapRangeAllPageSizes(t arch.PageTable, vr memory.VirtualRange, pr memory.PhysicalRange, mt arch.MapType) error {
	return a.MapRange(t, vr, pr, mt)
}

// UnmapRange implements arch.Arch.UnmapRange.
func (a *Arch) UnmapRange(t arch.PageTable, vr memory.VirtualRange) {
	pt := t.(*pageTable)
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for off := uintptr(0); off < vr.Size; off += pageSize {
		delete(pt.entries, vr.Address.Add(off))
	}
}

// Mapped returns the number of live entries in the table, for assertions.
func (a *Arch) Mapped(t arch.PageTable) int {
	pt := t.(*pageTable)
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return len(pt.entries)
}
