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
	"sync"
	"sync/atomic"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/memory"
)

// mapping is one recorded translation entry.
type mapping struct {
	phys     memory.PhysicalAddress
	pageSize uintptr
	mapType  arch.MapType
}

// pageTable records translations without performing them; the direct-map
// aliases are the machine's real mappings. Recording still enforces the
// architectural error surface.
type pageTable struct {
	mu      sync.Mutex
	entries map[memory.VirtualAddress]mapping
	loaded  atomic.Int32
}

// IsLoaded implements arch.PageTable.IsLoaded.
func (pt *pageTable) IsLoaded() bool {
	return pt.loaded.Load() > 0
}

// NewPageTable implements arch.Arch.NewPageTable.
func (m *Machine) NewPageTable() (arch.PageTable, error) {
	return &pageTable{entries: make(map[memory.VirtualAddress]mapping)}, nil
}

// LoadPageTable implements arch.Arch.LoadPageTable.
func (m *Machine) LoadPageTable(pt arch.PageTable) {
	pt.(*pageTable).loaded.Add(1)
}

// conflict reports the existing entry overlapping the page at va of the
// given size, if any.
func (pt *pageTable) conflict(va memory.VirtualAddress, pageSize uintptr) (mapping, bool) {
	for _, sz := range []uintptr{hugePageSize, largePageSize, standardPageSize} {
		if e, ok := pt.entries[va.AlignDown(sz)]; ok && e.pageSize == sz {
			return e, true
		}
		if sz <= pageSize {
			// A smaller entry inside the candidate large page also
			// conflicts.
			for off := uintptr(0); off < pageSize; off += sz {
				if e, ok := pt.entries[va.Add(off)]; ok && e.pageSize == sz {
					return e, true
				}
			}
		}
	}
	return mapping{}, false
}

func (pt *pageTable) mapPages(vr memory.VirtualRange, pr memory.PhysicalRange, mt arch.MapType, pageSize uintptr) error {
	for off := uintptr(0); off < vr.Size; off += pageSize {
		va := vr.Address.Add(off)
		if e, ok := pt.conflict(va, pageSize); ok {
			if e.pageSize > pageSize {
				return arch.ErrMappingNotValid
			}
			return arch.ErrAlreadyMapped
		}
		pt.entries[va] = mapping{phys: pr.Address.Add(off), pageSize: pageSize, mapType: mt}
	}
	return nil
}

// MapRange implements arch.Arch.MapRange. Only the standard page size is
// used; no TLB maintenance is performed. On failure the table may retain
// partial state.
func (m *Machine) MapRange(t arch.PageTable, vr memory.VirtualRange, pr memory.PhysicalRange, mt arch.MapType) error {
	pt := t.(*pageTable)
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.mapPages(vr, pr, mt, standardPageSize)
}

// UnmapRange implements arch.Arch.UnmapRange.
func (m *Machine) UnmapRange(t arch.PageTable, vr memory.VirtualRange) {
	pt := t.(*pageTable)
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for off := uintptr(0); off < vr.Size; off += standardPageSize {
		delete(pt.entries, vr.Address.Add(off))
	}
}

// MapRangeAllPageSizes implements arch.Arch.MapRangeAllPageSizes,
// opportunistically using 2 MiB and 1 GiB entries where alignment allows.
func (m *Machine) MapRangeAllPageSizes(t arch.PageTable, vr memory.VirtualRange, pr memory.PhysicalRange, mt arch.MapType) error {
	pt := t.(*pageTable)
	pt.mu.Lock()
	defer pt.mu.Unlock()

	va, pa, remaining := vr.Address, pr.Address, vr.Size
	for remaining > 0 {
		size := uintptr(standardPageSize)
		for _, sz := range []uintptr{hugePageSize, largePageSize} {
			if va.IsAligned(sz) && pa.IsAligned(sz) && remaining >= sz {
				size = sz
				break
			}
		}
		if err := pt.mapPages(
			memory.VirtualRange{Address: va, Size: size},
			memory.PhysicalRange{Address: pa, Size: size},
			mt, size,
		); err != nil {
			return err
		}
		va = va.Add(size)
		pa = pa.Add(size)
		remaining -= size
	}
	return nil
}
