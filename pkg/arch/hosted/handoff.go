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
	"sort"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/boot"
	"github.com/cascadeos/cascade/pkg/memory"
)

// The synthetic kernel image: the machine reports a kernel_and_modules
// region the way a real bootloader reports the loaded image, with the
// customary higher-half link address.
const (
	kernelImageBase        = 0x10_0000
	kernelImageSize        = 0x20_0000
	kernelImageVirtualBase = 0xffff_ffff_8000_0000
)

// Handoff builds the bootloader handoff for this machine.
func (m *Machine) Handoff() *boot.Handoff {
	entries := []boot.MemoryMapEntry{{
		Range: memory.PhysicalRange{Address: 0, Size: m.mem.size},
		Type:  boot.MemoryMapUsable,
	}}
	// The zero page is never handed out.
	entries = punch(entries, memory.PhysicalRange{Address: 0, Size: standardPageSize}, boot.MemoryMapReserved)
	if m.mem.size > kernelImageBase+kernelImageSize {
		entries = punch(entries, memory.PhysicalRange{Address: kernelImageBase, Size: kernelImageSize}, boot.MemoryMapKernelAndModules)
	}
	for _, r := range m.cfg.Reserved {
		entries = punch(entries, memory.PhysicalRange{Address: memory.PhysicalAddress(r.Base), Size: uintptr(r.Size)}, boot.MemoryMapReserved)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Range.Address < entries[j].Range.Address
	})

	h := &boot.Handoff{
		DirectMapOffset:          m.mem.cachedBase(),
		NonCachedDirectMapOffset: m.mem.uncachedBase(),
		DirectMapSize:            m.mem.size,
		KernelPhysicalBase:       kernelImageBase,
		KernelVirtualBase:        kernelImageVirtualBase,
		KernelSize:               kernelImageSize,
		MemoryMap:                entries,
	}
	for i := range m.cpus {
		id := arch.CPUID(i)
		desc := &boot.CPUDescriptor{
			ID:        uint32(i),
			Bootstrap: i == 0,
		}
		desc.Boot = func(entry func(*boot.CPUDescriptor)) {
			m.RunOn(id, func() { entry(desc) })
		}
		h.CPUs = append(h.CPUs, desc)
	}
	return h
}

// punch carves hole out of any overlapping entries, retyping the hole.
func punch(entries []boot.MemoryMapEntry, hole memory.PhysicalRange, t boot.MemoryMapEntryType) []boot.MemoryMapEntry {
	var out []boot.MemoryMapEntry
	for _, e := range entries {
		if !e.Range.Overlaps(hole) {
			out = append(out, e)
			continue
		}
		if e.Range.Address < hole.Address {
			out = append(out, boot.MemoryMapEntry{
				Range: memory.PhysicalRange{Address: e.Range.Address, Size: uintptr(hole.Address - e.Range.Address)},
				Type:  e.Type,
			})
		}
		if e.Range.End() > hole.End() {
			out = append(out, boot.MemoryMapEntry{
				Range: memory.PhysicalRange{Address: hole.End(), Size: uintptr(e.Range.End() - hole.End())},
				Type:  e.Type,
			})
		}
	}
	return append(out, boot.MemoryMapEntry{Range: hole, Type: t})
}
