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

package memory

import "fmt"

// DirectMap describes a virtual window over all of physical memory: for
// every physical address p in [0, Size), p + VirtualBase is a mapped
// virtual address.
//
// The kernel carries two direct maps with identical layout, one cacheable
// and one with an uncached memory type for MMIO.
type DirectMap struct {
	VirtualBase VirtualAddress
	Size        uintptr
}

// VirtualFor translates a physical address through the direct map.
func (d DirectMap) VirtualFor(p PhysicalAddress) VirtualAddress {
	if uintptr(p) >= d.Size {
		panic(fmt.Sprintf("physical address %s outside direct map of size %#x", p, d.Size))
	}
	return d.VirtualBase.Add(uintptr(p))
}

// PhysicalFor translates a direct-mapped virtual address back to its
// physical address.
func (d DirectMap) PhysicalFor(v VirtualAddress) PhysicalAddress {
	if v < d.VirtualBase || uintptr(v-d.VirtualBase) >= d.Size {
		panic(fmt.Sprintf("virtual address %s outside direct map", v))
	}
	return PhysicalAddress(v - d.VirtualBase)
}

// VirtualRangeFor translates a physical range through the direct map.
func (d DirectMap) VirtualRangeFor(r PhysicalRange) VirtualRange {
	return VirtualRange{Address: d.VirtualFor(r.Address), Size: r.Size}
}

// ContainsVirtual returns true if v lies within the direct-map window.
func (d DirectMap) ContainsVirtual(v VirtualAddress) bool {
	return v >= d.VirtualBase && uintptr(v-d.VirtualBase) < d.Size
}
