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

// Package boot carries the bootloader handoff consumed by the SMP
// sequencer, in the shape of a Limine-compatible protocol: the higher-half
// direct-map offset, the kernel image placement, the memory map, the CPU
// descriptor list, and the RSDP.
package boot

import (
	"github.com/cascadeos/cascade/pkg/memory"
)

// MemoryMapEntryType is the bootloader's classification of one memory-map
// entry.
type MemoryMapEntryType int

const (
	MemoryMapUsable MemoryMapEntryType = iota
	MemoryMapKernelAndModules
	MemoryMapFramebuffer
	MemoryMapReserved
	MemoryMapBadMemory
	MemoryMapACPINVS
	MemoryMapACPIReclaimable
	MemoryMapBootloaderReclaimable
)

// String implements fmt.Stringer.String.
func (t MemoryMapEntryType) String() string {
	switch t {
	case MemoryMapUsable:
		return "usable"
	case MemoryMapKernelAndModules:
		return "kernel_and_modules"
	case MemoryMapFramebuffer:
		return "framebuffer"
	case MemoryMapReserved:
		return "reserved"
	case MemoryMapBadMemory:
		return "bad_memory"
	case MemoryMapACPINVS:
		return "acpi_nvs"
	case MemoryMapACPIReclaimable:
		return "acpi_reclaimable"
	case MemoryMapBootloaderReclaimable:
		return "bootloader_reclaimable"
	default:
		return "unknown"
	}
}

// MemoryKind is the kernel's 4-valued projection of the bootloader types.
type MemoryKind int

const (
	// MemoryFree is RAM the PMM may hand out immediately.
	MemoryFree MemoryKind = iota

	// MemoryInUse is RAM holding the kernel image and modules.
	MemoryInUse

	// MemoryReservedOrUnusable must never be touched.
	MemoryReservedOrUnusable

	// MemoryReclaimable becomes free once its producer is done with it.
	MemoryReclaimable
)

// String implements fmt.Stringer.String.
func (k MemoryKind) String() string {
	switch k {
	case MemoryFree:
		return "free"
	case MemoryInUse:
		return "in_use"
	case MemoryReservedOrUnusable:
		return "reserved_or_unusable"
	case MemoryReclaimable:
		return "reclaimable"
	default:
		return "unknown"
	}
}

// Kind projects the bootloader type onto the kernel's classification.
func (t MemoryMapEntryType) Kind() MemoryKind {
	switch t {
	case MemoryMapUsable:
		return MemoryFree
	case MemoryMapKernelAndModules, MemoryMapFramebuffer:
		return MemoryInUse
	case MemoryMapACPIReclaimable, MemoryMapBootloaderReclaimable:
		return MemoryReclaimable
	default:
		return MemoryReservedOrUnusable
	}
}

// MemoryMapEntry is one bootloader memory-map record.
type MemoryMapEntry struct {
	Range memory.PhysicalRange
	Type  MemoryMapEntryType
}

// CPUDescriptor describes one logical CPU as reported by the bootloader.
// Boot starts the CPU at the given entry point; it is valid exactly once,
// on non-bootstrap descriptors.
type CPUDescriptor struct {
	ID        uint32
	Bootstrap bool
	Boot      func(entry func(*CPUDescriptor))

	// UserData is an opaque slot for the kernel; the started CPU reads it
	// back through its descriptor.
	UserData any
}

// Handoff is everything the core consumes from the bootloader.
type Handoff struct {
	// DirectMapOffset is the HHDM base: physical address p is mapped at
	// DirectMapOffset + p.
	DirectMapOffset memory.VirtualAddress

	// NonCachedDirectMapOffset is a second direct map with identical
	// layout but uncached memory type, for MMIO.
	NonCachedDirectMapOffset memory.VirtualAddress

	// DirectMapSize bounds both direct maps.
	DirectMapSize uintptr

	KernelPhysicalBase memory.PhysicalAddress
	KernelVirtualBase  memory.VirtualAddress
	KernelSize         uintptr

	MemoryMap []MemoryMapEntry
	CPUs      []*CPUDescriptor

	// RSDP is the physical address of the ACPI root pointer, or 0.
	RSDP memory.PhysicalAddress
}

// BootstrapCPU returns the bootstrap descriptor.
func (h *Handoff) BootstrapCPU() *CPUDescriptor {
	for _, d := range h.CPUs {
		if d.Bootstrap {
			return d
		}
	}
	return nil
}

// UsableRanges yields the memory-map ranges whose projected kind is
// MemoryFree.
func (h *Handoff) UsableRanges() []memory.PhysicalRange {
	var out []memory.PhysicalRange
	for _, e := range h.MemoryMap {
		if e.Type.Kind() == MemoryFree {
			out = append(out, e.Range)
		}
	}
	return out
}
