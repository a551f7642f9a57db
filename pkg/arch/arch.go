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

// Package arch declares the architecture capability surface the kernel core
// depends on but does not implement.
//
// The core touches hardware only through an Arch value: interrupt masking,
// the per-CPU register, the spin hint, and page-table mapping. Ports
// implement Arch for real hardware; pkg/arch/hosted implements it on a host
// OS for development and tests.
package arch

import (
	"errors"

	"github.com/cascadeos/cascade/pkg/memory"
)

// MapType selects the memory type and protection of a mapping.
type MapType int

const (
	// MapKernelRead maps read-only kernel data.
	MapKernelRead MapType = iota

	// MapKernelReadWrite maps writable kernel data.
	MapKernelReadWrite

	// MapKernelReadWriteNoCache maps writable uncached memory for MMIO.
	MapKernelReadWriteNoCache

	// MapKernelExecute maps kernel text.
	MapKernelExecute
)

// String implements fmt.Stringer.String.
func (t MapType) String() string {
	switch t {
	case MapKernelRead:
		return "kernel_read"
	case MapKernelReadWrite:
		return "kernel_read_write"
	case MapKernelReadWriteNoCache:
		return "kernel_read_write_no_cache"
	case MapKernelExecute:
		return "kernel_execute"
	default:
		return "unknown"
	}
}

// Map failures surfaced by MapRange and MapRangeAllPageSizes.
var (
	// ErrAlreadyMapped indicates a page in the requested virtual range is
	// already mapped.
	ErrAlreadyMapped = errors.New("already mapped")

	// ErrPhysicalMemoryExhausted indicates the mapping could not allocate a
	// page-table page.
	ErrPhysicalMemoryExhausted = errors.New("physical memory exhausted")

	// ErrMappingNotValid indicates the requested mapping would require a
	// translation level beneath an existing huge mapping.
	ErrMappingNotValid = errors.New("mapping not valid")
)

// PageTable is an opaque per-architecture translation-table handle.
type PageTable interface {
	// IsLoaded reports whether any CPU currently has this table loaded.
	IsLoaded() bool
}

// Arch is the capability surface of one architecture port.
//
// MapRange and MapRangeAllPageSizes do not flush TLBs. On failure they are
// permitted to leave partial state; callers either restart initialization
// or destroy the page table.
type Arch interface {
	// StandardPageSize returns the base translation granule in bytes.
	StandardPageSize() uintptr

	// LargePageSizes returns the optional larger page sizes, ascending.
	LargePageSizes() []uintptr

	// DisableInterrupts masks interrupts on the calling CPU.
	DisableInterrupts()

	// EnableInterrupts unmasks interrupts on the calling CPU.
	EnableInterrupts()

	// InterruptsEnabled reports the calling CPU's interrupt mask state.
	InterruptsEnabled() bool

	// DisableAndHalt masks interrupts and halts the calling CPU. It does
	// not return.
	DisableAndHalt()

	// CurrentCPU returns the calling CPU.
	//
	// Preconditions: interrupts are disabled, or the caller otherwise
	// guarantees it cannot migrate between CPUs.
	CurrentCPU() *CPU

	// SpinLoopHint hints to the CPU that the caller is in a spin loop.
	SpinLoopHint()

	// NewPageTable allocates an empty translation table.
	NewPageTable() (PageTable, error)

	// LoadPageTable makes pt the calling CPU's active translation table.
	LoadPageTable(pt PageTable)

	// MapRange maps vr to pr in pt with the given type, using only the
	// standard page size.
	//
	// Preconditions: vr.Size == pr.Size; both ranges are aligned to the
	// standard page size.
	MapRange(pt PageTable, vr memory.VirtualRange, pr memory.PhysicalRange, mt MapType) error

	// MapRangeAllPageSizes is MapRange but opportunistically uses larger
	// page sizes. Intended for init-time bulk mappings; failure during
	// init is fatal by design.
	MapRangeAllPageSizes(pt PageTable, vr memory.VirtualRange, pr memory.PhysicalRange, mt MapType) error

	// UnmapRange removes the standard-size mappings covering vr from pt.
	// It does not flush TLBs.
	UnmapRange(pt PageTable, vr memory.VirtualRange)
}
