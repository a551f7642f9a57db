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

// Package memory provides the address, range, and direct-map value types
// shared by the kernel's memory subsystems.
package memory

import (
	"fmt"
	"unsafe"
)

// PhysicalAddress is an address in the machine physical address space.
type PhysicalAddress uintptr

// VirtualAddress is an address in the kernel virtual address space.
type VirtualAddress uintptr

// AlignDown rounds p down to a multiple of alignment, which must be a power
// of two.
func (p PhysicalAddress) AlignDown(alignment uintptr) PhysicalAddress {
	return p &^ PhysicalAddress(alignment-1)
}

// AlignUp rounds p up to a multiple of alignment, which must be a power of
// two.
func (p PhysicalAddress) AlignUp(alignment uintptr) PhysicalAddress {
	return (p + PhysicalAddress(alignment) - 1) &^ PhysicalAddress(alignment-1)
}

// IsAligned returns true if p is a multiple of alignment.
func (p PhysicalAddress) IsAligned(alignment uintptr) bool {
	return p&PhysicalAddress(alignment-1) == 0
}

// Add returns p + offset.
func (p PhysicalAddress) Add(offset uintptr) PhysicalAddress {
	return p + PhysicalAddress(offset)
}

// String implements fmt.Stringer.String.
func (p PhysicalAddress) String() string {
	return fmt.Sprintf("PhysicalAddress(%#x)", uintptr(p))
}

// AlignDown rounds v down to a multiple of alignment, which must be a power
// of two.
func (v VirtualAddress) AlignDown(alignment uintptr) VirtualAddress {
	return v &^ VirtualAddress(alignment-1)
}

// AlignUp rounds v up to a multiple of alignment, which must be a power of
// two.
func (v VirtualAddress) AlignUp(alignment uintptr) VirtualAddress {
	return (v + VirtualAddress(alignment) - 1) &^ VirtualAddress(alignment-1)
}

// IsAligned returns true if v is a multiple of alignment.
func (v VirtualAddress) IsAligned(alignment uintptr) bool {
	return v&VirtualAddress(alignment-1) == 0
}

// Add returns v + offset.
func (v VirtualAddress) Add(offset uintptr) VirtualAddress {
	return v + VirtualAddress(offset)
}

// Ptr reinterprets v as a host pointer.
//
// Preconditions: v lies within a live direct-map alias. The referenced
// memory is not managed by the Go heap.
func (v VirtualAddress) Ptr() unsafe.Pointer {
	return unsafe.Pointer(uintptr(v)) //nolint:govet
}

// String implements fmt.Stringer.String.
func (v VirtualAddress) String() string {
	return fmt.Sprintf("VirtualAddress(%#x)", uintptr(v))
}

// CheckedAdd returns base + size and true, or false if the sum wrapped.
func CheckedAdd(base, size uintptr) (uintptr, bool) {
	sum := base + size
	return sum, sum >= base
}
