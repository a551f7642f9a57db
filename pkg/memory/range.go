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

// PhysicalRange is the half-open physical range [Address, Address+Size).
//
// Invariants: Size > 0.
type PhysicalRange struct {
	Address PhysicalAddress
	Size    uintptr
}

// End returns the first address past the range.
func (r PhysicalRange) End() PhysicalAddress {
	return r.Address.Add(r.Size)
}

// Contains returns true if p lies within r.
func (r PhysicalRange) Contains(p PhysicalAddress) bool {
	return p >= r.Address && p < r.End()
}

// Overlaps returns true if r and other share any address.
func (r PhysicalRange) Overlaps(other PhysicalRange) bool {
	return r.Address < other.End() && other.Address < r.End()
}

// String implements fmt.Stringer.String.
func (r PhysicalRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uintptr(r.Address), uintptr(r.End()))
}

// VirtualRange is the half-open virtual range [Address, Address+Size).
//
// Invariants: Size > 0.
type VirtualRange struct {
	Address VirtualAddress
	Size    uintptr
}

// End returns the first address past the range.
func (r VirtualRange) End() VirtualAddress {
	return r.Address.Add(r.Size)
}

// Contains returns true if v lies within r.
func (r VirtualRange) Contains(v VirtualAddress) bool {
	return v >= r.Address && v < r.End()
}

// Overlaps returns true if r and other share any address.
func (r VirtualRange) Overlaps(other VirtualRange) bool {
	return r.Address < other.End() && other.Address < r.End()
}

// String implements fmt.Stringer.String.
func (r VirtualRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uintptr(r.Address), uintptr(r.End()))
}
