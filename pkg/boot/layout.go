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

package boot

import (
	"fmt"

	"github.com/google/btree"

	"github.com/cascadeos/cascade/pkg/memory"
)

// RegionKind classifies a virtual layout region.
type RegionKind int

const (
	// RegionDirectMap is the cacheable direct map window.
	RegionDirectMap RegionKind = iota

	// RegionNonCachedDirectMap is the uncached direct map window.
	RegionNonCachedDirectMap

	// RegionKernelImage is the kernel's own mapping.
	RegionKernelImage

	// RegionHeap is the virtual range backing the kernel heap arenas.
	RegionHeap

	// RegionStacks is the virtual range backing executor stacks.
	RegionStacks
)

// Region is one named virtual range of the kernel layout.
type Region struct {
	Name  string
	Kind  RegionKind
	Range memory.VirtualRange
}

// Layout is the overlap-checked registry of virtual regions built during
// stage 1.
type Layout struct {
	regions *btree.BTreeG[Region]
}

// NewLayout returns an empty layout.
func NewLayout() *Layout {
	return &Layout{
		regions: btree.NewG(2, func(a, b Region) bool {
			return a.Range.Address < b.Range.Address
		}),
	}
}

// Register adds a region, rejecting overlaps with existing regions.
func (l *Layout) Register(r Region) error {
	var conflict *Region
	l.regions.Ascend(func(existing Region) bool {
		if existing.Range.Overlaps(r.Range) {
			c := existing
			conflict = &c
			return false
		}
		return existing.Range.Address < r.Range.End()
	})
	if conflict != nil {
		return fmt.Errorf("region %q %s overlaps %q %s", r.Name, r.Range, conflict.Name, conflict.Range)
	}
	l.regions.ReplaceOrInsert(r)
	return nil
}

// Find returns the region containing the address.
func (l *Layout) Find(v memory.VirtualAddress) (Region, bool) {
	var found Region
	ok := false
	l.regions.Ascend(func(r Region) bool {
		if r.Range.Contains(v) {
			found, ok = r, true
			return false
		}
		return r.Range.Address <= v
	})
	return found, ok
}

// Regions returns the regions in ascending address order.
func (l *Layout) Regions() []Region {
	out := make([]Region, 0, l.regions.Len())
	l.regions.Ascend(func(r Region) bool {
		out = append(out, r)
		return true
	})
	return out
}
