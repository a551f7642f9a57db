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

import "testing"

func TestAlignment(t *testing.T) {
	tests := map[string]struct {
		addr      uintptr
		alignment uintptr
		down      uintptr
		up        uintptr
		aligned   bool
	}{
		"already_aligned": {0x2000, 0x1000, 0x2000, 0x2000, true},
		"round_up":        {0x2001, 0x1000, 0x2000, 0x3000, false},
		"round_down":      {0x2fff, 0x1000, 0x2000, 0x3000, false},
		"zero":            {0x0, 0x1000, 0x0, 0x0, true},
		"small_grain":     {0x15, 0x10, 0x10, 0x20, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			p := PhysicalAddress(tc.addr)
			if got := p.AlignDown(tc.alignment); got != PhysicalAddress(tc.down) {
				t.Errorf("AlignDown(%#x, %#x) = %#x, want %#x", tc.addr, tc.alignment, uintptr(got), tc.down)
			}
			if got := p.AlignUp(tc.alignment); got != PhysicalAddress(tc.up) {
				t.Errorf("AlignUp(%#x, %#x) = %#x, want %#x", tc.addr, tc.alignment, uintptr(got), tc.up)
			}
			if got := p.IsAligned(tc.alignment); got != tc.aligned {
				t.Errorf("IsAligned(%#x, %#x) = %v, want %v", tc.addr, tc.alignment, got, tc.aligned)
			}
			v := VirtualAddress(tc.addr)
			if got := v.AlignUp(tc.alignment); got != VirtualAddress(tc.up) {
				t.Errorf("VirtualAddress.AlignUp(%#x, %#x) = %#x, want %#x", tc.addr, tc.alignment, uintptr(got), tc.up)
			}
		})
	}
}

func TestRangeOverlaps(t *testing.T) {
	tests := map[string]struct {
		a, b    PhysicalRange
		overlap bool
	}{
		"disjoint":   {PhysicalRange{0x0, 0x1000}, PhysicalRange{0x2000, 0x1000}, false},
		"adjacent":   {PhysicalRange{0x0, 0x1000}, PhysicalRange{0x1000, 0x1000}, false},
		"identical":  {PhysicalRange{0x1000, 0x1000}, PhysicalRange{0x1000, 0x1000}, true},
		"contained":  {PhysicalRange{0x0, 0x4000}, PhysicalRange{0x1000, 0x1000}, true},
		"straddling": {PhysicalRange{0x0, 0x1800}, PhysicalRange{0x1000, 0x1000}, true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := tc.a.Overlaps(tc.b); got != tc.overlap {
				t.Errorf("%s.Overlaps(%s) = %v, want %v", tc.a, tc.b, got, tc.overlap)
			}
			if got := tc.b.Overlaps(tc.a); got != tc.overlap {
				t.Errorf("%s.Overlaps(%s) = %v, want %v", tc.b, tc.a, got, tc.overlap)
			}
		})
	}
}

func TestDirectMapTranslation(t *testing.T) {
	dm := DirectMap{VirtualBase: 0xffff_8000_0000_0000, Size: 1 << 30}

	p := PhysicalAddress(0x1234_000)
	v := dm.VirtualFor(p)
	if want := VirtualAddress(0xffff_8000_0123_4000); v != want {
		t.Errorf("VirtualFor(%s) = %s, want %s", p, v, want)
	}
	if got := dm.PhysicalFor(v); got != p {
		t.Errorf("PhysicalFor(%s) = %s, want %s", v, got, p)
	}
	if !dm.ContainsVirtual(v) {
		t.Errorf("ContainsVirtual(%s) = false, want true", v)
	}
	if dm.ContainsVirtual(dm.VirtualBase.Add(1 << 30)) {
		t.Error("ContainsVirtual(end) = true, want false")
	}
}

func TestDirectMapOutOfBoundsPanics(t *testing.T) {
	dm := DirectMap{VirtualBase: 0x1000_0000, Size: 0x1000}
	defer func() {
		if recover() == nil {
			t.Error("VirtualFor outside the direct map did not panic")
		}
	}()
	dm.VirtualFor(PhysicalAddress(0x1000))
}

func TestCheckedAdd(t *testing.T) {
	if _, ok := CheckedAdd(^uintptr(0)-0xff, 0x100); ok {
		t.Error("CheckedAdd at the top of the address space reported no wrap")
	}
	if sum, ok := CheckedAdd(0x1000, 0x1000); !ok || sum != 0x2000 {
		t.Errorf("CheckedAdd(0x1000, 0x1000) = %#x, %v", sum, ok)
	}
}
