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

// Package archtest provides a minimal Arch for unit tests: every goroutine
// that touches it is lazily assigned its own CPU, and "physical memory" is
// an ordinary heap buffer exposed through a direct map. Integration-style
// tests that need real CPU topology use pkg/arch/hosted instead.
package archtest

import (
	"sync"

	"github.com/petermattis/goid"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/memory"
)

const pageSize = 0x1000

type cpuSlot struct {
	cpu               arch.CPU
	interruptsEnabled bool
}

// Arch is a process-local test architecture.
type Arch struct {
	mem []uint64

	mu     sync.Mutex
	cpus   map[int64]*cpuSlot
	nextID int32
}

// New returns a test architecture backed by size bytes of direct-mapped
// memory, rounded up to a page multiple.
func New(size uintptr) *Arch {
	pages := (size + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	return &Arch{
		// A word slice keeps the backing store pointer-aligned for the
		// structures tests thread through it.
		mem:  make([]uint64, pages*pageSize/8),
		cpus: make(map[int64]*cpuSlot),
	}
}

// DirectMap returns the direct map over the test memory. Physical address
// zero is the start of the buffer.
func (a *Arch) DirectMap() memory.DirectMap {
	return memory.DirectMap{
		VirtualBase: memory.VirtualAddress(uintptr(unsafeBase(a.mem))),
		Size:        uintptr(len(a.mem) * 8),
	}
}

// PhysicalMemory returns the full physical range of the test memory.
func (a *Arch) PhysicalMemory() memory.PhysicalRange {
	return memory.PhysicalRange{Address: 0, Size: uintptr(len(a.mem) * 8)}
}

func (a *Arch) slot() *cpuSlot {
	gid := goid.Get()
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.cpus[gid]
	if s == nil {
		s = &cpuSlot{cpu: arch.CPU{ID: arch.CPUID(a.nextID)}}
		a.nextID++
		a.cpus[gid] = s
	}
	return s
}

// StandardPageSize implements arch.Arch.StandardPageSize.
func (a *Arch) StandardPageSize() uintptr { return pageSize }

// LargePageSizes implements arch.Arch.LargePageSizes.
func (a *Arch) LargePageSizes() []uintptr { return nil }

// DisableInterrupts implements arch.Arch.DisableInterrupts.
func (a *Arch) DisableInterrupts() { a.slot().interruptsEnabled = false }

// EnableInterrupts implements arch.Arch.EnableInterrupts.
func (a *Arch) EnableInterrupts() { a.slot().interruptsEnabled = true }

// InterruptsEnabled implements arch.Arch.InterruptsEnabled.
func (a *Arch) InterruptsEnabled() bool { return a.slot().interruptsEnabled }

// DisableAndHalt implements arch.Arch.DisableAndHalt.
func (a *Arch) DisableAndHalt() {
	panic("halted")
}

// CurrentCPU implements arch.Arch.CurrentCPU.
func (a *Arch) CurrentCPU() *arch.CPU { return &a.slot().cpu }

// SpinLoopHint implements arch.Arch.SpinLoopHint.
func (a *Arch) SpinLoopHint() {}
