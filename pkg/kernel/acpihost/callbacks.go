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

package acpihost

import (
	"time"
	"unsafe"

	"github.com/cascadeos/cascade/pkg/memory"
)

// Callbacks is the fixed host contract handed to the interpreter: plain
// function values with opaque context, no kernel types beyond addresses.
type Callbacks struct {
	Map   func(phys memory.PhysicalAddress, length uintptr) memory.VirtualAddress
	Unmap func(virt memory.VirtualAddress, length uintptr)

	PCIRead  func(addr PCIAddress, offset uint16, width uint8) (uint64, error)
	PCIWrite func(addr PCIAddress, offset uint16, width uint8, value uint64) error

	IORead  func(port uint16, width uint8) (uint64, error)
	IOWrite func(port uint16, width uint8, value uint64) error

	CreateMutex  func() uint64
	AcquireMutex func(handle uint64, timeout time.Duration) error
	ReleaseMutex func(handle uint64)

	CreateSpinlock func() uint64
	LockSpinlock   func(handle uint64)
	UnlockSpinlock func(handle uint64)

	InstallInterruptHandler   func(fn func(ctx unsafe.Pointer), ctx unsafe.Pointer) (uint8, error)
	UninstallInterruptHandler func(vector uint8)

	NanosecondsSinceBoot func() uint64
}

// Callbacks returns the callback table over this host.
func (h *Host) Callbacks() Callbacks {
	return Callbacks{
		Map:   h.Map,
		Unmap: h.Unmap,

		PCIRead:  h.PCIRead,
		PCIWrite: h.PCIWrite,

		IORead:  h.IORead,
		IOWrite: h.IOWrite,

		CreateMutex:  h.CreateMutex,
		AcquireMutex: h.AcquireMutex,
		ReleaseMutex: h.ReleaseMutex,

		CreateSpinlock: h.CreateSpinlock,
		LockSpinlock:   h.LockSpinlock,
		UnlockSpinlock: h.UnlockSpinlock,

		InstallInterruptHandler:   h.InstallInterruptHandler,
		UninstallInterruptHandler: h.UninstallInterruptHandler,

		NanosecondsSinceBoot: h.NanosecondsSinceBoot,
	}
}
