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

// Package acpihost satisfies the callback surface of the embedded ACPI
// interpreter. The interpreter is foreign C-style code: it sees a table of
// plain function pointers with opaque context values, and every callback
// re-enters the kernel's safe abstractions through a narrow adapter —
// the uncached direct map for MMIO, the ticket lock for interrupt-context
// locking, a timed mutex for interpreter-level locking, and a vector arena
// for interrupt-handler installation.
package acpihost

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/kernel/ticketlock"
	"github.com/cascadeos/cascade/pkg/kernel/vmem"
	"github.com/cascadeos/cascade/pkg/log"
	"github.com/cascadeos/cascade/pkg/memory"
)

var acpiLog = log.Component("acpihost")

// Interrupt vectors available to installed handlers.
const (
	vectorBase  = 0x30
	vectorLimit = 0xf0
)

// ErrMutexTimeout is returned when a timed mutex acquisition expires.
var ErrMutexTimeout = errors.New("mutex acquisition timed out")

// ErrNoVectors is returned when every interrupt vector is taken.
var ErrNoVectors = errors.New("no interrupt vectors available")

// PortIO performs exact-width port I/O.
type PortIO interface {
	ReadPort(port uint16, width uint8) (uint64, error)
	WritePort(port uint16, width uint8, value uint64) error
}

// PCIAddress names one PCI function.
type PCIAddress struct {
	Segment  uint16
	Bus      uint8
	Device   uint8
	Function uint8
}

// Handler is an installed interrupt handler with its opaque context.
type Handler struct {
	Fn  func(ctx unsafe.Pointer)
	Ctx unsafe.Pointer
}

// Host backs the interpreter callbacks.
type Host struct {
	a        arch.Arch
	nc       memory.DirectMap
	ports    PortIO
	ecamBase memory.PhysicalAddress
	bootTime time.Time

	vectors *vmem.Arena

	mu        sync.Mutex
	mutexes   map[uint64]*timedMutex
	spinlocks map[uint64]*hostSpinlock
	handlers  map[uint8]Handler
	nextID    uint64
}

// Options configures a Host.
type Options struct {
	// NonCachedDirectMap is the uncached window used for mapped tables
	// and PCI configuration space.
	NonCachedDirectMap memory.DirectMap

	// Ports performs port I/O.
	Ports PortIO

	// ECAMBase is the physical base of PCI memory-mapped configuration
	// space.
	ECAMBase memory.PhysicalAddress

	// BootTime anchors the interpreter's monotonic clock.
	BootTime time.Time

	// Tags supplies boundary tags for the vector arena.
	Tags *vmem.TagPool
}

// New builds a Host.
func New(a arch.Arch, opts Options) (*Host, error) {
	vectors, err := vmem.New("interrupt_vectors", 1, vmem.Options{Tags: opts.Tags})
	if err != nil {
		return nil, err
	}
	if err := vectors.AddSpan(vectorBase, vectorLimit-vectorBase); err != nil {
		return nil, fmt.Errorf("vector arena: %w", err)
	}
	return &Host{
		a:         a,
		nc:        opts.NonCachedDirectMap,
		ports:     opts.Ports,
		ecamBase:  opts.ECAMBase,
		bootTime:  opts.BootTime,
		vectors:   vectors,
		mutexes:   make(map[uint64]*timedMutex),
		spinlocks: make(map[uint64]*hostSpinlock),
		handlers:  make(map[uint8]Handler),
	}, nil
}

// Map exposes a physical range through the uncached direct map.
func (h *Host) Map(phys memory.PhysicalAddress, length uintptr) memory.VirtualAddress {
	_ = length
	return h.nc.VirtualFor(phys)
}

// Unmap releases a Map window. The direct map is permanent, so there is
// nothing to tear down.
func (h *Host) Unmap(virt memory.VirtualAddress, length uintptr) {
	_, _ = virt, length
}

// ecam returns the uncached virtual address of one configuration register.
func (h *Host) ecam(addr PCIAddress, offset uint16) memory.VirtualAddress {
	fn := uintptr(addr.Bus)<<20 | uintptr(addr.Device)<<15 | uintptr(addr.Function)<<12
	return h.nc.VirtualFor(h.ecamBase.Add(fn + uintptr(offset)))
}

// PCIRead reads width bytes from configuration space.
func (h *Host) PCIRead(addr PCIAddress, offset uint16, width uint8) (uint64, error) {
	va := h.ecam(addr, offset)
	switch width {
	case 1:
		return uint64(*(*uint8)(va.Ptr())), nil
	case 2:
		return uint64(*(*uint16)(va.Ptr())), nil
	case 4:
		return uint64(*(*uint32)(va.Ptr())), nil
	default:
		return 0, fmt.Errorf("unsupported pci access width %d", width)
	}
}

// PCIWrite writes width bytes to configuration space.
func (h *Host) PCIWrite(addr PCIAddress, offset uint16, width uint8, value uint64) error {
	va := h.ecam(addr, offset)
	switch width {
	case 1:
		*(*uint8)(va.Ptr()) = uint8(value)
	case 2:
		*(*uint16)(va.Ptr()) = uint16(value)
	case 4:
		*(*uint32)(va.Ptr()) = uint32(value)
	default:
		return fmt.Errorf("unsupported pci access width %d", width)
	}
	return nil
}

// CreateMutex returns a handle to a fresh interpreter mutex.
func (h *Host) CreateMutex() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.mutexes[h.nextID] = newTimedMutex()
	return h.nextID
}

// AcquireMutex locks an interpreter mutex. A negative timeout waits
// forever.
func (h *Host) AcquireMutex(handle uint64, timeout time.Duration) error {
	return h.mutex(handle).acquire(timeout)
}

// ReleaseMutex unlocks an interpreter mutex.
func (h *Host) ReleaseMutex(handle uint64) {
	h.mutex(handle).release()
}

func (h *Host) mutex(handle uint64) *timedMutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.mutexes[handle]
	if m == nil {
		panic(fmt.Sprintf("unknown mutex handle %d", handle))
	}
	return m
}

// hostSpinlock pairs a ticket lock with the held witness of its current
// owner; the interpreter's lock/unlock calls are strictly paired.
type hostSpinlock struct {
	lock ticketlock.Lock
	held ticketlock.Held
}

// CreateSpinlock returns a handle to a fresh interrupt-safe lock.
func (h *Host) CreateSpinlock() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sl := &hostSpinlock{}
	sl.lock.Init(h.a)
	h.spinlocks[h.nextID] = sl
	return h.nextID
}

// LockSpinlock acquires an interpreter spinlock.
func (h *Host) LockSpinlock(handle uint64) {
	sl := h.spinlock(handle)
	sl.held = sl.lock.Acquire()
}

// UnlockSpinlock releases an interpreter spinlock.
func (h *Host) UnlockSpinlock(handle uint64) {
	sl := h.spinlock(handle)
	held := sl.held
	sl.held = ticketlock.Held{}
	held.Release()
}

func (h *Host) spinlock(handle uint64) *hostSpinlock {
	h.mu.Lock()
	defer h.mu.Unlock()
	sl := h.spinlocks[handle]
	if sl == nil {
		panic(fmt.Sprintf("unknown spinlock handle %d", handle))
	}
	return sl
}

// InstallInterruptHandler allocates a vector and records the interpreter's
// handler and context for the Dispatch trampoline. It does not program an
// interrupt controller; no IRQ is routed to the vector.
func (h *Host) InstallInterruptHandler(fn func(ctx unsafe.Pointer), ctx unsafe.Pointer) (uint8, error) {
	alloc, err := h.vectors.Allocate(1, vmem.InstantFit)
	if err != nil {
		return 0, ErrNoVectors
	}
	vector := uint8(alloc.Base)
	h.mu.Lock()
	h.handlers[vector] = Handler{Fn: fn, Ctx: ctx}
	h.mu.Unlock()
	acpiLog.Debugf("handler installed on vector %#x", vector)
	return vector, nil
}

// UninstallInterruptHandler releases a vector.
func (h *Host) UninstallInterruptHandler(vector uint8) {
	h.mu.Lock()
	delete(h.handlers, vector)
	h.mu.Unlock()
	h.vectors.DeallocateBase(uintptr(vector))
}

// Dispatch is the trampoline: called with a vector, it re-enters the
// interpreter through the handler installed on that vector.
func (h *Host) Dispatch(vector uint8) {
	h.mu.Lock()
	handler, ok := h.handlers[vector]
	h.mu.Unlock()
	if !ok {
		acpiLog.Warnf("spurious interrupt on vector %#x", vector)
		return
	}
	handler.Fn(handler.Ctx)
}

// NanosecondsSinceBoot implements the interpreter's monotonic timebase.
func (h *Host) NanosecondsSinceBoot() uint64 {
	return uint64(time.Since(h.bootTime))
}

// IORead performs an exact-width port read.
func (h *Host) IORead(port uint16, width uint8) (uint64, error) {
	return h.ports.ReadPort(port, width)
}

// IOWrite performs an exact-width port write.
func (h *Host) IOWrite(port uint16, width uint8, value uint64) error {
	return h.ports.WritePort(port, width, value)
}
