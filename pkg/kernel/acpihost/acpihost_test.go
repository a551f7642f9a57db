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
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/cascadeos/cascade/pkg/arch/archtest"
	"github.com/cascadeos/cascade/pkg/kernel/pmm"
	"github.com/cascadeos/cascade/pkg/kernel/vmem"
)

// fakePorts is an in-memory port space for the glue tests.
type fakePorts struct {
	mu    sync.Mutex
	words map[uint16]uint64
}

func (f *fakePorts) ReadPort(port uint16, width uint8) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.words[port] & (1<<(8*uint(width)) - 1), nil
}

func (f *fakePorts) WritePort(port uint16, width uint8, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.words == nil {
		f.words = make(map[uint16]uint64)
	}
	f.words[port] = value & (1<<(8*uint(width)) - 1)
	return nil
}

func newTestHost(t *testing.T) (*Host, *archtest.Arch) {
	t.Helper()
	ta := archtest.New(64 * 0x1000)
	p := pmm.New(ta, ta.DirectMap())
	if err := p.AddRange(ta.PhysicalMemory()); err != nil {
		t.Fatalf("AddRange: %v", err)
	}
	h, err := New(ta, Options{
		// The test architecture has no caches; the one direct map serves
		// both roles.
		NonCachedDirectMap: ta.DirectMap(),
		Ports:              &fakePorts{},
		ECAMBase:           0x10_000,
		BootTime:           time.Now(),
		Tags:               vmem.NewTagPool(p),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h, ta
}

func TestPCIConfigRoundTrip(t *testing.T) {
	h, _ := newTestHost(t)
	cb := h.Callbacks()

	addr := PCIAddress{Bus: 0, Device: 1, Function: 0}
	if err := cb.PCIWrite(addr, 0x10, 4, 0xfebc_0000); err != nil {
		t.Fatalf("PCIWrite: %v", err)
	}
	got, err := cb.PCIRead(addr, 0x10, 4)
	if err != nil {
		t.Fatalf("PCIRead: %v", err)
	}
	if got != 0xfebc_0000 {
		t.Errorf("config read = %#x, want 0xfebc0000", got)
	}

	// Narrow reads see the same bytes.
	lo, err := cb.PCIRead(addr, 0x10, 2)
	if err != nil {
		t.Fatalf("PCIRead width 2: %v", err)
	}
	if lo != 0x0000 {
		t.Errorf("low half = %#x, want 0", lo)
	}
	if _, err := cb.PCIRead(addr, 0x10, 8); err == nil {
		t.Error("width 8 accepted")
	}
}

func TestPortIO(t *testing.T) {
	h, _ := newTestHost(t)
	cb := h.Callbacks()

	if err := cb.IOWrite(0x60, 1, 0xae); err != nil {
		t.Fatalf("IOWrite: %v", err)
	}
	got, err := cb.IORead(0x60, 1)
	if err != nil {
		t.Fatalf("IORead: %v", err)
	}
	if got != 0xae {
		t.Errorf("port read = %#x, want 0xae", got)
	}
}

func TestMutexTimeout(t *testing.T) {
	h, _ := newTestHost(t)
	cb := h.Callbacks()

	handle := cb.CreateMutex()
	if err := cb.AcquireMutex(handle, -1); err != nil {
		t.Fatalf("AcquireMutex: %v", err)
	}
	if err := cb.AcquireMutex(handle, 10*time.Millisecond); err != ErrMutexTimeout {
		t.Fatalf("contended timed acquire = %v, want ErrMutexTimeout", err)
	}
	if err := cb.AcquireMutex(handle, 0); err != ErrMutexTimeout {
		t.Fatalf("contended poll = %v, want ErrMutexTimeout", err)
	}
	cb.ReleaseMutex(handle)
	if err := cb.AcquireMutex(handle, 10*time.Millisecond); err != nil {
		t.Fatalf("uncontended timed acquire = %v", err)
	}
	cb.ReleaseMutex(handle)
}

func TestSpinlock(t *testing.T) {
	h, _ := newTestHost(t)
	cb := h.Callbacks()

	handle := cb.CreateSpinlock()
	cb.LockSpinlock(handle)
	cb.UnlockSpinlock(handle)
	cb.LockSpinlock(handle)
	cb.UnlockSpinlock(handle)
}

func TestInterruptHandlerLifecycle(t *testing.T) {
	h, _ := newTestHost(t)
	cb := h.Callbacks()

	var fired int
	ctx := new(int)
	*ctx = 7
	vector, err := cb.InstallInterruptHandler(func(c unsafe.Pointer) {
		fired += *(*int)(c)
	}, unsafe.Pointer(ctx))
	if err != nil {
		t.Fatalf("InstallInterruptHandler: %v", err)
	}
	if vector < vectorBase || vector >= vectorLimit {
		t.Fatalf("vector %#x outside [%#x, %#x)", vector, vectorBase, vectorLimit)
	}

	h.Dispatch(vector)
	h.Dispatch(vector)
	if fired != 14 {
		t.Errorf("handler fired sum = %d, want 14", fired)
	}

	cb.UninstallInterruptHandler(vector)
	h.Dispatch(vector) // now spurious; must not panic
	if fired != 14 {
		t.Errorf("handler fired after uninstall")
	}

	// The vector is reusable.
	v2, err := cb.InstallInterruptHandler(func(unsafe.Pointer) {}, nil)
	if err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	cb.UninstallInterruptHandler(v2)
}

func TestNanosecondsSinceBootMonotonic(t *testing.T) {
	h, _ := newTestHost(t)
	cb := h.Callbacks()

	a := cb.NanosecondsSinceBoot()
	time.Sleep(time.Millisecond)
	b := cb.NanosecondsSinceBoot()
	if b <= a {
		t.Errorf("timebase not monotonic: %d then %d", a, b)
	}
}

func TestMapUsesNonCachedWindow(t *testing.T) {
	h, ta := newTestHost(t)
	cb := h.Callbacks()

	va := cb.Map(0x2000, 0x100)
	if want := ta.DirectMap().VirtualFor(0x2000); va != want {
		t.Errorf("Map(0x2000) = %s, want %s", va, want)
	}
	cb.Unmap(va, 0x100)
}
