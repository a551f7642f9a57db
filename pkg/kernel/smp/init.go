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

// Package smp brings the machine up: stage 1 runs on the bootstrap
// executor and builds the memory substrate, stage 2 runs on every executor
// and loads its translation state, stage 3 rendezvous-synchronizes them.
//
// Initialization failure is fatal by design: there is no rollback for a
// partially built core page table or a half-constructed executor set. On
// error the caller logs and halts.
package smp

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/boot"
	"github.com/cascadeos/cascade/pkg/kernel/kheap"
	"github.com/cascadeos/cascade/pkg/kernel/pmm"
	"github.com/cascadeos/cascade/pkg/kernel/vmem"
	"github.com/cascadeos/cascade/pkg/log"
	"github.com/cascadeos/cascade/pkg/memory"
)

var smpLog = log.Component("smp")

const (
	// regionAlign separates the synthetic layout regions.
	regionAlign = 1 << 30

	heapRegionSize  = 1 << 30
	stackRegionSize = 1 << 28

	exceptionStackSize = 16 << 10
	taskStackSize      = 64 << 10
)

// Options tunes initialization.
type Options struct {
	// Trace, if non-nil, observes sequencer events. For tests.
	Trace func(event string)
}

// System is the initialized kernel core.
type System struct {
	Arch    arch.Arch
	Handoff *boot.Handoff

	DirectMap          memory.DirectMap
	NonCachedDirectMap memory.DirectMap
	Layout             *boot.Layout

	PMM           *pmm.Allocator
	Tags          *vmem.TagPool
	CorePageTable arch.PageTable
	Heap          *kheap.Heap

	Executors []*Executor
	BootTime  time.Time

	opts       Options
	ready      atomic.Int32
	nextTaskID atomic.Uint64
}

// Initialize runs stage 1 on the calling CPU, which must be the bootstrap
// CPU, and starts the remaining executors through their boot hooks. It
// returns once every peer has reached the rendezvous and the barrier has
// been released; peers may still be leaving the barrier at that point.
func Initialize(a arch.Arch, h *boot.Handoff, opts Options) (*System, error) {
	s := &System{Arch: a, Handoff: h, opts: opts}
	s.stage1(stageInit0)

	smpLog.Infof("booting with %d executors", len(h.CPUs))
	s.stage1(stageEarlyOutput)

	s.DirectMap = memory.DirectMap{VirtualBase: h.DirectMapOffset, Size: h.DirectMapSize}
	s.NonCachedDirectMap = memory.DirectMap{VirtualBase: h.NonCachedDirectMapOffset, Size: h.DirectMapSize}
	s.stage1(stageOffsetsDetermined)

	if len(h.CPUs) == 0 {
		return nil, errors.New("bootloader reported no CPUs")
	}
	bootstrapDesc := h.BootstrapCPU()
	if bootstrapDesc == nil {
		return nil, errors.New("bootloader reported no bootstrap CPU")
	}
	bootstrap := &Executor{ID: 0, CPU: a.CurrentCPU(), descriptor: bootstrapDesc}

	a.EnableInterrupts()
	s.stage1(stageInterruptsCaptured)

	if err := s.buildLayout(); err != nil {
		return nil, err
	}

	s.PMM = pmm.New(a, s.DirectMap)
	var freeBytes uintptr
	for _, r := range h.UsableRanges() {
		if err := s.PMM.AddRange(r); err != nil {
			return nil, fmt.Errorf("memory map range %s: %w", r, err)
		}
		freeBytes += r.Size
	}
	smpLog.Infof("%d MiB free", freeBytes>>20)
	s.stage1(stagePMMInitialized)

	vmem.Bootstrap(s.PMM)
	s.Tags = vmem.DefaultPool()

	if err := s.buildCorePageTable(); err != nil {
		return nil, err
	}
	a.LoadPageTable(s.CorePageTable)
	s.stage1(stageCorePageTableLoaded)

	if h.RSDP != 0 {
		smpLog.Debugf("RSDP at %s", h.RSDP)
	}
	s.stage1(stageACPIReady)

	s.BootTime = time.Now()
	s.stage1(stageTimeInitialized)

	heapRegion, _ := s.Layout.Find(s.heapBase())
	heap, err := kheap.New(a, s.PMM, s.CorePageTable, heapRegion.Range, s.Tags)
	if err != nil {
		return nil, fmt.Errorf("heap: %w", err)
	}
	s.Heap = heap
	s.stage1(stageHeapInitialized)

	if err := s.furnish(bootstrap); err != nil {
		return nil, err
	}
	s.stage1(stageStacksInitialized)

	bootstrap.PageTable = s.CorePageTable
	s.Executors = []*Executor{bootstrap}
	for _, desc := range h.CPUs {
		if desc.Bootstrap {
			continue
		}
		e := &Executor{
			ID:         ExecutorID(len(s.Executors)),
			PageTable:  s.CorePageTable,
			descriptor: desc,
		}
		if err := s.furnish(e); err != nil {
			return nil, err
		}
		s.Executors = append(s.Executors, e)
	}
	s.stage1(stageExecutorsConstructed)

	for _, e := range s.Executors[1:] {
		e.descriptor.UserData = e
		s.traceExecutor(e, stageSpawned)
		e.descriptor.Boot(s.stage2Entry)
	}
	s.stage1(stagePeersStarted)

	// Rendezvous: wait for every peer, announce, then wave them through.
	peers := int32(len(h.CPUs) - 1)
	for s.ready.Load() != peers {
		a.SpinLoopHint()
	}
	smpLog.Infof("initialization complete")
	s.trace("initialization complete")
	s.ready.Add(1)
	s.stage1(stageBarrierCompleted)
	return s, nil
}

// stage2Entry is where a started executor lands.
func (s *System) stage2Entry(desc *boot.CPUDescriptor) {
	e := desc.UserData.(*Executor)
	s.traceExecutor(e, stageStage2Entered)

	e.CPU = s.Arch.CurrentCPU()
	s.Arch.LoadPageTable(e.PageTable)

	e.Current.State = TaskRunning
	e.Current.Executor = e
	s.traceExecutor(e, stagePerCPUConfigured)

	s.traceExecutor(e, stageStage3Entered)
	s.ready.Add(1)
	total := int32(len(s.Handoff.CPUs))
	for s.ready.Load() != total {
		s.Arch.SpinLoopHint()
	}
	s.traceExecutor(e, stageReady)
}

// buildLayout registers the kernel's virtual regions, rejecting overlap.
func (s *System) buildLayout() error {
	s.Layout = boot.NewLayout()
	regions := []boot.Region{
		{Name: "direct_map", Kind: boot.RegionDirectMap, Range: memory.VirtualRange{Address: s.DirectMap.VirtualBase, Size: s.DirectMap.Size}},
		{Name: "non_cached_direct_map", Kind: boot.RegionNonCachedDirectMap, Range: memory.VirtualRange{Address: s.NonCachedDirectMap.VirtualBase, Size: s.NonCachedDirectMap.Size}},
		{Name: "kernel_image", Kind: boot.RegionKernelImage, Range: memory.VirtualRange{Address: s.Handoff.KernelVirtualBase, Size: s.Handoff.KernelSize}},
		{Name: "heap", Kind: boot.RegionHeap, Range: memory.VirtualRange{Address: s.heapBase(), Size: heapRegionSize}},
		{Name: "stacks", Kind: boot.RegionStacks, Range: memory.VirtualRange{Address: s.heapBase().Add(heapRegionSize + regionAlign), Size: stackRegionSize}},
	}
	for _, r := range regions {
		if err := s.Layout.Register(r); err != nil {
			return fmt.Errorf("memory layout: %w", err)
		}
		smpLog.Debugf("layout: %-24s %s", r.Name, r.Range)
	}
	return nil
}

// heapBase places the heap region above both direct-map windows.
func (s *System) heapBase() memory.VirtualAddress {
	top := s.DirectMap.VirtualBase.Add(s.DirectMap.Size)
	if nc := s.NonCachedDirectMap.VirtualBase.Add(s.NonCachedDirectMap.Size); nc > top {
		top = nc
	}
	return top.AlignUp(regionAlign).Add(regionAlign)
}

// buildCorePageTable maps the direct maps and the kernel image. Failure
// here leaves partial table state and is fatal.
func (s *System) buildCorePageTable() error {
	pt, err := s.Arch.NewPageTable()
	if err != nil {
		return fmt.Errorf("core page table: %w", err)
	}
	all := memory.PhysicalRange{Address: 0, Size: s.DirectMap.Size}
	mappings := []struct {
		vr memory.VirtualRange
		pr memory.PhysicalRange
		mt arch.MapType
	}{
		{memory.VirtualRange{Address: s.DirectMap.VirtualBase, Size: s.DirectMap.Size}, all, arch.MapKernelReadWrite},
		{memory.VirtualRange{Address: s.NonCachedDirectMap.VirtualBase, Size: s.DirectMap.Size}, all, arch.MapKernelReadWriteNoCache},
		{memory.VirtualRange{Address: s.Handoff.KernelVirtualBase, Size: s.Handoff.KernelSize},
			memory.PhysicalRange{Address: s.Handoff.KernelPhysicalBase, Size: s.Handoff.KernelSize}, arch.MapKernelExecute},
	}
	for _, m := range mappings {
		if err := s.Arch.MapRangeAllPageSizes(pt, m.vr, m.pr, m.mt); err != nil {
			return fmt.Errorf("core page table: map %s: %w", m.vr, err)
		}
	}
	s.CorePageTable = pt
	return nil
}

// furnish gives an executor its stacks and its init task.
func (s *System) furnish(e *Executor) error {
	var err error
	if e.InterruptStack, err = s.Heap.Allocate(exceptionStackSize); err != nil {
		return fmt.Errorf("%s interrupt stack: %w", e.ID, err)
	}
	if e.DoubleFaultStack, err = s.Heap.Allocate(exceptionStackSize); err != nil {
		return fmt.Errorf("%s double-fault stack: %w", e.ID, err)
	}
	if e.NMIStack, err = s.Heap.Allocate(exceptionStackSize); err != nil {
		return fmt.Errorf("%s nmi stack: %w", e.ID, err)
	}
	taskStack, err := s.Heap.Allocate(taskStackSize)
	if err != nil {
		return fmt.Errorf("%s task stack: %w", e.ID, err)
	}
	task, err := newTask(s.nextTaskID.Add(1)-1, fmt.Sprintf("init %d", e.ID), taskStack)
	if err != nil {
		return err
	}
	task.State = TaskRunning
	task.Executor = e
	e.Current = task
	return nil
}

// Halt stops the calling CPU permanently.
func (s *System) Halt() {
	s.Arch.DisableAndHalt()
}

func (s *System) stage1(st bootstrapStage) {
	smpLog.Debugf("stage1: %s", st)
	s.trace(st.String())
}

func (s *System) trace(event string) {
	if s.opts.Trace != nil {
		s.opts.Trace(event)
	}
}

func (s *System) traceExecutor(e *Executor, st secondaryStage) {
	smpLog.Debugf("%s: %s", e.ID, st)
	s.trace(fmt.Sprintf("%s %s", e.ID, st))
}
