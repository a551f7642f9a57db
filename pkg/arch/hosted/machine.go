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

// Package hosted implements the arch capability surface on a host OS.
//
// A Machine models the hardware the kernel core needs and nothing more:
// logical CPUs are OS-thread-locked goroutines, physical memory is an
// anonymous memfd mapped twice (the cacheable direct-map alias and an
// uncached-layout alias), the per-CPU register is a goroutine-keyed
// binding, and interrupt masking is per-CPU state. Page tables record
// mappings without translating; the direct-map aliases are the real
// mappings.
package hosted

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/petermattis/goid"
	"golang.org/x/sync/errgroup"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/log"
)

var hostedLog = log.Component("hosted")

// cpuState is one simulated logical CPU.
type cpuState struct {
	cpu arch.CPU

	// interruptsEnabled is touched only by the goroutine bound to this
	// CPU, mirroring the per-CPU interrupt flag.
	interruptsEnabled bool

	// bound is true while a goroutine occupies this CPU.
	bound bool
}

// Machine is a simulated multiprocessor implementing arch.Arch.
type Machine struct {
	cfg  Config
	mem  *guestMemory
	cpus []*cpuState

	// bindMu protects bindings and the per-CPU bound flags.
	bindMu   sync.RWMutex
	bindings map[int64]*cpuState

	ports portSpace

	group    errgroup.Group
	shutdown chan struct{}
	downOnce sync.Once
}

// NewMachine constructs a machine from cfg.
func NewMachine(cfg Config) (*Machine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	mem, err := newGuestMemory(cfg.MemoryBytes)
	if err != nil {
		return nil, fmt.Errorf("guest memory: %w", err)
	}
	m := &Machine{
		cfg:      cfg,
		mem:      mem,
		bindings: make(map[int64]*cpuState),
		shutdown: make(chan struct{}),
	}
	m.ports.init()
	for i := 0; i < cfg.CPUs; i++ {
		m.cpus = append(m.cpus, &cpuState{cpu: arch.CPU{ID: arch.CPUID(i)}})
	}
	hostedLog.Debugf("machine: %d cpus, %d MiB", cfg.CPUs, cfg.MemoryBytes>>20)
	return m, nil
}

// RunOn runs fn on the given CPU: a fresh OS-thread-locked goroutine is
// bound to it for the duration. One goroutine occupies a CPU at a time, as
// one hardware thread does.
func (m *Machine) RunOn(id arch.CPUID, fn func()) {
	cs := m.cpuState(id)
	m.group.Go(func() error {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		m.bind(cs)
		defer m.unbind(cs)
		fn()
		return nil
	})
}

// Wait blocks until every CPU goroutine has returned.
func (m *Machine) Wait() error {
	return m.group.Wait()
}

// Shutdown releases halted CPUs. Guest memory stays mapped until Close.
func (m *Machine) Shutdown() {
	m.downOnce.Do(func() {
		close(m.shutdown)
	})
}

// Close unmaps guest memory after shutdown.
func (m *Machine) Close() error {
	m.Shutdown()
	return m.mem.close()
}

func (m *Machine) cpuState(id arch.CPUID) *cpuState {
	if int(id) < 0 || int(id) >= len(m.cpus) {
		panic(fmt.Sprintf("no such cpu %s", id))
	}
	return m.cpus[int(id)]
}

func (m *Machine) bind(cs *cpuState) {
	m.bindMu.Lock()
	defer m.bindMu.Unlock()
	if cs.bound {
		panic(fmt.Sprintf("%s is already occupied", cs.cpu.ID))
	}
	cs.bound = true
	m.bindings[goid.Get()] = cs
}

func (m *Machine) unbind(cs *cpuState) {
	m.bindMu.Lock()
	defer m.bindMu.Unlock()
	cs.bound = false
	delete(m.bindings, goid.Get())
}

func (m *Machine) current() *cpuState {
	m.bindMu.RLock()
	cs := m.bindings[goid.Get()]
	m.bindMu.RUnlock()
	if cs == nil {
		panic("caller is not running on a machine CPU")
	}
	return cs
}

// StandardPageSize implements arch.Arch.StandardPageSize.
func (m *Machine) StandardPageSize() uintptr {
	return standardPageSize
}

// LargePageSizes implements arch.Arch.LargePageSizes.
func (m *Machine) LargePageSizes() []uintptr {
	return []uintptr{largePageSize, hugePageSize}
}

// DisableInterrupts implements arch.Arch.DisableInterrupts.
func (m *Machine) DisableInterrupts() {
	m.current().interruptsEnabled = false
}

// EnableInterrupts implements arch.Arch.EnableInterrupts.
func (m *Machine) EnableInterrupts() {
	m.current().interruptsEnabled = true
}

// InterruptsEnabled implements arch.Arch.InterruptsEnabled.
func (m *Machine) InterruptsEnabled() bool {
	return m.current().interruptsEnabled
}

// DisableAndHalt implements arch.Arch.DisableAndHalt. The simulated CPU
// parks until machine shutdown, then its goroutine exits.
func (m *Machine) DisableAndHalt() {
	cs := m.current()
	cs.interruptsEnabled = false
	hostedLog.Warnf("%s halted", cs.cpu.ID)
	<-m.shutdown
	runtime.Goexit()
}

// CurrentCPU implements arch.Arch.CurrentCPU.
func (m *Machine) CurrentCPU() *arch.CPU {
	return &m.current().cpu
}

// SpinLoopHint implements arch.Arch.SpinLoopHint.
func (m *Machine) SpinLoopHint() {
	runtime.Gosched()
}
