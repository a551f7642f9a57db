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

// Package exclusion provides per-CPU preemption and interrupt exclusion
// tokens.
//
// The two axes are separate so that high-level mutexes can disable
// preemption only, while spin locks visible from interrupt context disable
// both. Each CPU carries a nonnegative counter per axis; acquiring
// increments it and on the 0→1 edge applies the masking, releasing
// decrements and on the 1→0 edge removes it.
//
// Tokens are single-use and bound to the CPU that produced them. Moving a
// token transfers the release obligation; copying one is a programming
// error.
package exclusion

import (
	"github.com/cascadeos/cascade/pkg/arch"
)

// Preemption is a held preemption exclusion.
type Preemption struct {
	a        arch.Arch
	cpu      *arch.CPU
	released bool
}

// Interrupt is a held interrupt exclusion.
type Interrupt struct {
	a        arch.Arch
	cpu      *arch.CPU
	released bool
}

// PreemptionInterrupt is the product of the two exclusions; releasing
// restores both in reverse acquisition order.
type PreemptionInterrupt struct {
	preemption Preemption
	interrupt  Interrupt
}

// AcquirePreemption disables preemption on the calling CPU. Interrupts are
// not touched.
func AcquirePreemption(a arch.Arch) Preemption {
	// Reading the current CPU is safe against migration here only because
	// disabling preemption is the first thing a CPU-bound caller does;
	// until the count goes 0→1 the scheduler may not move the task.
	cpu := a.CurrentCPU()
	cpu.PreemptionDisableCount++
	return Preemption{a: a, cpu: cpu}
}

// CPU returns the CPU the exclusion is bound to.
func (p *Preemption) CPU() *arch.CPU {
	return p.cpu
}

// Release ends the exclusion. The token must not be used again.
func (p *Preemption) Release() {
	if p.released {
		panic("preemption exclusion released twice")
	}
	p.released = true
	if p.cpu.PreemptionDisableCount == 0 {
		panic("preemption disable count underflow")
	}
	p.cpu.PreemptionDisableCount--
}

// AcquireInterrupt disables interrupts on the calling CPU.
func AcquireInterrupt(a arch.Arch) Interrupt {
	a.DisableInterrupts()
	cpu := a.CurrentCPU()
	cpu.InterruptDisableCount++
	return Interrupt{a: a, cpu: cpu}
}

// CPU returns the CPU the exclusion is bound to.
func (i *Interrupt) CPU() *arch.CPU {
	return i.cpu
}

// Release ends the exclusion, re-enabling interrupts when the outermost
// token is released. The token must not be used again.
func (i *Interrupt) Release() {
	if i.released {
		panic("interrupt exclusion released twice")
	}
	i.released = true
	if i.cpu.InterruptDisableCount == 0 {
		panic("interrupt disable count underflow")
	}
	i.cpu.InterruptDisableCount--
	if i.cpu.InterruptDisableCount == 0 {
		i.a.EnableInterrupts()
	}
}

// AcquirePreemptionInterrupt disables preemption, then interrupts, on the
// calling CPU.
func AcquirePreemptionInterrupt(a arch.Arch) PreemptionInterrupt {
	p := AcquirePreemption(a)
	i := AcquireInterrupt(a)
	return PreemptionInterrupt{preemption: p, interrupt: i}
}

// CPU returns the CPU the exclusion is bound to.
func (pi *PreemptionInterrupt) CPU() *arch.CPU {
	return pi.interrupt.cpu
}

// Release ends both exclusions in reverse acquisition order.
func (pi *PreemptionInterrupt) Release() {
	pi.interrupt.Release()
	pi.preemption.Release()
}
