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

// Package ticketlock provides a FIFO-fair spin lock.
//
// Acquisition draws a ticket by atomic fetch-add and spins until the serve
// counter reaches it, so CPUs enter their critical sections in draw order.
// The lock holds combined preemption+interrupt exclusion for the duration,
// making it safe to take from interrupt context. Acquire never suspends.
package ticketlock

import (
	"sync/atomic"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/kernel/exclusion"
)

// Lock is a FIFO ticket spin lock.
//
// While unlocked, holder is CPUIDNone. While locked, holder is the unique
// CPU that observed current == its drawn ticket. The zero value is unusable;
// call Init first.
type Lock struct {
	a arch.Arch

	// current is the ticket currently being served.
	current atomic.Uint32

	// ticket is the next ticket to hand out.
	ticket atomic.Uint32

	// holder is the id of the CPU holding the lock, or CPUIDNone.
	// Written with release ordering on acquisition, read with acquire.
	holder atomic.Int32
}

// Held is the witness of a held Lock. It is single-use; moving it transfers
// the release obligation.
type Held struct {
	lock *Lock
	excl exclusion.PreemptionInterrupt
}

// Init prepares the lock for use.
func (l *Lock) Init(a arch.Arch) {
	l.a = a
	l.holder.Store(int32(arch.CPUIDNone))
}

// Acquire takes the lock, spinning until it is granted.
//
// Re-entrant acquisition by the holding CPU is a programming error and
// panics.
func (l *Lock) Acquire() Held {
	excl := exclusion.AcquirePreemptionInterrupt(l.a)
	cpu := excl.CPU()
	if arch.CPUID(l.holder.Load()) == cpu.ID {
		panic("ticket lock acquired recursively on " + cpu.ID.String())
	}
	myTicket := l.ticket.Add(1) - 1
	for l.current.Load() != myTicket {
		l.a.SpinLoopHint()
	}
	l.holder.Store(int32(cpu.ID))
	return Held{lock: l, excl: excl}
}

// Release unlocks and drops the exclusion.
//
// Preconditions: the calling CPU holds the lock.
func (h Held) Release() {
	l := h.lock
	cpu := h.excl.CPU()
	if arch.CPUID(l.holder.Load()) != cpu.ID {
		panic("ticket lock released by " + cpu.ID.String() + " which does not hold it")
	}
	l.holder.Store(int32(arch.CPUIDNone))
	l.current.Add(1)
	h.excl.Release()
}

// UnsafeRelease unlocks on behalf of another logical owner, without the
// CPU-identity assertion. Used by the scheduler when the task that held the
// lock has migrated in a controlled transition.
func (h Held) UnsafeRelease() {
	l := h.lock
	l.holder.Store(int32(arch.CPUIDNone))
	l.current.Add(1)
	h.excl.Release()
}

// IsLockedBy reports whether the lock is currently held by the given CPU.
func (l *Lock) IsLockedBy(id arch.CPUID) bool {
	return arch.CPUID(l.holder.Load()) == id
}

// IsLocked reports whether the lock is currently held by any CPU.
func (l *Lock) IsLocked() bool {
	return arch.CPUID(l.holder.Load()) != arch.CPUIDNone
}
