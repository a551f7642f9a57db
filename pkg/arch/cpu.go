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

package arch

import "fmt"

// CPUID identifies one logical CPU.
type CPUID int32

// CPUIDNone is the id of no CPU, used by lock holders to mean "unlocked".
const CPUIDNone CPUID = -1

// String implements fmt.Stringer.String.
func (id CPUID) String() string {
	if id == CPUIDNone {
		return "cpu(none)"
	}
	return fmt.Sprintf("cpu(%d)", int32(id))
}

// CPU is the per-CPU record reached through the architected per-CPU
// register (KERNEL_GS_BASE on x86-64, sscratch on riscv64).
type CPU struct {
	// ID is immutable after bring-up.
	ID CPUID

	// PreemptionDisableCount is the nesting depth of preemption exclusion.
	//
	// PreemptionDisableCount is mutated only by the owning CPU.
	PreemptionDisableCount uint32

	// InterruptDisableCount is the nesting depth of interrupt exclusion.
	//
	// InterruptDisableCount is mutated only by the owning CPU, with
	// interrupts disabled.
	InterruptDisableCount uint32
}
