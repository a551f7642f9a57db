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

package smp

import (
	"fmt"

	"github.com/cascadeos/cascade/pkg/arch"
	"github.com/cascadeos/cascade/pkg/boot"
	"github.com/cascadeos/cascade/pkg/memory"
)

// ExecutorID identifies one executor; executor 0 is the bootstrap.
type ExecutorID uint32

// String implements fmt.Stringer.String.
func (id ExecutorID) String() string {
	return fmt.Sprintf("executor(%d)", uint32(id))
}

// Executor is one logical CPU from the kernel's perspective.
type Executor struct {
	ID ExecutorID

	// CPU is the per-CPU record, captured when the executor first runs on
	// its CPU.
	CPU *arch.CPU

	// PageTable is the translation table the executor loads in stage 2.
	PageTable arch.PageTable

	// Current is the task running on this executor.
	Current *Task

	// Dedicated stacks for the exceptional contexts.
	InterruptStack   memory.VirtualRange
	DoubleFaultStack memory.VirtualRange
	NMIStack         memory.VirtualRange

	descriptor *boot.CPUDescriptor
}
