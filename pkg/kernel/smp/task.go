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

	"github.com/cascadeos/cascade/pkg/memory"
)

// MaxTaskNameLen bounds task names.
const MaxTaskNameLen = 63

// TaskState is the scheduling state of a task. Only the running state
// exists at bring-up; the wider task model lives above this layer.
type TaskState int

const (
	// TaskRunning means the task occupies an executor.
	TaskRunning TaskState = iota
)

// Task is a schedulable unit.
type Task struct {
	ID   uint64
	Name string

	// Stack is the task's kernel stack.
	Stack memory.VirtualRange

	// InterruptDisableCount is the task's interrupt-disable nesting depth.
	// Nothing in this package updates it.
	InterruptDisableCount uint32

	State TaskState

	// Executor is the executor the task runs on while State is
	// TaskRunning.
	Executor *Executor
}

func newTask(id uint64, name string, stack memory.VirtualRange) (*Task, error) {
	if len(name) > MaxTaskNameLen {
		return nil, fmt.Errorf("task name %q longer than %d bytes", name, MaxTaskNameLen)
	}
	return &Task{ID: id, Name: name, Stack: stack}, nil
}
