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
	"strings"
	"sync"
	"testing"

	"github.com/cascadeos/cascade/pkg/arch/hosted"
)

// bootMachine runs the full bring-up on a hosted machine and returns the
// system plus the recorded event sequence.
func bootMachine(t *testing.T, cpus int) (*System, []string) {
	t.Helper()
	m, err := hosted.NewMachine(hosted.Config{CPUs: cpus, MemoryBytes: 64 << 20})
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	var mu sync.Mutex
	var events []string
	opts := Options{Trace: func(event string) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}}

	type result struct {
		system *System
		err    error
	}
	done := make(chan result, 1)
	m.RunOn(0, func() {
		system, err := Initialize(m, m.Handoff(), opts)
		done <- result{system, err}
	})
	r := <-done
	if r.err != nil {
		t.Fatalf("Initialize: %v", r.err)
	}
	if err := m.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return r.system, append([]string(nil), events...)
}

// TestRendezvous boots four executors and checks the barrier protocol: the
// completion message appears exactly once, only after every peer has
// configured itself, and no peer passes the barrier before it.
func TestRendezvous(t *testing.T) {
	const cpus = 4
	system, events := bootMachine(t, cpus)

	completeAt := -1
	completions := 0
	for i, e := range events {
		if e == "initialization complete" {
			completions++
			completeAt = i
		}
	}
	if completions != 1 {
		t.Fatalf("%d completion messages, want exactly 1; events: %v", completions, events)
	}

	index := func(event string) int {
		for i, e := range events {
			if e == event {
				return i
			}
		}
		t.Fatalf("event %q missing; events: %v", event, events)
		return -1
	}
	for id := 1; id < cpus; id++ {
		configured := index(fmt.Sprintf("executor(%d) per_cpu_configured", id))
		ready := index(fmt.Sprintf("executor(%d) ready", id))
		if configured > completeAt {
			t.Errorf("executor %d configured after the completion message", id)
		}
		if ready < completeAt {
			t.Errorf("executor %d passed the barrier before the completion message", id)
		}
	}

	if got := len(system.Executors); got != cpus {
		t.Errorf("executor count = %d, want %d", got, cpus)
	}
}

func TestBootstrapStageOrder(t *testing.T) {
	_, events := bootMachine(t, 2)

	wantOrder := []string{
		"init0",
		"early_output",
		"offsets_determined",
		"interrupts_captured",
		"pmm_initialized",
		"core_page_table_loaded",
		"acpi_ready",
		"time_initialized",
		"heap_initialized",
		"stacks_initialized",
		"executors_constructed",
		"peers_started",
		"initialization complete",
		"barrier_completed",
	}
	last := -1
	for _, want := range wantOrder {
		found := -1
		for i, e := range events {
			if e == want {
				found = i
				break
			}
		}
		if found == -1 {
			t.Fatalf("stage %q missing; events: %v", want, events)
		}
		if found < last {
			t.Fatalf("stage %q out of order; events: %v", want, events)
		}
		last = found
	}
}

func TestSystemState(t *testing.T) {
	system, _ := bootMachine(t, 4)

	// FreePages takes the ticket lock, which needs a machine CPU.
	m := system.Arch.(*hosted.Machine)
	var free uint64
	m.RunOn(0, func() { free = system.PMM.FreePages() })
	if err := m.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if free == 0 {
		t.Error("no free pages after bring-up")
	}
	if system.CorePageTable == nil || !system.CorePageTable.IsLoaded() {
		t.Error("core page table not loaded")
	}
	for _, e := range system.Executors {
		if e.CPU == nil {
			t.Errorf("%s has no CPU", e.ID)
		}
		if e.Current == nil {
			t.Errorf("%s has no task", e.ID)
			continue
		}
		if e.Current.State != TaskRunning || e.Current.Executor != e {
			t.Errorf("%s task state = %d on %v", e.ID, e.Current.State, e.Current.Executor)
		}
		if !strings.HasPrefix(e.Current.Name, "init ") {
			t.Errorf("%s task name = %q", e.ID, e.Current.Name)
		}
		if e.InterruptStack.Size == 0 || e.DoubleFaultStack.Size == 0 || e.NMIStack.Size == 0 {
			t.Errorf("%s missing exception stacks", e.ID)
		}
	}

	// Executor stacks must be disjoint.
	type span struct{ lo, hi uintptr }
	var spans []span
	for _, e := range system.Executors {
		for _, r := range []struct{ lo, hi uintptr }{
			{uintptr(e.InterruptStack.Address), uintptr(e.InterruptStack.End())},
			{uintptr(e.DoubleFaultStack.Address), uintptr(e.DoubleFaultStack.End())},
			{uintptr(e.NMIStack.Address), uintptr(e.NMIStack.End())},
			{uintptr(e.Current.Stack.Address), uintptr(e.Current.Stack.End())},
		} {
			spans = append(spans, span{r.lo, r.hi})
		}
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].lo < spans[j].hi && spans[j].lo < spans[i].hi {
				t.Fatalf("stack ranges overlap: [%#x,%#x) and [%#x,%#x)", spans[i].lo, spans[i].hi, spans[j].lo, spans[j].hi)
			}
		}
	}
}
