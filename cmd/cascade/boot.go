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

package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"

	"github.com/cascadeos/cascade/pkg/arch/hosted"
	"github.com/cascadeos/cascade/pkg/kernel/acpihost"
	"github.com/cascadeos/cascade/pkg/kernel/smp"
	"github.com/cascadeos/cascade/pkg/log"
)

var bootLog = log.Component("boot")

type bootCmd struct {
	config string
	debug  bool
}

// Name implements subcommands.Command.Name.
func (*bootCmd) Name() string { return "boot" }

// Synopsis implements subcommands.Command.Synopsis.
func (*bootCmd) Synopsis() string { return "boot the kernel core on a hosted machine" }

// Usage implements subcommands.Command.Usage.
func (*bootCmd) Usage() string {
	return `boot [-config <machine.toml>] [-debug]:
  Construct a hosted machine, run the SMP bring-up, and shut down.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *bootCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "TOML machine description (default: 4 CPUs, 64 MiB)")
	f.BoolVar(&c.debug, "debug", false, "enable debug logging")
}

// Execute implements subcommands.Command.Execute.
func (c *bootCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	log.SetDebug(c.debug)

	cfg := hosted.DefaultConfig()
	if c.config != "" {
		var err error
		if cfg, err = hosted.LoadConfig(c.config); err != nil {
			bootLog.Errorf("%v", err)
			return subcommands.ExitUsageError
		}
	}

	machine, err := hosted.NewMachine(cfg)
	if err != nil {
		bootLog.Errorf("%v", err)
		return subcommands.ExitFailure
	}
	defer machine.Close()

	handoff := machine.Handoff()

	type result struct {
		system *smp.System
		err    error
	}
	done := make(chan result, 1)
	machine.RunOn(0, func() {
		system, err := smp.Initialize(machine, handoff, smp.Options{})
		done <- result{system, err}
	})

	r := <-done
	if r.err != nil {
		bootLog.Errorf("initialization failed, halting: %v", r.err)
		machine.Shutdown()
		_ = machine.Wait()
		return subcommands.ExitFailure
	}

	host, err := acpihost.New(machine, acpihost.Options{
		NonCachedDirectMap: r.system.NonCachedDirectMap,
		Ports:              machine,
		BootTime:           r.system.BootTime,
		Tags:               r.system.Tags,
	})
	if err != nil {
		bootLog.Errorf("acpi host: %v", err)
		machine.Shutdown()
		_ = machine.Wait()
		return subcommands.ExitFailure
	}
	cb := host.Callbacks()
	// FreePages takes the ticket lock, which needs a machine CPU; CPU 0 is
	// free again once every bring-up goroutine has returned. A failure is
	// reported by the final Wait below.
	_ = machine.Wait()
	free := make(chan uint64, 1)
	machine.RunOn(0, func() { free <- r.system.PMM.FreePages() })
	bootLog.Infof("up %d ns, %d pages free", cb.NanosecondsSinceBoot(), <-free)

	machine.Shutdown()
	if err := machine.Wait(); err != nil {
		bootLog.Errorf("%v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
