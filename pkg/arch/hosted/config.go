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

package hosted

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// ReservedRange is a machine-config hole in physical memory.
type ReservedRange struct {
	Base uint64 `toml:"base"`
	Size uint64 `toml:"size"`
}

// Config describes the simulated machine.
type Config struct {
	// CPUs is the logical CPU count, bootstrap included.
	CPUs int `toml:"cpus"`

	// MemoryBytes is the physical memory size; a page multiple.
	MemoryBytes uintptr `toml:"memory_bytes"`

	// Reserved punches reserved holes into the memory map.
	Reserved []ReservedRange `toml:"reserved"`
}

// DefaultConfig returns a small development machine.
func DefaultConfig() Config {
	return Config{
		CPUs:        4,
		MemoryBytes: 64 << 20,
	}
}

// LoadConfig reads a TOML machine description, filling unset fields from
// the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("machine config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("machine config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.CPUs < 1 {
		return fmt.Errorf("cpu count %d < 1", c.CPUs)
	}
	if c.MemoryBytes == 0 || c.MemoryBytes%standardPageSize != 0 {
		return fmt.Errorf("memory size %#x is not a positive page multiple", c.MemoryBytes)
	}
	for _, r := range c.Reserved {
		if r.Size == 0 || uintptr(r.Base+r.Size) > c.MemoryBytes {
			return fmt.Errorf("reserved range [%#x, %#x) outside memory", r.Base, r.Base+r.Size)
		}
	}
	return nil
}
