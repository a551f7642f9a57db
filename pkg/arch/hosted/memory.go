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
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cascadeos/cascade/pkg/memory"
)

const (
	standardPageSize = 0x1000
	largePageSize    = 0x20_0000
	hugePageSize     = 0x4000_0000
)

// guestMemory is the machine's physical memory: one memfd mapped twice,
// giving two host windows with identical layout. Physical address p is
// offset p in the file, so each window is a direct map.
type guestMemory struct {
	size     uintptr
	cached   []byte
	uncached []byte
}

func newGuestMemory(size uintptr) (*guestMemory, error) {
	if size == 0 || size%standardPageSize != 0 {
		return nil, fmt.Errorf("memory size %#x is not a positive page multiple", size)
	}
	fd, err := unix.MemfdCreate("cascade-physmem", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	defer unix.Close(fd)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	cached, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap cached alias: %w", err)
	}
	uncached, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Munmap(cached)
		return nil, fmt.Errorf("mmap uncached alias: %w", err)
	}
	return &guestMemory{size: size, cached: cached, uncached: uncached}, nil
}

func (g *guestMemory) cachedBase() memory.VirtualAddress {
	return memory.VirtualAddress(uintptr(unsafe.Pointer(&g.cached[0])))
}

func (g *guestMemory) uncachedBase() memory.VirtualAddress {
	return memory.VirtualAddress(uintptr(unsafe.Pointer(&g.uncached[0])))
}

func (g *guestMemory) close() error {
	err := unix.Munmap(g.cached)
	if err2 := unix.Munmap(g.uncached); err == nil {
		err = err2
	}
	return err
}

// DirectMap returns the cacheable direct map over guest memory.
func (m *Machine) DirectMap() memory.DirectMap {
	return memory.DirectMap{VirtualBase: m.mem.cachedBase(), Size: m.mem.size}
}

// NonCachedDirectMap returns the uncached-layout direct map alias.
func (m *Machine) NonCachedDirectMap() memory.DirectMap {
	return memory.DirectMap{VirtualBase: m.mem.uncachedBase(), Size: m.mem.size}
}
