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
	"sync"
)

// portSpace is the machine's simulated I/O port space. Unwritten ports
// read as all-ones, the way vacant ISA ports do.
type portSpace struct {
	mu    sync.Mutex
	bytes map[uint16]byte
}

func (ps *portSpace) init() {
	ps.bytes = make(map[uint16]byte)
}

func checkWidth(width uint8) error {
	switch width {
	case 1, 2, 4:
		return nil
	default:
		return fmt.Errorf("unsupported port width %d", width)
	}
}

// ReadPort reads width bytes, little-endian, from the port space.
func (m *Machine) ReadPort(port uint16, width uint8) (uint64, error) {
	if err := checkWidth(width); err != nil {
		return 0, err
	}
	m.ports.mu.Lock()
	defer m.ports.mu.Unlock()
	var v uint64
	for i := uint8(0); i < width; i++ {
		b, ok := m.ports.bytes[port+uint16(i)]
		if !ok {
			b = 0xff
		}
		v |= uint64(b) << (8 * i)
	}
	return v, nil
}

// WritePort writes width bytes, little-endian, to the port space.
func (m *Machine) WritePort(port uint16, width uint8, value uint64) error {
	if err := checkWidth(width); err != nil {
		return err
	}
	m.ports.mu.Lock()
	defer m.ports.mu.Unlock()
	for i := uint8(0); i < width; i++ {
		m.ports.bytes[port+uint16(i)] = byte(value >> (8 * i))
	}
	return nil
}
