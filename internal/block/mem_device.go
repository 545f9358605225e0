// Copyright 2025 Google LLC
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

package block

import (
	"fmt"
	"sync"
)

// MemDevice is an in-memory Device, used by tests that want a disk
// without touching the filesystem.
type MemDevice struct {
	mu      sync.Mutex
	sectors [][SectorSize]byte
}

// NewMemDevice allocates a zeroed in-memory device of the given sector count.
func NewMemDevice(sectors SectorNum) *MemDevice {
	return &MemDevice{sectors: make([][SectorSize]byte, sectors)}
}

func (d *MemDevice) SectorCount() SectorNum {
	d.mu.Lock()
	defer d.mu.Unlock()
	return SectorNum(len(d.sectors))
}

func (d *MemDevice) ReadSector(sec SectorNum, dst []byte) error {
	if len(dst) != SectorSize {
		return fmt.Errorf("block: ReadSector dst must be %d bytes, got %d", SectorSize, len(dst))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(sec) >= len(d.sectors) {
		return fmt.Errorf("block: sector %d out of range (count %d)", sec, len(d.sectors))
	}
	copy(dst, d.sectors[sec][:])
	return nil
}

func (d *MemDevice) WriteSector(sec SectorNum, src []byte) error {
	if len(src) != SectorSize {
		return fmt.Errorf("block: WriteSector src must be %d bytes, got %d", SectorSize, len(src))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(sec) >= len(d.sectors) {
		return fmt.Errorf("block: sector %d out of range (count %d)", sec, len(d.sectors))
	}
	copy(d.sectors[sec][:], src)
	return nil
}

func (d *MemDevice) Close() error { return nil }
