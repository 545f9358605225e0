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

// Package freemap is the persistent bitmap of allocated sectors. It is
// itself stored on the disk (through the buffer cache, like everything
// else) at a fixed, well-known sector so it survives a remount.
package freemap

import (
	"fmt"
	"sync"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/bufcache"
)

// Map is a persistent bitmap of allocated sectors, one bit per sector.
type Map struct {
	mu      sync.Mutex
	cache   *bufcache.Cache
	sector  block.SectorNum // where the bitmap itself is persisted
	bits    []byte
	nbits   int
	reserve int // low sectors never handed out (boot sectors, bitmap sector itself)
}

// Load reads the bitmap for a device of nbits sectors, persisted at
// bitmapSector, reserving the first `reserve` sectors (e.g. the root
// directory inode and the bitmap sector itself) as permanently allocated.
func Load(cache *bufcache.Cache, bitmapSector block.SectorNum, nbits, reserve int) (*Map, error) {
	nbytes := (nbits + 7) / 8
	m := &Map{
		cache:   cache,
		sector:  bitmapSector,
		bits:    make([]byte, nbytes),
		nbits:   nbits,
		reserve: reserve,
	}

	remaining := nbytes
	ofs := 0
	for remaining > 0 {
		n := remaining
		if n > block.SectorSize {
			n = block.SectorSize
		}
		if err := cache.Read(bitmapSector+block.SectorNum(ofs/block.SectorSize), m.bits[ofs:ofs+n], 0, n); err != nil {
			return nil, fmt.Errorf("freemap: load: %w", err)
		}
		ofs += n
		remaining -= n
	}
	return m, nil
}

// Format initializes a brand-new bitmap: every bit clear except the
// reserved prefix, and persists it.
func Format(cache *bufcache.Cache, bitmapSector block.SectorNum, nbits, reserve int) (*Map, error) {
	m := &Map{
		cache:   cache,
		sector:  bitmapSector,
		bits:    make([]byte, (nbits+7)/8),
		nbits:   nbits,
		reserve: reserve,
	}
	for i := 0; i < reserve; i++ {
		m.setBit(i, true)
	}
	if err := m.persistLocked(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Map) bitSet(i int) bool {
	return m.bits[i/8]&(1<<uint(i%8)) != 0
}

func (m *Map) setBit(i int, v bool) {
	if v {
		m.bits[i/8] |= 1 << uint(i%8)
	} else {
		m.bits[i/8] &^= 1 << uint(i%8)
	}
}

// Allocate finds and marks a single free sector, returning its number.
func (m *Map) Allocate() (block.SectorNum, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := m.reserve; i < m.nbits; i++ {
		if !m.bitSet(i) {
			m.setBit(i, true)
			if err := m.persistLocked(); err != nil {
				m.setBit(i, false)
				return 0, false, err
			}
			return block.SectorNum(i), true, nil
		}
	}
	return 0, false, nil
}

// Release returns sec to the free pool.
func (m *Map) Release(sec block.SectorNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := int(sec)
	if i < m.reserve {
		panic(fmt.Sprintf("freemap: release of reserved sector %d", sec))
	}
	if !m.bitSet(i) {
		panic(fmt.Sprintf("freemap: double release of sector %d", sec))
	}
	m.setBit(i, false)
	return m.persistLocked()
}

// persistLocked writes the whole bitmap back through the buffer cache.
// REQUIRES: m.mu held.
func (m *Map) persistLocked() error {
	remaining := len(m.bits)
	ofs := 0
	for remaining > 0 {
		n := remaining
		if n > block.SectorSize {
			n = block.SectorSize
		}
		if err := m.cache.Write(m.sector+block.SectorNum(ofs/block.SectorSize), m.bits[ofs:ofs+n], 0, n); err != nil {
			return fmt.Errorf("freemap: persist: %w", err)
		}
		ofs += n
		remaining -= n
	}
	return nil
}

// SectorsNeeded returns how many sectors the bitmap itself occupies for a
// device of nbits sectors.
func SectorsNeeded(nbits int) int {
	nbytes := (nbits + 7) / 8
	return (nbytes + block.SectorSize - 1) / block.SectorSize
}

// UsedCount returns how many of the nbits tracked sectors are currently
// allocated, reserved sectors included.
func (m *Map) UsedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := 0
	for i := 0; i < m.nbits; i++ {
		if m.bitSet(i) {
			used++
		}
	}
	return used
}

// TotalCount returns the number of sectors the bitmap tracks.
func (m *Map) TotalCount() int {
	return m.nbits
}
