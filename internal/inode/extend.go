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

package inode

import (
	"context"
	"fmt"

	"github.com/kernellab/diskfs/internal/block"
)

// Extend grows h by extraBytes, allocating and zeroing whatever new data
// and index sectors are required. It returns the number of bytes it
// actually managed to install before a free-map exhaustion (or other
// error) cut it short, so the caller can treat a partial extension as a
// short write rather than losing already-installed sectors. On total
// success grown == extraBytes.
//
// The inode record is written once per call: at the end, or, when an
// allocation fails part way, with its length cut to the sectors installed
// so far, so a disk-full mid-extend leaves a shorter-but-consistent file
// instead of a torn one.
func (t *Table) Extend(h *OpenInode, extraBytes int64) (int64, error) {
	h.Mu.Lock()
	defer h.Mu.Unlock()

	d, err := t.readDisk(h.Sector)
	if err != nil {
		return 0, err
	}

	oldLength := d.length
	newLength := oldLength + extraBytes
	oldSectors := bytesToSectors(oldLength)
	newSectors := bytesToSectors(newLength)

	var grown int64
	for d.sectorCount < newSectors {
		sec, ok, err := t.free.Allocate()
		if err != nil {
			return grown, err
		}
		if !ok {
			// Free map exhausted: commit what we have and stop.
			d.length = oldLength + grown
			if werr := t.writeDisk(h.Sector, d); werr != nil {
				return grown, werr
			}
			return grown, fmt.Errorf("inode: extend: free map exhausted")
		}

		if err := t.zeroSector(sec); err != nil {
			return grown, err
		}
		if err := t.installSector(&d, sec); err != nil {
			// Commit the sectors installed so far before giving up.
			d.length = oldLength + grown
			if werr := t.writeDisk(h.Sector, d); werr != nil {
				return grown, werr
			}
			return grown, err
		}
		d.sectorCount++

		installed := d.sectorCount - oldSectors
		grown = installed * block.SectorSize
		if oldLength+grown > newLength {
			grown = extraBytes
		}
	}

	d.length = newLength
	if err := t.writeDisk(h.Sector, d); err != nil {
		return grown, err
	}
	if t.metrics != nil {
		t.metrics.InodeExtendCount(context.Background(), 1)
	}
	return extraBytes, nil
}

func (t *Table) zeroSector(sec block.SectorNum) error {
	var zero [block.SectorSize]byte
	return t.cache.Write(sec, zero[:], 0, block.SectorSize)
}

// installSector places sec at index d.sectorCount within d, allocating
// and zeroing the single-indirect or double-indirect index block the
// first time an entry in it is needed.
func (t *Table) installSector(d *onDiskInode, sec block.SectorNum) error {
	idx := d.sectorCount

	switch {
	case idx < DirectBlocks:
		d.directs[idx] = sec
		return nil

	case idx < DirectBlocks+IndirectEntries:
		if d.indirect == 0 {
			is, ok, err := t.free.Allocate()
			if err != nil {
				return err
			}
			if !ok {
				t.free.Release(sec)
				return fmt.Errorf("inode: extend: free map exhausted allocating indirect block")
			}
			if err := t.zeroSector(is); err != nil {
				return err
			}
			d.indirect = is
		}
		return t.setIndirectEntry(d.indirect, int(idx-DirectBlocks), sec)

	case idx < DirectBlocks+IndirectEntries+DoubleIndirectBlocks:
		if d.doubleIndrect == 0 {
			ds, ok, err := t.free.Allocate()
			if err != nil {
				return err
			}
			if !ok {
				t.free.Release(sec)
				return fmt.Errorf("inode: extend: free map exhausted allocating double-indirect block")
			}
			if err := t.zeroSector(ds); err != nil {
				return err
			}
			d.doubleIndrect = ds
		}

		entry := idx - DirectBlocks - IndirectEntries
		outer := int(entry / IndirectEntries)
		inner := int(entry % IndirectEntries)

		var raw [block.SectorSize]byte
		if err := t.cache.Read(d.doubleIndrect, raw[:], 0, block.SectorSize); err != nil {
			return err
		}
		outerBlock := decodeIndirect(raw[:])

		if outerBlock[outer] == 0 {
			is, ok, err := t.free.Allocate()
			if err != nil {
				return err
			}
			if !ok {
				t.free.Release(sec)
				return fmt.Errorf("inode: extend: free map exhausted allocating second-level indirect block")
			}
			if err := t.zeroSector(is); err != nil {
				return err
			}
			outerBlock[outer] = is
			buf := outerBlock.encode()
			if err := t.cache.Write(d.doubleIndrect, buf[:], 0, block.SectorSize); err != nil {
				return err
			}
		}
		return t.setIndirectEntry(outerBlock[outer], inner, sec)

	default:
		return fmt.Errorf("inode: extend: sector index %d exceeds max file size", idx)
	}
}

func (t *Table) setIndirectEntry(indirectSector block.SectorNum, offset int, sec block.SectorNum) error {
	var raw [block.SectorSize]byte
	if err := t.cache.Read(indirectSector, raw[:], 0, block.SectorSize); err != nil {
		return err
	}
	ib := decodeIndirect(raw[:])
	ib[offset] = sec
	buf := ib.encode()
	return t.cache.Write(indirectSector, buf[:], 0, block.SectorSize)
}

// clear releases every data sector and every index sector belonging to
// h, in reverse order (double-indirect leaves, then the double-indirect
// block itself, then the single-indirect block, then direct sectors),
// mirroring inode_clear's teardown order.
func (t *Table) clear(h *OpenInode) error {
	d, err := t.readDisk(h.Sector)
	if err != nil {
		return err
	}

	if d.doubleIndrect != 0 {
		var raw [block.SectorSize]byte
		if err := t.cache.Read(d.doubleIndrect, raw[:], 0, block.SectorSize); err != nil {
			return err
		}
		outerBlock := decodeIndirect(raw[:])
		for _, is := range outerBlock {
			if is == 0 {
				continue
			}
			if err := t.releaseIndirect(is); err != nil {
				return err
			}
		}
		if err := t.free.Release(d.doubleIndrect); err != nil {
			return err
		}
	}

	if d.indirect != 0 {
		if err := t.releaseIndirect(d.indirect); err != nil {
			return err
		}
	}

	for _, sec := range d.directs {
		if sec != 0 {
			if err := t.free.Release(sec); err != nil {
				return err
			}
		}
	}

	return nil
}

func (t *Table) releaseIndirect(indirectSector block.SectorNum) error {
	var raw [block.SectorSize]byte
	if err := t.cache.Read(indirectSector, raw[:], 0, block.SectorSize); err != nil {
		return err
	}
	ib := decodeIndirect(raw[:])
	for _, sec := range ib {
		if sec != 0 {
			if err := t.free.Release(sec); err != nil {
				return err
			}
		}
	}
	return t.free.Release(indirectSector)
}
