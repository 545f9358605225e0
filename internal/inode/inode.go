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
	"github.com/kernellab/diskfs/internal/bufcache"
	"github.com/kernellab/diskfs/internal/freemap"
	"github.com/kernellab/diskfs/internal/metrics"
)

// Table is the inode layer's public surface: it owns the open-inode
// table and mediates every on-disk inode access through the buffer
// cache and the free-sector map.
type Table struct {
	cache   *bufcache.Cache
	free    *freemap.Map
	open    *openTable
	metrics metrics.InodeMetricHandle
}

// NewTable builds an inode layer over cache and free, the way
// filesys_init wires cache_init, free_map_init, and inode_init together.
func NewTable(cache *bufcache.Cache, free *freemap.Map, m metrics.InodeMetricHandle) *Table {
	return &Table{cache: cache, free: free, open: newOpenTable(), metrics: m}
}

// Create writes a zeroed on-disk inode at sec, opens it, and extends it
// to length bytes. A zero-length create allocates no data sectors: the
// common case of creating an empty file never touches the free map.
func (t *Table) Create(sec block.SectorNum, length int64, isDir bool) (bool, error) {
	if length < 0 {
		return false, fmt.Errorf("inode: create: negative length %d", length)
	}

	var d onDiskInode
	d.isDir = isDir
	buf := d.encode()
	if err := t.cache.Write(sec, buf[:], 0, block.SectorSize); err != nil {
		return false, fmt.Errorf("inode: create: %w", err)
	}

	if length == 0 {
		return true, nil
	}

	h := t.Open(sec)
	defer t.Close(h)

	n, err := t.Extend(h, length)
	if err != nil {
		return false, err
	}
	return n == length, nil
}

// Open returns the shared handle for sec, incrementing its open count.
func (t *Table) Open(sec block.SectorNum) *OpenInode {
	return t.open.open(sec)
}

// Reopen increments h's open count.
func (t *Table) Reopen(h *OpenInode) {
	t.open.reopen(h)
}

// Close decrements h's open count. On the last close, if h was marked
// removed, its data sectors and its own inode sector are returned to the
// free map.
func (t *Table) Close(h *OpenInode) error {
	if !t.open.close(h) {
		return nil
	}
	if !h.isRemoved() {
		return nil
	}
	if err := t.clear(h); err != nil {
		return err
	}
	return t.free.Release(h.Sector)
}

// Remove marks h for deferred deletion; it does not free sectors until
// the last close.
func (t *Table) Remove(h *OpenInode) {
	h.markRemoved()
}

func (t *Table) readDisk(sec block.SectorNum) (onDiskInode, error) {
	var buf [block.SectorSize]byte
	if err := t.cache.Read(sec, buf[:], 0, block.SectorSize); err != nil {
		return onDiskInode{}, err
	}
	return decodeOnDisk(buf[:]), nil
}

func (t *Table) writeDisk(sec block.SectorNum, d onDiskInode) error {
	buf := d.encode()
	return t.cache.Write(sec, buf[:], 0, block.SectorSize)
}

// Length returns the file's current byte length.
func (t *Table) Length(h *OpenInode) (int64, error) {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	d, err := t.readDisk(h.Sector)
	if err != nil {
		return 0, err
	}
	return d.length, nil
}

// IsDir reports whether h's inode is a directory.
func (t *Table) IsDir(h *OpenInode) (bool, error) {
	d, err := t.readDisk(h.Sector)
	if err != nil {
		return false, err
	}
	return d.isDir, nil
}

// Parent returns the sector of h's parent directory inode.
func (t *Table) Parent(h *OpenInode) (block.SectorNum, error) {
	d, err := t.readDisk(h.Sector)
	if err != nil {
		return 0, err
	}
	return d.parent, nil
}

// SetParent sets h's parent directory sector.
func (t *Table) SetParent(h *OpenInode, parent block.SectorNum) error {
	d, err := t.readDisk(h.Sector)
	if err != nil {
		return err
	}
	d.parent = parent
	return t.writeDisk(h.Sector, d)
}

// Inumber returns the sector identifying h, used as the file's inode
// number.
func (t *Table) Inumber(h *OpenInode) block.SectorNum {
	return h.Sector
}

// byteToSector resolves the data sector holding byte offset pos, via the
// direct / single-indirect / double-indirect tiers.
func (t *Table) byteToSector(d onDiskInode, pos int64) (block.SectorNum, error) {
	blk := pos / block.SectorSize

	switch {
	case blk < DirectBlocks:
		return d.directs[blk], nil

	case blk < DirectBlocks+IndirectEntries:
		off := blk - DirectBlocks
		var raw [block.SectorSize]byte
		if err := t.cache.Read(d.indirect, raw[:], 0, block.SectorSize); err != nil {
			return 0, err
		}
		return decodeIndirect(raw[:])[off], nil

	case blk < DirectBlocks+IndirectEntries+DoubleIndirectBlocks:
		entry := blk - DirectBlocks - IndirectEntries
		outer := entry / IndirectEntries
		inner := entry % IndirectEntries

		var raw [block.SectorSize]byte
		if err := t.cache.Read(d.doubleIndrect, raw[:], 0, block.SectorSize); err != nil {
			return 0, err
		}
		indirectSector := decodeIndirect(raw[:])[outer]

		if err := t.cache.Read(indirectSector, raw[:], 0, block.SectorSize); err != nil {
			return 0, err
		}
		return decodeIndirect(raw[:])[inner], nil

	default:
		return 0, fmt.Errorf("inode: offset %d exceeds max file size %d", pos, MaxBytes)
	}
}

// ReadAt reads up to n bytes starting at ofs into dst, returning the
// number of bytes actually read. Reading past EOF returns 0.
func (t *Table) ReadAt(h *OpenInode, dst []byte, n int, ofs int64) (int, error) {
	d, err := t.readDisk(h.Sector)
	if err != nil {
		return 0, err
	}
	if ofs >= d.length {
		return 0, nil
	}
	if int64(n) > d.length-ofs {
		n = int(d.length - ofs)
	}

	read := 0
	for read < n {
		pos := ofs + int64(read)
		sectorOfs := int(pos % block.SectorSize)
		chunk := block.SectorSize - sectorOfs
		if remain := n - read; chunk > remain {
			chunk = remain
		}

		sec, err := t.byteToSector(d, pos)
		if err != nil {
			return read, err
		}
		if err := t.cache.Read(sec, dst[read:read+chunk], sectorOfs, chunk); err != nil {
			return read, err
		}
		read += chunk
	}
	return read, nil
}

// WriteAt writes n bytes from src starting at ofs, extending the file
// first if ofs+n exceeds the current length. If extension only partially
// succeeds, WriteAt returns the number of bytes actually writable into
// the new, possibly shorter, length -- a short write, never an error on
// its own.
func (t *Table) WriteAt(h *OpenInode, src []byte, n int, ofs int64) (int, error) {
	if h.DenyWriteCount() > 0 {
		return 0, fmt.Errorf("inode: write denied: deny_write_count > 0")
	}

	d, err := t.readDisk(h.Sector)
	if err != nil {
		return 0, err
	}

	want := ofs + int64(n)
	if want > d.length {
		extra := want - d.length
		grew, extErr := t.Extend(h, extra)
		if grew < extra {
			// Clamp n to what actually fits in the new length.
			d, err = t.readDisk(h.Sector)
			if err != nil {
				return 0, err
			}
			if ofs >= d.length {
				if t.metrics != nil {
					t.metrics.InodeShortWriteCount(context.Background(), 1)
				}
				return 0, extErr
			}
			n = int(d.length - ofs)
		} else if extErr != nil {
			return 0, extErr
		} else {
			d, err = t.readDisk(h.Sector)
			if err != nil {
				return 0, err
			}
		}
	}

	written := 0
	for written < n {
		pos := ofs + int64(written)
		sectorOfs := int(pos % block.SectorSize)
		chunk := block.SectorSize - sectorOfs
		if remain := n - written; chunk > remain {
			chunk = remain
		}

		sec, err := t.byteToSector(d, pos)
		if err != nil {
			return written, err
		}
		if err := t.cache.Write(sec, src[written:written+chunk], sectorOfs, chunk); err != nil {
			return written, err
		}
		written += chunk
	}
	if written < n && t.metrics != nil {
		t.metrics.InodeShortWriteCount(context.Background(), 1)
	}
	return written, nil
}
