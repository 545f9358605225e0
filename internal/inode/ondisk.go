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

// Package inode implements multi-level indexed on-disk inodes: direct,
// single-indirect, and double-indirect block pointers, an open-inode
// table that shares handles across repeated opens of the same sector, and
// byte-addressed reads/writes that extend the file on demand.
package inode

import (
	"encoding/binary"

	"github.com/kernellab/diskfs/internal/block"
)

const (
	DirectBlocks         = 12
	IndirectEntries      = 128
	DoubleIndirectBlocks = IndirectEntries * IndirectEntries
	Magic                = 0x494e4f44

	offsetLength        = 0
	offsetSectorCount   = 4
	offsetIsDir         = 8
	offsetParent        = 12
	offsetDirects       = 16
	offsetIndirect      = 16 + DirectBlocks*4
	offsetDoubleIndrect = offsetIndirect + 4
	offsetMagic         = offsetDoubleIndrect + 4

	// MaxBytes is the largest file size this layout can address.
	MaxBytes = int64(DirectBlocks+IndirectEntries+DoubleIndirectBlocks) * block.SectorSize
)

// onDiskInode is the exactly-one-sector on-disk record. It is never
// retained across calls; every query re-reads it through the buffer
// cache, by design, so there is no in-memory copy to keep coherent with
// the disk.
type onDiskInode struct {
	length        int64
	sectorCount   int64
	isDir         bool
	parent        block.SectorNum
	directs       [DirectBlocks]block.SectorNum
	indirect      block.SectorNum
	doubleIndrect block.SectorNum
}

func decodeOnDisk(buf []byte) onDiskInode {
	var d onDiskInode
	d.length = int64(binary.LittleEndian.Uint32(buf[offsetLength:]))
	d.sectorCount = int64(binary.LittleEndian.Uint32(buf[offsetSectorCount:]))
	d.isDir = binary.LittleEndian.Uint32(buf[offsetIsDir:]) != 0
	d.parent = block.SectorNum(binary.LittleEndian.Uint32(buf[offsetParent:]))
	for i := 0; i < DirectBlocks; i++ {
		d.directs[i] = block.SectorNum(binary.LittleEndian.Uint32(buf[offsetDirects+i*4:]))
	}
	d.indirect = block.SectorNum(binary.LittleEndian.Uint32(buf[offsetIndirect:]))
	d.doubleIndrect = block.SectorNum(binary.LittleEndian.Uint32(buf[offsetDoubleIndrect:]))
	return d
}

func (d onDiskInode) encode() [block.SectorSize]byte {
	var buf [block.SectorSize]byte
	binary.LittleEndian.PutUint32(buf[offsetLength:], uint32(d.length))
	binary.LittleEndian.PutUint32(buf[offsetSectorCount:], uint32(d.sectorCount))
	if d.isDir {
		binary.LittleEndian.PutUint32(buf[offsetIsDir:], 1)
	}
	binary.LittleEndian.PutUint32(buf[offsetParent:], uint32(d.parent))
	for i := 0; i < DirectBlocks; i++ {
		binary.LittleEndian.PutUint32(buf[offsetDirects+i*4:], uint32(d.directs[i]))
	}
	binary.LittleEndian.PutUint32(buf[offsetIndirect:], uint32(d.indirect))
	binary.LittleEndian.PutUint32(buf[offsetDoubleIndrect:], uint32(d.doubleIndrect))
	binary.LittleEndian.PutUint32(buf[offsetMagic:], Magic)
	return buf
}

func bytesToSectors(size int64) int64 {
	return (size + block.SectorSize - 1) / block.SectorSize
}

// indirectBlock is a sector's worth of little-endian sector pointers.
type indirectBlock [IndirectEntries]block.SectorNum

func decodeIndirect(buf []byte) indirectBlock {
	var ib indirectBlock
	for i := 0; i < IndirectEntries; i++ {
		ib[i] = block.SectorNum(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return ib
}

func (ib indirectBlock) encode() [block.SectorSize]byte {
	var buf [block.SectorSize]byte
	for i := 0; i < IndirectEntries; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(ib[i]))
	}
	return buf
}
