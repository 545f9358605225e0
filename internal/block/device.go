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

// Package block is the opaque, sector-granular read/write adapter over a
// fixed disk image. It is the leaf of the dependency chain: the buffer
// cache is its only caller.
package block

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SectorSize is the fixed size, in bytes, of every sector on the device.
const SectorSize = 512

// SectorNum identifies a sector; always non-negative.
type SectorNum uint32

// Device is the minimal surface the buffer cache needs from the backing
// disk: whole-sector reads and writes, sized exactly SectorSize.
type Device interface {
	ReadSector(sec SectorNum, dst []byte) error
	WriteSector(sec SectorNum, src []byte) error
	SectorCount() SectorNum
	Close() error
}

// FileDevice backs a Device with a single regular file: a disk image.
// It takes an advisory exclusive flock for the lifetime of the mount, the
// way a kernel would refuse to share a raw block device between two
// instances.
type FileDevice struct {
	f       *os.File
	sectors SectorNum
}

// OpenFileDevice opens (or creates, when create is true) path as a disk
// image of the given sector count and returns a Device over it.
func OpenFileDevice(path string, sectors SectorNum, create bool) (*FileDevice, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("block: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("block: flock %s: %w", path, err)
	}

	size := int64(sectors) * SectorSize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("block: truncate %s: %w", path, err)
		}
	} else if !create {
		sectors = SectorNum(info.Size() / SectorSize)
	}

	return &FileDevice{f: f, sectors: sectors}, nil
}

func (d *FileDevice) SectorCount() SectorNum { return d.sectors }

func (d *FileDevice) ReadSector(sec SectorNum, dst []byte) error {
	if len(dst) != SectorSize {
		return fmt.Errorf("block: ReadSector dst must be %d bytes, got %d", SectorSize, len(dst))
	}
	if sec >= d.sectors {
		return fmt.Errorf("block: sector %d out of range (count %d)", sec, d.sectors)
	}
	_, err := d.f.ReadAt(dst, int64(sec)*SectorSize)
	return err
}

func (d *FileDevice) WriteSector(sec SectorNum, src []byte) error {
	if len(src) != SectorSize {
		return fmt.Errorf("block: WriteSector src must be %d bytes, got %d", SectorSize, len(src))
	}
	if sec >= d.sectors {
		return fmt.Errorf("block: sector %d out of range (count %d)", sec, d.sectors)
	}
	_, err := d.f.WriteAt(src, int64(sec)*SectorSize)
	return err
}

func (d *FileDevice) Close() error {
	_ = unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
	return d.f.Close()
}
