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

// Package directory stores name -> inode-sector entries inside an
// ordinary file. Resolving a multi-component path into a sequence of
// directory lookups is the caller's job; this package only knows how
// to read and rewrite the entry list of a single, already-located
// directory.
package directory

import (
	"encoding/binary"
	"fmt"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/filehandle"
	"github.com/kernellab/diskfs/internal/inode"
)

const (
	maxNameLen  = 32
	entrySize   = 4 + maxNameLen + 1 // sector + name + in-use flag
	nameOffset  = 4
	usedOffset  = 4 + maxNameLen
)

// Entry is one name -> inode-sector binding.
type Entry struct {
	Name   string
	Sector block.SectorNum
}

// Directory is a file holding a sequence of fixed-size entries.
type Directory struct {
	table *inode.Table
	h     *filehandle.Handle
	self  block.SectorNum // this directory's own inode sector
}

// Create formats sec as an empty, zero-length directory with the given
// parent. Sectors the file later grows into are zeroed by inode.Extend.
func Create(table *inode.Table, sec, parent block.SectorNum) error {
	ok, err := table.Create(sec, 0, true)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("directory: create: failed to allocate inode at sector %d", sec)
	}
	open := table.Open(sec)
	defer table.Close(open)
	return table.SetParent(open, parent)
}

// Open wraps an already-open directory inode for entry manipulation.
func Open(table *inode.Table, h *filehandle.Handle, self block.SectorNum) *Directory {
	return &Directory{table: table, h: h, self: self}
}

func encodeEntry(name string, sector block.SectorNum, used bool) [entrySize]byte {
	var buf [entrySize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(sector))
	copy(buf[nameOffset:nameOffset+maxNameLen], name)
	if used {
		buf[usedOffset] = 1
	}
	return buf
}

func decodeEntry(buf []byte) (Entry, bool) {
	sector := block.SectorNum(binary.LittleEndian.Uint32(buf[0:4]))
	used := buf[usedOffset] != 0
	nameBytes := buf[nameOffset:usedOffset]
	end := len(nameBytes)
	for i, b := range nameBytes {
		if b == 0 {
			end = i
			break
		}
	}
	return Entry{Name: string(nameBytes[:end]), Sector: sector}, used
}

// Lookup scans for name, returning its inode sector.
func (d *Directory) Lookup(name string) (block.SectorNum, bool, error) {
	length, err := d.h.Length()
	if err != nil {
		return 0, false, err
	}
	count := int(length) / entrySize

	buf := make([]byte, entrySize)
	for i := 0; i < count; i++ {
		if _, err := d.h.ReadAt(buf, entrySize, int64(i*entrySize)); err != nil {
			return 0, false, err
		}
		e, used := decodeEntry(buf)
		if used && e.Name == name {
			return e.Sector, true, nil
		}
	}
	return 0, false, nil
}

// Add inserts name -> sector, reusing the first free slot if one exists,
// and fails if name is already present.
func (d *Directory) Add(name string, sector block.SectorNum) error {
	if len(name) == 0 || len(name) > maxNameLen {
		return fmt.Errorf("directory: invalid name length %d", len(name))
	}
	if _, found, err := d.Lookup(name); err != nil {
		return err
	} else if found {
		return fmt.Errorf("directory: %q already exists", name)
	}

	length, err := d.h.Length()
	if err != nil {
		return err
	}
	count := int(length) / entrySize

	buf := make([]byte, entrySize)
	for i := 0; i < count; i++ {
		if _, err := d.h.ReadAt(buf, entrySize, int64(i*entrySize)); err != nil {
			return err
		}
		if _, used := decodeEntry(buf); !used {
			enc := encodeEntry(name, sector, true)
			_, err := d.h.WriteAt(enc[:], entrySize, int64(i*entrySize))
			return err
		}
	}

	enc := encodeEntry(name, sector, true)
	_, err = d.h.WriteAt(enc[:], entrySize, int64(count*entrySize))
	return err
}

// Remove clears name's entry, freeing its slot for reuse.
func (d *Directory) Remove(name string) error {
	length, err := d.h.Length()
	if err != nil {
		return err
	}
	count := int(length) / entrySize

	buf := make([]byte, entrySize)
	for i := 0; i < count; i++ {
		if _, err := d.h.ReadAt(buf, entrySize, int64(i*entrySize)); err != nil {
			return err
		}
		e, used := decodeEntry(buf)
		if used && e.Name == name {
			enc := encodeEntry("", 0, false)
			_, err := d.h.WriteAt(enc[:], entrySize, int64(i*entrySize))
			return err
		}
	}
	return fmt.Errorf("directory: %q not found", name)
}

// List returns every in-use entry, in on-disk order. "." and ".." are
// not stored as entries; callers resolve them via Self and the inode's
// parent sector (inode.Table.Parent) instead.
func (d *Directory) List() ([]Entry, error) {
	length, err := d.h.Length()
	if err != nil {
		return nil, err
	}
	count := int(length) / entrySize

	var entries []Entry
	buf := make([]byte, entrySize)
	for i := 0; i < count; i++ {
		if _, err := d.h.ReadAt(buf, entrySize, int64(i*entrySize)); err != nil {
			return nil, err
		}
		if e, used := decodeEntry(buf); used {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Self returns this directory's own inode sector, i.e. what "." resolves to.
func (d *Directory) Self() block.SectorNum {
	return d.self
}

// IsEmpty reports whether the directory holds no entries, the
// precondition for removing it.
func (d *Directory) IsEmpty() (bool, error) {
	entries, err := d.List()
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
