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

// Package vmmmap installs and tears down file-backed page ranges in a process's supplemental page table. Each mapped page
// is backed by a real anonymous mmap'd region (golang.org/x/sys/unix)
// standing in for a physical frame, since this kernel has no actual MMU
// to program; the page-fault path that would consult the frame
// allocator on a real port instead eagerly faults in every covered page
// at Mmap time.
package vmmmap

import (
	"fmt"

	"github.com/kernellab/diskfs/internal/process"
	"github.com/kernellab/diskfs/internal/usermem"
	"github.com/kernellab/diskfs/internal/vmframe"
	"github.com/kernellab/diskfs/internal/vmpage"
	"golang.org/x/sys/unix"
)

const pageSize = 4096

// Bridge implements syscall.MmapBridge.
type Bridge struct {
	frames  *vmframe.Allocator
	pages   map[*process.Process]*vmpage.Table
	regions map[int][]byte // mapid -> backing anonymous mapping, for Munmap's unix.Munmap
}

// New returns an mmap bridge that books its faulted-in pages against
// frames, a fixed pool of physical-frame bookkeeping slots.
func New(frames *vmframe.Allocator) *Bridge {
	return &Bridge{
		frames:  frames,
		pages:   make(map[*process.Process]*vmpage.Table),
		regions: make(map[int][]byte),
	}
}

func (b *Bridge) tableFor(proc *process.Process) *vmpage.Table {
	t, ok := b.pages[proc]
	if !ok {
		t = vmpage.NewTable()
		b.pages[proc] = t
	}
	return t
}

// Mmap maps fd's file starting at addr, one page per ceil(length/pageSize)
// chunk, each read from the file and faulted in eagerly here since
// there is no real page-fault path in this simulation.
func (b *Bridge) Mmap(proc *process.Process, mem usermem.AddressSpace, fd int, addr uintptr) (int, error) {
	if addr == 0 || addr%pageSize != 0 {
		return 0, fmt.Errorf("vmmmap: addr %#x not page-aligned", addr)
	}
	if fd == 0 || fd == 1 {
		return 0, fmt.Errorf("vmmmap: fd %d cannot be mapped", fd)
	}
	h, ok := proc.FDs.Get(fd)
	if !ok {
		return 0, fmt.Errorf("vmmmap: fd %d not open", fd)
	}
	length, err := h.Length()
	if err != nil || length <= 0 {
		return 0, fmt.Errorf("vmmmap: file has non-positive length")
	}

	table := b.tableFor(proc)
	numPages := int((length + pageSize - 1) / pageSize)
	for i := 0; i < numPages; i++ {
		if _, exists := table.Lookup(addr + uintptr(i*pageSize)); exists {
			return 0, fmt.Errorf("vmmmap: range already mapped")
		}
	}

	region, err := unix.Mmap(-1, 0, numPages*pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, fmt.Errorf("vmmmap: anonymous mmap: %w", err)
	}

	mapid := proc.NextMapID()
	installed := 0
	for i := 0; i < numPages; i++ {
		ofs := int64(i * pageSize)
		readBytes := int(length - ofs)
		if readBytes > pageSize {
			readBytes = pageSize
		}

		chunk := region[i*pageSize : i*pageSize+readBytes]
		if _, err := h.ReadAt(chunk, readBytes, ofs); err != nil {
			b.rollback(proc, table, region, addr, installed, mapid)
			return 0, fmt.Errorf("vmmmap: populate page %d: %w", i, err)
		}

		frame, ok := b.frames.Allocate(vmframe.Owner{})
		if !ok {
			if victim, _, evictErr := b.frames.Evict(func(vmframe.Owner) bool { return true }); evictErr == nil {
				b.frames.Free(victim)
				frame, ok = b.frames.Allocate(vmframe.Owner{})
			}
		}
		if !ok {
			b.rollback(proc, table, region, addr, installed, mapid)
			return 0, fmt.Errorf("vmmmap: no frames available for page %d", i)
		}

		installedOK := table.Install(addr+uintptr(i*pageSize), vmpage.Entry{
			Kind:      vmpage.FileBacked,
			File:      h,
			FileOfs:   ofs,
			ReadBytes: readBytes,
			Writable:  true,
			MapID:     mapid,
			Present:   true,
			Frame:     frame,
		})
		if !installedOK {
			b.frames.Free(frame)
			b.rollback(proc, table, region, addr, installed, mapid)
			return 0, fmt.Errorf("vmmmap: page %d already mapped", i)
		}
		installed++

		if err := mem.CopyOut(addr+uintptr(i*pageSize), chunk); err != nil {
			b.rollback(proc, table, region, addr, installed, mapid)
			return 0, fmt.Errorf("vmmmap: copy into user space: %w", err)
		}
	}

	b.regions[mapid] = region
	return mapid, nil
}

func (b *Bridge) rollback(proc *process.Process, table *vmpage.Table, region []byte, addr uintptr, installed, mapid int) {
	for i := 0; i < installed; i++ {
		table.Remove(addr + uintptr(i*pageSize))
	}
	unix.Munmap(region)
	proc.ReleaseMapID(mapid)
}

// Munmap writes every faulted-in page's bytes back to the file, whether
// or not they were modified (the bridge does not track which pages were
// written), then tears down the whole mapping.
func (b *Bridge) Munmap(proc *process.Process, mem usermem.AddressSpace, mapid int) error {
	table, ok := b.pages[proc]
	if !ok {
		return fmt.Errorf("vmmmap: process has no mappings")
	}
	addrs := table.PagesForMapID(mapid)
	if len(addrs) == 0 {
		return fmt.Errorf("vmmmap: mapid %d not found", mapid)
	}

	for _, addr := range addrs {
		e, ok := table.Lookup(addr)
		if !ok {
			continue
		}
		if e.Present {
			buf := make([]byte, e.ReadBytes)
			if err := mem.CopyIn(buf, addr); err == nil {
				e.File.WriteAt(buf, e.ReadBytes, e.FileOfs)
			}
			b.frames.Free(e.Frame)
		}
		table.Remove(addr)
	}

	if region, ok := b.regions[mapid]; ok {
		unix.Munmap(region)
		delete(b.regions, mapid)
	}
	proc.ReleaseMapID(mapid)
	return nil
}
