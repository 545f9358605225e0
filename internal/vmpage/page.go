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

// Package vmpage is the per-process supplemental page table: metadata
// for every virtual page the kernel has promised but not necessarily
// materialized in a frame yet -- file-backed, zero-filled, or swapped
// out.
package vmpage

import (
	"sync"

	"github.com/kernellab/diskfs/internal/filehandle"
	"github.com/kernellab/diskfs/internal/vmframe"
)

// Kind distinguishes how a page's bytes are (or will be) sourced.
type Kind int

const (
	// FileBacked pages are lazily read from a file on first fault and
	// (if writable and dirty) written back on eviction/unmap.
	FileBacked Kind = iota
	// Zero pages are zero-filled on first fault (anonymous memory).
	Zero
	// Swapped pages currently live in the swap area, not a file.
	Swapped
)

// Entry is one virtual page's supplemental metadata.
type Entry struct {
	Kind Kind

	// File-backed fields.
	File      *filehandle.Handle
	FileOfs   int64
	ReadBytes int
	Writable  bool
	MapID     int

	// Present, when true, means Frame is valid and holds this page's
	// current contents.
	Present bool
	Frame   vmframe.Frame
}

// Table is one process's virtual-address -> Entry map.
type Table struct {
	mu      sync.Mutex
	entries map[uintptr]*Entry
}

// NewTable returns an empty supplemental page table.
func NewTable() *Table {
	return &Table{entries: make(map[uintptr]*Entry)}
}

// Install records a fresh entry for addr, failing if addr is already
// mapped.
func (t *Table) Install(addr uintptr, e Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[addr]; exists {
		return false
	}
	entry := e
	t.entries[addr] = &entry
	return true
}

// Lookup returns addr's entry, if any.
func (t *Table) Lookup(addr uintptr) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	return e, ok
}

// Remove deletes addr's entry.
func (t *Table) Remove(addr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, addr)
}

// PagesForMapID returns every address tagged with mapid, in ascending
// order, for munmap's walk.
func (t *Table) PagesForMapID(mapid int) []uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	var addrs []uintptr
	for addr, e := range t.entries {
		if e.Kind == FileBacked && e.MapID == mapid {
			addrs = append(addrs, addr)
		}
	}
	for i := 1; i < len(addrs); i++ {
		for j := i; j > 0 && addrs[j-1] > addrs[j]; j-- {
			addrs[j-1], addrs[j] = addrs[j], addrs[j-1]
		}
	}
	return addrs
}
