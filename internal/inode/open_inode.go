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
	"sync"

	"github.com/kernellab/diskfs/internal/block"
)

// OpenInode is the in-memory handle shared by every FileHandle opened on
// the same sector. Mu serializes Extend with itself and with length
// reads during extension.
type OpenInode struct {
	Sector block.SectorNum

	Mu sync.Mutex // GUARDED_BY: openCount, denyWriteCount, removed, and extend

	openCount      int
	denyWriteCount int
	removed        bool
}

// openTable is the process-wide list of currently-open inodes: opening a
// sector already open increments its count and returns the existing
// handle instead of allocating a second one.
type openTable struct {
	mu    sync.Mutex
	table map[block.SectorNum]*OpenInode
}

func newOpenTable() *openTable {
	return &openTable{table: make(map[block.SectorNum]*OpenInode)}
}

// open returns the handle for sec, creating one with openCount 1 if none
// exists yet, or incrementing openCount on an existing one.
func (t *openTable) open(sec block.SectorNum) *OpenInode {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.table[sec]; ok {
		h.Mu.Lock()
		h.openCount++
		h.Mu.Unlock()
		return h
	}
	h := &OpenInode{Sector: sec, openCount: 1}
	t.table[sec] = h
	return h
}

// reopen increments h's open count without going through the table (the
// caller already holds a reference).
func (t *openTable) reopen(h *OpenInode) {
	h.Mu.Lock()
	h.openCount++
	h.Mu.Unlock()
}

// close decrements h's open count. When it reaches zero the handle is
// removed from the table and lastClose reports true so the caller can
// release its sectors if it was marked removed.
func (t *openTable) close(h *OpenInode) (lastClose bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h.Mu.Lock()
	h.openCount--
	last := h.openCount == 0
	h.Mu.Unlock()

	if last {
		delete(t.table, h.Sector)
	}
	return last
}

func (h *OpenInode) markRemoved() {
	h.Mu.Lock()
	h.removed = true
	h.Mu.Unlock()
}

func (h *OpenInode) isRemoved() bool {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	return h.removed
}

// DenyWrite increments the deny-write counter. INVARIANT: 0 <= deny <=
// open_count.
func (h *OpenInode) DenyWrite() {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	h.denyWriteCount++
	if h.denyWriteCount > h.openCount {
		panic("inode: deny_write_count exceeded open_count")
	}
}

// AllowWrite decrements the deny-write counter.
func (h *OpenInode) AllowWrite() {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	if h.denyWriteCount == 0 {
		panic("inode: allow_write underflow")
	}
	h.denyWriteCount--
}

func (h *OpenInode) DenyWriteCount() int {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	return h.denyWriteCount
}

func (h *OpenInode) OpenCount() int {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	return h.openCount
}
