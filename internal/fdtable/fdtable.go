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

// Package fdtable is a per-process map from small file descriptors to
// open file handles. FD 0 and 1 are reserved for the console and never
// handed out by Open.
package fdtable

import (
	"fmt"
	"sync"

	"github.com/kernellab/diskfs/internal/filehandle"
)

const (
	// StdinFD is reserved for keyboard input; Table never allocates it.
	StdinFD = 0
	// StdoutFD is reserved for console output; Table never allocates it.
	StdoutFD = 1

	firstAllocatable = 2
)

// Table is a process's FD -> file-handle map.
type Table struct {
	mu      sync.Mutex
	entries map[int]*filehandle.Handle
	next    int
}

// New returns an empty table; the first Open call returns FD 2.
func New() *Table {
	return &Table{entries: make(map[int]*filehandle.Handle), next: firstAllocatable}
}

// Open installs h under a fresh descriptor and returns it. Descriptors
// are handed out monotonically and never reused within a process's
// lifetime, even after Close: the table grows rather than recycling low
// numbers, which would let a stale FD from one open alias a different,
// later file.
func (t *Table) Open(h *filehandle.Handle) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.entries[fd] = h
	return fd
}

// Get returns the handle for fd, if any.
func (t *Table) Get(fd int) (*filehandle.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.entries[fd]
	return h, ok
}

// Close removes fd from the table and closes its handle. Closing an
// unknown fd is an error: the syscall dispatcher is expected to have
// already validated fd against Get before acting on it.
func (t *Table) Close(fd int) error {
	t.mu.Lock()
	h, ok := t.entries[fd]
	if ok {
		delete(t.entries, fd)
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("fdtable: close: fd %d not open", fd)
	}
	return h.Close()
}

// Entries returns a snapshot of every live fd -> handle pair, for EXEC
// to hand to a child's inherited table. The handles themselves are
// shared, not reopened: a parent and child writing through the same
// inherited fd are writing through the same Handle, with the same
// cursor.
func (t *Table) Entries() map[int]*filehandle.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]*filehandle.Handle, len(t.entries))
	for fd, h := range t.entries {
		out[fd] = h
	}
	return out
}

// NewInherited returns a table pre-populated with entries under their
// existing fd numbers, the way EXEC carries a parent's open descriptors
// into the child. The next fresh fd is allocated above the highest
// inherited one so a later Open in the child can't collide.
func NewInherited(entries map[int]*filehandle.Handle) *Table {
	t := New()
	for fd, h := range entries {
		t.entries[fd] = h
		if fd+1 > t.next {
			t.next = fd + 1
		}
	}
	return t
}

// CloseAll closes every still-open descriptor, the way process exit
// tears down its FD table regardless of which files a process forgot to
// close explicitly.
func (t *Table) CloseAll() {
	t.mu.Lock()
	handles := make([]*filehandle.Handle, 0, len(t.entries))
	for fd, h := range t.entries {
		handles = append(handles, h)
		delete(t.entries, fd)
	}
	t.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}
