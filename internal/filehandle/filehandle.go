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

// Package filehandle wraps an open inode with the per-open-call state a
// process-facing file descriptor needs: a cursor position and a
// deny-write flag for executables currently running off this file.
package filehandle

import (
	"sync"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/inode"
)

// Handle is one process's view of an open file: the shared inode handle
// plus a private seek position.
type Handle struct {
	table *inode.Table
	open  *inode.OpenInode

	mu        sync.Mutex
	pos       int64
	denyWrite bool
}

// New wraps an already-opened inode handle as a file handle at position 0.
func New(table *inode.Table, open *inode.OpenInode) *Handle {
	return &Handle{table: table, open: open}
}

// Read reads up to n bytes from the current position, advancing it by
// however many bytes were actually read. Held under mu for the same
// reason as Write: a shared position must not be read by one concurrent
// caller while another is still advancing it.
func (h *Handle) Read(dst []byte, n int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	read, err := h.table.ReadAt(h.open, dst, n, h.pos)
	if err != nil {
		return read, err
	}
	h.pos += int64(read)
	return read, nil
}

// Write writes n bytes from src at the current position, advancing it by
// however many bytes were actually written. Two processes sharing this
// Handle (after EXEC+FD inheritance) and calling Write concurrently each
// see a distinct, non-overlapping slice of the file: the read-position,
// write, advance-position sequence runs under mu as one step, the same
// way a shared file offset is serialized across concurrent writers of
// the same open file description.
func (h *Handle) Write(src []byte, n int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	written, err := h.table.WriteAt(h.open, src, n, h.pos)
	if written > 0 {
		h.pos += int64(written)
	}
	return written, err
}

// ReadAt and WriteAt perform positioned I/O without touching the cursor,
// for the mmap bridge's page-fault handler.
func (h *Handle) ReadAt(dst []byte, n int, ofs int64) (int, error) {
	return h.table.ReadAt(h.open, dst, n, ofs)
}

func (h *Handle) WriteAt(src []byte, n int, ofs int64) (int, error) {
	return h.table.WriteAt(h.open, src, n, ofs)
}

// Seek repositions the cursor to pos, which may exceed the file's
// current length (a subsequent write there will extend the file,
// leaving a hole on platforms where the on-disk layout stores zeros
// explicitly, as this one does).
func (h *Handle) Seek(pos int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = pos
}

// Tell returns the cursor's current position.
func (h *Handle) Tell() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// Length returns the file's current byte length.
func (h *Handle) Length() (int64, error) {
	return h.table.Length(h.open)
}

// Inumber returns the sector identifying the underlying inode.
func (h *Handle) Inumber() block.SectorNum {
	return h.table.Inumber(h.open)
}

// IsDir reports whether the underlying inode is a directory.
func (h *Handle) IsDir() (bool, error) {
	return h.table.IsDir(h.open)
}

// DenyWrite marks the underlying inode non-writable by other handles,
// e.g. while an executable is running off it. A Handle holds at most one
// deny: calling DenyWrite again has no further effect, and a single
// AllowWrite undoes it.
func (h *Handle) DenyWrite() {
	h.mu.Lock()
	already := h.denyWrite
	h.denyWrite = true
	h.mu.Unlock()
	if !already {
		h.open.DenyWrite()
	}
}

// AllowWrite undoes a prior DenyWrite.
func (h *Handle) AllowWrite() {
	h.mu.Lock()
	wasDenied := h.denyWrite
	h.denyWrite = false
	h.mu.Unlock()
	if wasDenied {
		h.open.AllowWrite()
	}
}

// Close releases the underlying inode handle, undoing any outstanding
// DenyWrite first.
func (h *Handle) Close() error {
	h.mu.Lock()
	wasDenied := h.denyWrite
	h.denyWrite = false
	h.mu.Unlock()
	if wasDenied {
		h.open.AllowWrite()
	}
	return h.table.Close(h.open)
}
