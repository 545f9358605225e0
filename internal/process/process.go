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

// Package process bundles the per-process state the syscall dispatcher
// consults: the FD table, current working directory, and (when memory
// mapping is enabled) the mmap id counter and the mapping list.
package process

import (
	"strings"
	"sync"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/fdtable"
	"github.com/kernellab/diskfs/internal/filehandle"
)

// Process is one user program's kernel-side bookkeeping.
type Process struct {
	// Name is the thread name; the EXIT message uses only its first
	// whitespace-delimited token.
	Name string

	FDs *fdtable.Table

	// Cwd is the current working directory's inode sector, used only
	// when directories are enabled.
	Cwd block.SectorNum

	// Executable, when set, is deny-write-protected for the lifetime of
	// the process (an EXEC'd program may not be overwritten while it
	// runs).
	Executable *filehandle.Handle

	mu      sync.Mutex
	mmapID  int
	mmaps   map[int]bool
}

// New returns a fresh process rooted at root (the root directory's
// inode sector, used as the initial cwd).
func New(name string, root block.SectorNum) *Process {
	return &Process{
		Name:  name,
		FDs:   fdtable.New(),
		Cwd:   root,
		mmaps: make(map[int]bool),
	}
}

// ExitName returns the first whitespace-delimited token of Name, the
// identifier the EXIT message prints.
func (p *Process) ExitName() string {
	fields := strings.Fields(p.Name)
	if len(fields) == 0 {
		return p.Name
	}
	return fields[0]
}

// NextMapID allocates a fresh mmap identifier.
func (p *Process) NextMapID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.mmapID
	p.mmapID++
	p.mmaps[id] = true
	return id
}

// ReleaseMapID forgets mapid, e.g. after a failed mmap rolls back or
// after a successful munmap.
func (p *Process) ReleaseMapID(mapid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.mmaps, mapid)
	if mapid == p.mmapID-1 {
		p.mmapID--
	}
}

// HasMapID reports whether mapid is currently live for this process.
func (p *Process) HasMapID(mapid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mmaps[mapid]
}

// Close tears down every resource the process still owns: open FDs and,
// if set, the protected executable handle.
func (p *Process) Close() {
	p.FDs.CloseAll()
	if p.Executable != nil {
		p.Executable.AllowWrite()
		p.Executable.Close()
	}
}
