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

package syscall

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/directory"
	"github.com/kernellab/diskfs/internal/fdtable"
	"github.com/kernellab/diskfs/internal/filehandle"
	"github.com/kernellab/diskfs/internal/logger"
	"github.com/kernellab/diskfs/internal/process"
)

// loadResult is what a child's loader goroutine reports back to the
// parent blocked in EXEC.
type loadResult struct {
	pid int32
	err error
}

// execFuture is a one-shot promise the parent's EXEC call blocks on
// until the child signals load success or failure.
type execFuture struct {
	done chan loadResult
}

func newExecFuture() *execFuture {
	return &execFuture{done: make(chan loadResult, 1)}
}

func (f *execFuture) complete(pid int32, err error) {
	f.done <- loadResult{pid: pid, err: err}
}

func (f *execFuture) wait() (int32, error) {
	r := <-f.done
	return r.pid, r.err
}

// execFutures tracks pending EXEC load results keyed by a UUID, so
// multiple concurrent EXECs never collide on a result slot.
type execFutures struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*execFuture
}

func newExecFutures() *execFutures {
	return &execFutures{pending: make(map[uuid.UUID]*execFuture)}
}

func (r *execFutures) register() (uuid.UUID, *execFuture) {
	id := uuid.New()
	f := newExecFuture()
	r.mu.Lock()
	r.pending[id] = f
	r.mu.Unlock()
	return id, f
}

func (r *execFutures) forget(id uuid.UUID) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// doExec starts loading cmdline's first token as a child process and
// blocks the caller on a per-caller future until the child's loader
// goroutine signals success or failure, returning the child pid or -1.
func (d *Dispatcher) doExec(proc *process.Process, cmdline string) (int32, bool) {
	id, future := d.futures.register()
	defer d.futures.forget(id)

	inherited := proc.FDs.Entries()
	go d.loadChild(cmdline, proc.Cwd, inherited, future)

	pid, err := future.wait()
	if err != nil {
		return -1, false
	}
	return pid, true
}

// loadChild resolves cmdline's program path, deny-write-protects it,
// and installs a new process inheriting the caller's FD table before
// completing future. Inherited fds point at the same Handle instances
// as the parent's, not fresh opens, so the two processes genuinely
// share the same open file description the way EXEC is supposed to.
func (d *Dispatcher) loadChild(cmdline string, cwd block.SectorNum, inherited map[int]*filehandle.Handle, future *execFuture) {
	path := firstToken(cmdline)

	d.lockFilesys()
	dh := filehandle.New(d.table, d.table.Open(cwd))
	dir := directory.Open(d.table, dh, cwd)
	sec, found, err := dir.Lookup(path)
	dh.Close()
	d.unlockFilesys()

	if err != nil || !found {
		future.complete(-1, fmt.Errorf("syscall: exec: %q not found", path))
		return
	}

	exe := filehandle.New(d.table, d.table.Open(sec))
	exe.DenyWrite()

	child := process.New(cmdline, cwd)
	child.FDs = fdtable.NewInherited(inherited)
	child.Executable = exe

	pid := d.allocatePID()
	d.childrenMu.Lock()
	d.children[pid] = child
	d.childrenMu.Unlock()

	logger.Tracef("syscall: exec %q -> pid %d", path, pid)
	future.complete(pid, nil)
}

func (d *Dispatcher) allocatePID() int32 {
	d.childrenMu.Lock()
	defer d.childrenMu.Unlock()
	d.nextPID++
	return d.nextPID
}

// Child returns the process EXEC installed for pid, if it is still
// tracked (it stays tracked for the dispatcher's lifetime; there is no
// reaping syscall in this surface).
func (d *Dispatcher) Child(pid int32) (*process.Process, bool) {
	d.childrenMu.Lock()
	defer d.childrenMu.Unlock()
	p, ok := d.children[pid]
	return p, ok
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}
