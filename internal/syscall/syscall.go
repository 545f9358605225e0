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

// Package syscall dispatches trapped system calls: it validates
// arguments against the caller's address space, serializes file-system
// access behind a single coarse lock, and marshals results back into
// eax. Trap number and argument-slot layout follow the 32-bit
// esp-relative convention: arguments sit at esp+4, esp+8, esp+12.
package syscall

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/directory"
	"github.com/kernellab/diskfs/internal/filehandle"
	"github.com/kernellab/diskfs/internal/inode"
	"github.com/kernellab/diskfs/internal/logger"
	"github.com/kernellab/diskfs/internal/metrics"
	"github.com/kernellab/diskfs/internal/process"
	"github.com/kernellab/diskfs/internal/usermem"
)

// Number identifies a recognized call, matching the original trap ABI's
// ordinal assignment.
type Number uint32

const (
	Halt Number = iota
	Exit
	Exec
	Wait
	Create
	Remove
	Open
	Filesize
	Read
	Write
	Seek
	Tell
	Close
	Mmap
	Munmap
	Chdir
	Mkdir
)

const maxPathLen = 256

// TrapNumber is the interrupt vector this dispatcher answers.
const TrapNumber = 0x30

// Console is where FD 1 writes land and FD 0 reads come from; tests
// and the real kernel wiring each supply their own.
type Console interface {
	io.Writer
	ReadByte() (byte, error)
}

// SectorAllocator is the free-sector map's subset the dispatcher needs
// to back CREATE and MKDIR with a freshly allocated inode sector.
type SectorAllocator interface {
	Allocate() (block.SectorNum, bool, error)
	Release(block.SectorNum) error
}

// Dispatcher serializes every file-system-touching syscall behind one
// process-wide lock, a coarse "filesys_lock" appropriate at this scale.
// It must never be held while validating user memory.
type Dispatcher struct {
	table       *inode.Table
	alloc       SectorAllocator
	console     Console
	metrics     metrics.SyscallMetricHandle
	filesysLock chan struct{} // 1-buffered channel doubling as a mutex with no lock-held-by-thread ambiguity
	enableDirs  bool
	mmapBridge  MmapBridge

	futures *execFutures

	childrenMu sync.Mutex
	children   map[int32]*process.Process
	nextPID    int32
}

// MmapBridge is the subset of the VM-enabled mmap component the
// dispatcher calls into for MMAP/MUNMAP; nil when VM support is
// disabled, in which case those two calls fail.
type MmapBridge interface {
	Mmap(proc *process.Process, mem usermem.AddressSpace, fd int, addr uintptr) (int, error)
	Munmap(proc *process.Process, mem usermem.AddressSpace, mapid int) error
}

// New builds a dispatcher over table. enableDirs toggles CHDIR/MKDIR;
// bridge may be nil to disable MMAP/MUNMAP.
func New(table *inode.Table, alloc SectorAllocator, console Console, m metrics.SyscallMetricHandle, enableDirs bool, bridge MmapBridge) *Dispatcher {
	d := &Dispatcher{
		table:       table,
		alloc:       alloc,
		console:     console,
		metrics:     m,
		filesysLock: make(chan struct{}, 1),
		enableDirs:  enableDirs,
		mmapBridge:  bridge,
		futures:     newExecFutures(),
		children:    make(map[int32]*process.Process),
	}
	d.filesysLock <- struct{}{}
	return d
}

func (d *Dispatcher) lockFilesys() {
	<-d.filesysLock
}

func (d *Dispatcher) unlockFilesys() {
	d.filesysLock <- struct{}{}
}

// Outcome is what the dispatcher did with one trapped call.
type Outcome struct {
	Eax       int32
	Terminate bool
	ExitCode  int32
}

// Dispatch reads the syscall number and arguments from mem at esp,
// validating the highest argument slot a call needs before touching any
// of them, then executes the call.
func (d *Dispatcher) Dispatch(ctx context.Context, mem usermem.AddressSpace, proc *process.Process, esp uintptr) Outcome {
	start := time.Now()
	numWord, err := mem.ReadWord(esp)
	if err != nil {
		return d.fault(ctx, "UNKNOWN")
	}
	num := Number(numWord)
	name := numberName(num)

	argc := argCount(num)
	if argc > 0 {
		highest := esp + 4 + uintptr(argc-1)*4
		if !mem.Valid(highest, 4) {
			return d.fault(ctx, name)
		}
	}

	args := make([]uint32, argc)
	for i := 0; i < argc; i++ {
		w, err := mem.ReadWord(esp + 4 + uintptr(i)*4)
		if err != nil {
			return d.fault(ctx, name)
		}
		args[i] = w
	}

	out := d.execute(ctx, num, args, mem, proc)

	if d.metrics != nil {
		d.metrics.SyscallCount(ctx, 1, []metrics.MetricAttr{{Key: metrics.SyscallNameKey, Value: name}})
		d.metrics.SyscallLatency(ctx, time.Since(start), []metrics.MetricAttr{{Key: metrics.SyscallNameKey, Value: name}})
	}
	return out
}

func (d *Dispatcher) fault(ctx context.Context, name string) Outcome {
	if d.metrics != nil {
		d.metrics.SyscallErrorCount(ctx, 1, []metrics.MetricAttr{
			{Key: metrics.SyscallNameKey, Value: name},
			{Key: metrics.ErrorCategoryKey, Value: "bad_pointer"},
		})
	}
	return Outcome{Eax: -1, Terminate: true, ExitCode: -1}
}

func argCount(n Number) int {
	switch n {
	case Halt:
		return 0
	case Exit, Exec, Wait, Remove, Open, Filesize, Tell, Close, Chdir, Mkdir:
		return 1
	case Create, Seek, Mmap:
		return 2
	case Read, Write:
		return 3
	case Munmap:
		return 1
	default:
		return 3
	}
}

func numberName(n Number) string {
	switch n {
	case Halt:
		return "HALT"
	case Exit:
		return "EXIT"
	case Exec:
		return "EXEC"
	case Wait:
		return "WAIT"
	case Create:
		return "CREATE"
	case Remove:
		return "REMOVE"
	case Open:
		return "OPEN"
	case Filesize:
		return "FILESIZE"
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	case Seek:
		return "SEEK"
	case Tell:
		return "TELL"
	case Close:
		return "CLOSE"
	case Mmap:
		return "MMAP"
	case Munmap:
		return "MUNMAP"
	case Chdir:
		return "CHDIR"
	case Mkdir:
		return "MKDIR"
	default:
		return "UNKNOWN"
	}
}

func (d *Dispatcher) execute(ctx context.Context, num Number, args []uint32, mem usermem.AddressSpace, proc *process.Process) Outcome {
	switch num {
	case Halt:
		return Outcome{Eax: 0}

	case Exit:
		code := int32(args[0])
		return Outcome{Eax: code, Terminate: true, ExitCode: code}

	case Exec:
		cmdline, err := mem.ReadCString(uintptr(args[0]), maxPathLen)
		if err != nil {
			return d.fault(ctx, "EXEC")
		}
		pid, ok := d.doExec(proc, cmdline)
		if !ok {
			return Outcome{Eax: -1}
		}
		return Outcome{Eax: pid}

	case Wait:
		return Outcome{Eax: -1}

	case Create:
		path, err := mem.ReadCString(uintptr(args[0]), maxPathLen)
		if err != nil {
			return d.fault(ctx, "CREATE")
		}
		size := int64(args[1])
		ok := d.doCreate(proc, path, size)
		return Outcome{Eax: boolToEax(ok)}

	case Remove:
		path, err := mem.ReadCString(uintptr(args[0]), maxPathLen)
		if err != nil {
			return d.fault(ctx, "REMOVE")
		}
		ok := d.doRemove(proc, path)
		return Outcome{Eax: boolToEax(ok)}

	case Open:
		path, err := mem.ReadCString(uintptr(args[0]), maxPathLen)
		if err != nil {
			return d.fault(ctx, "OPEN")
		}
		fd, ok := d.doOpen(proc, path)
		if !ok {
			return Outcome{Eax: -1}
		}
		return Outcome{Eax: int32(fd)}

	case Filesize:
		h, ok := proc.FDs.Get(int(args[0]))
		if !ok {
			return Outcome{Eax: -1}
		}
		length, err := h.Length()
		if err != nil {
			return Outcome{Eax: -1}
		}
		return Outcome{Eax: int32(length)}

	case Read:
		return d.doRead(ctx, mem, proc, int(args[0]), uintptr(args[1]), int(args[2]))

	case Write:
		return d.doWrite(ctx, mem, proc, int(args[0]), uintptr(args[1]), int(args[2]))

	case Seek:
		h, ok := proc.FDs.Get(int(args[0]))
		if ok {
			h.Seek(int64(args[1]))
		}
		return Outcome{Eax: 0}

	case Tell:
		h, ok := proc.FDs.Get(int(args[0]))
		if !ok {
			return Outcome{Eax: -1}
		}
		return Outcome{Eax: int32(h.Tell())}

	case Close:
		fd := int(args[0])
		if _, ok := proc.FDs.Get(fd); ok {
			d.lockFilesys()
			proc.FDs.Close(fd)
			d.unlockFilesys()
		}
		return Outcome{Eax: 0}

	case Mmap:
		if d.mmapBridge == nil {
			return Outcome{Eax: -1}
		}
		mapid, err := d.mmapBridge.Mmap(proc, mem, int(args[0]), uintptr(args[1]))
		if err != nil {
			return Outcome{Eax: -1}
		}
		return Outcome{Eax: int32(mapid)}

	case Munmap:
		if d.mmapBridge == nil {
			return Outcome{Eax: -1}
		}
		d.mmapBridge.Munmap(proc, mem, int(args[0]))
		return Outcome{Eax: 0}

	case Chdir:
		if !d.enableDirs {
			return Outcome{Eax: 0}
		}
		path, err := mem.ReadCString(uintptr(args[0]), maxPathLen)
		if err != nil {
			return d.fault(ctx, "CHDIR")
		}
		return Outcome{Eax: boolToEax(d.doChdir(proc, path))}

	case Mkdir:
		if !d.enableDirs {
			return Outcome{Eax: 0}
		}
		path, err := mem.ReadCString(uintptr(args[0]), maxPathLen)
		if err != nil {
			return d.fault(ctx, "MKDIR")
		}
		return Outcome{Eax: boolToEax(d.doMkdir(proc, path))}

	default:
		return Outcome{Eax: -1, Terminate: true, ExitCode: -1}
	}
}

func boolToEax(ok bool) int32 {
	if ok {
		return 1
	}
	return 0
}

// ExitMessage renders the EXIT-call console line for proc, matching
// `"%s: exit(%d)\n"` using only the first whitespace token of the
// process name.
func ExitMessage(proc *process.Process, code int32) string {
	return fmt.Sprintf("%s: exit(%d)\n", proc.ExitName(), code)
}

// HandleExit prints the exit message, closes every FD the process still
// holds, and releases its protected executable. Call this once Dispatch
// reports Terminate.
func (d *Dispatcher) HandleExit(proc *process.Process, code int32) {
	io.WriteString(d.console, ExitMessage(proc, code))
	proc.Close()
}

func (d *Dispatcher) doCreate(proc *process.Process, path string, size int64) bool {
	d.lockFilesys()
	defer d.unlockFilesys()

	dirSec := proc.Cwd
	dh := filehandle.New(d.table, d.table.Open(dirSec))
	defer dh.Close()
	dir := directory.Open(d.table, dh, dirSec)

	if _, found, err := dir.Lookup(path); err != nil || found {
		return false
	}

	sec, ok, err := d.alloc.Allocate()
	if err != nil || !ok {
		return false
	}
	if created, err := d.table.Create(sec, size, false); err != nil || !created {
		d.alloc.Release(sec)
		return false
	}
	if err := dir.Add(path, sec); err != nil {
		h := d.table.Open(sec)
		d.table.Remove(h)
		d.table.Close(h)
		return false
	}
	logger.Tracef("syscall: create %q size=%d sector=%d", path, size, sec)
	return true
}

func (d *Dispatcher) doRemove(proc *process.Process, path string) bool {
	d.lockFilesys()
	defer d.unlockFilesys()

	dh := filehandle.New(d.table, d.table.Open(proc.Cwd))
	defer dh.Close()
	dir := directory.Open(d.table, dh, proc.Cwd)

	sec, found, err := dir.Lookup(path)
	if err != nil || !found {
		return false
	}
	h := d.table.Open(sec)
	d.table.Remove(h)
	d.table.Close(h)
	return dir.Remove(path) == nil
}

func (d *Dispatcher) doOpen(proc *process.Process, path string) (int, bool) {
	d.lockFilesys()
	defer d.unlockFilesys()

	dh := filehandle.New(d.table, d.table.Open(proc.Cwd))
	defer dh.Close()
	dir := directory.Open(d.table, dh, proc.Cwd)

	sec, found, err := dir.Lookup(path)
	if err != nil || !found {
		return 0, false
	}
	h := filehandle.New(d.table, d.table.Open(sec))
	return proc.FDs.Open(h), true
}

func (d *Dispatcher) doChdir(proc *process.Process, path string) bool {
	d.lockFilesys()
	defer d.unlockFilesys()

	dh := filehandle.New(d.table, d.table.Open(proc.Cwd))
	defer dh.Close()
	dir := directory.Open(d.table, dh, proc.Cwd)

	sec, found, err := dir.Lookup(path)
	if err != nil || !found {
		return false
	}
	isDir, err := d.table.IsDir(d.table.Open(sec))
	if err != nil || !isDir {
		return false
	}
	proc.Cwd = sec
	return true
}

func (d *Dispatcher) doMkdir(proc *process.Process, path string) bool {
	d.lockFilesys()
	defer d.unlockFilesys()

	dh := filehandle.New(d.table, d.table.Open(proc.Cwd))
	defer dh.Close()
	dir := directory.Open(d.table, dh, proc.Cwd)

	if _, found, err := dir.Lookup(path); err != nil || found {
		return false
	}

	sec, ok, err := d.alloc.Allocate()
	if err != nil || !ok {
		return false
	}
	if err := directory.Create(d.table, sec, proc.Cwd); err != nil {
		d.alloc.Release(sec)
		return false
	}
	if err := dir.Add(path, sec); err != nil {
		d.alloc.Release(sec)
		return false
	}
	logger.Tracef("syscall: mkdir %q sector=%d", path, sec)
	return true
}

func (d *Dispatcher) doRead(ctx context.Context, mem usermem.AddressSpace, proc *process.Process, fd int, bufAddr uintptr, n int) Outcome {
	if !mem.Valid(bufAddr, n) {
		return d.fault(ctx, "READ")
	}
	if fd == 0 {
		buf := make([]byte, 0, n)
		for len(buf) < n {
			b, err := d.console.ReadByte()
			if err != nil || b == 0 {
				break
			}
			buf = append(buf, b)
		}
		if err := mem.CopyOut(bufAddr, buf); err != nil {
			return d.fault(ctx, "READ")
		}
		return Outcome{Eax: int32(len(buf))}
	}

	h, ok := proc.FDs.Get(fd)
	if !ok {
		return Outcome{Eax: -1}
	}

	d.lockFilesys()
	buf := make([]byte, n)
	read, err := h.Read(buf, n)
	d.unlockFilesys()
	if err != nil && read == 0 {
		return Outcome{Eax: -1}
	}
	if err := mem.CopyOut(bufAddr, buf[:read]); err != nil {
		return d.fault(ctx, "READ")
	}
	return Outcome{Eax: int32(read)}
}

func (d *Dispatcher) doWrite(ctx context.Context, mem usermem.AddressSpace, proc *process.Process, fd int, bufAddr uintptr, n int) Outcome {
	if !mem.Valid(bufAddr, n) {
		return d.fault(ctx, "WRITE")
	}
	buf := make([]byte, n)
	if err := mem.CopyIn(buf, bufAddr); err != nil {
		return d.fault(ctx, "WRITE")
	}

	if fd == 1 {
		d.console.Write(buf)
		return Outcome{Eax: int32(n)}
	}

	h, ok := proc.FDs.Get(fd)
	if !ok {
		return Outcome{Eax: -1}
	}

	d.lockFilesys()
	written, err := h.Write(buf, n)
	d.unlockFilesys()
	if err != nil && written == 0 {
		return Outcome{Eax: -1}
	}
	return Outcome{Eax: int32(written)}
}
