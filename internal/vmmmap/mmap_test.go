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

package vmmmap

import (
	"bytes"
	"testing"
	"time"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/bufcache"
	"github.com/kernellab/diskfs/internal/filehandle"
	"github.com/kernellab/diskfs/internal/freemap"
	"github.com/kernellab/diskfs/internal/inode"
	"github.com/kernellab/diskfs/internal/metrics"
	"github.com/kernellab/diskfs/internal/process"
	"github.com/kernellab/diskfs/internal/usermem"
	"github.com/kernellab/diskfs/internal/vmframe"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MmapTest struct {
	suite.Suite
	table *inode.Table
	free  *freemap.Map
	proc  *process.Process
	mem   *usermem.Flat
	fd    int
}

func TestMmapSuite(t *testing.T) {
	suite.Run(t, new(MmapTest))
}

func (t *MmapTest) SetupTest() {
	dev := block.NewMemDevice(4096)
	cache := bufcache.New(dev, 64, time.Hour, metrics.NewNoopHandle())
	var err error
	t.free, err = freemap.Format(cache, 1, 4096, 2)
	require.NoError(t.T(), err)
	t.table = inode.NewTable(cache, t.free, metrics.NewNoopHandle())

	sec, ok, err := t.free.Allocate()
	require.NoError(t.T(), err)
	require.True(t.T(), ok)

	payload := bytes.Repeat([]byte{0x7A}, 5000)
	_, err = t.table.Create(sec, 0, false)
	require.NoError(t.T(), err)
	h := filehandle.New(t.table, t.table.Open(sec))
	_, err = h.Write(payload, len(payload))
	require.NoError(t.T(), err)

	t.proc = process.New("mapper", 0)
	t.fd = t.proc.FDs.Open(h)
	t.mem = usermem.NewFlat(1 << 20, 1<<20)
}

func (t *MmapTest) TestMmapThenMunmapRoundTripsUnmodifiedBytes() {
	b := New(vmframe.New(16))

	mapid, err := b.Mmap(t.proc, t.mem, t.fd, pageSize*2)
	require.NoError(t.T(), err)

	require.NoError(t.T(), b.Munmap(t.proc, t.mem, mapid))

	h, ok := t.proc.FDs.Get(t.fd)
	require.True(t.T(), ok)
	out := make([]byte, 5000)
	n, err := h.ReadAt(out, len(out), 0)
	require.NoError(t.T(), err)
	t.Equal(5000, n)
	t.Equal(bytes.Repeat([]byte{0x7A}, 5000), out)
}

func (t *MmapTest) TestMmapRejectsUnalignedAddr() {
	b := New(vmframe.New(16))
	_, err := b.Mmap(t.proc, t.mem, t.fd, 123)
	t.Error(err)
}

func (t *MmapTest) TestMmapRejectsConsoleFD() {
	b := New(vmframe.New(16))
	_, err := b.Mmap(t.proc, t.mem, 1, pageSize)
	t.Error(err)
}

func (t *MmapTest) TestModifyThenMunmapPersistsWrite() {
	b := New(vmframe.New(16))
	addr := uintptr(pageSize * 4)
	mapid, err := b.Mmap(t.proc, t.mem, t.fd, addr)
	require.NoError(t.T(), err)

	patch := bytes.Repeat([]byte{0x11}, 10)
	require.NoError(t.T(), t.mem.CopyOut(addr+pageSize, patch))

	require.NoError(t.T(), b.Munmap(t.proc, t.mem, mapid))

	h, ok := t.proc.FDs.Get(t.fd)
	require.True(t.T(), ok)
	out := make([]byte, 10)
	_, err = h.ReadAt(out, len(out), pageSize)
	require.NoError(t.T(), err)
	t.Equal(patch, out)
}
