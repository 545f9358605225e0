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

package filehandle

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/bufcache"
	"github.com/kernellab/diskfs/internal/freemap"
	"github.com/kernellab/diskfs/internal/inode"
	"github.com/kernellab/diskfs/internal/metrics"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type FileHandleTest struct {
	suite.Suite
	table *inode.Table
	free  *freemap.Map
	sec   block.SectorNum
}

func TestFileHandleSuite(t *testing.T) {
	suite.Run(t, new(FileHandleTest))
}

func (t *FileHandleTest) SetupTest() {
	dev := block.NewMemDevice(4096)
	cache := bufcache.New(dev, 64, time.Hour, metrics.NewNoopHandle())
	var err error
	t.free, err = freemap.Format(cache, 1, 4096, 2)
	require.NoError(t.T(), err)
	t.table = inode.NewTable(cache, t.free, metrics.NewNoopHandle())

	sec, ok, err := t.free.Allocate()
	require.NoError(t.T(), err)
	require.True(t.T(), ok)
	t.sec = sec
	_, err = t.table.Create(sec, 0, false)
	require.NoError(t.T(), err)
}

func (t *FileHandleTest) open() *Handle {
	return New(t.table, t.table.Open(t.sec))
}

func (t *FileHandleTest) TestWriteReadAdvancesCursor() {
	h := t.open()
	defer h.Close()

	n, err := h.Write([]byte("hello"), 5)
	require.NoError(t.T(), err)
	t.Equal(5, n)
	t.EqualValues(5, h.Tell())

	h.Seek(0)
	out := make([]byte, 5)
	n, err = h.Read(out, 5)
	require.NoError(t.T(), err)
	t.Equal(5, n)
	t.Equal("hello", string(out))
	t.EqualValues(5, h.Tell())
}

func (t *FileHandleTest) TestSeekPastEndThenWriteExtends() {
	h := t.open()
	defer h.Close()

	h.Seek(20)
	n, err := h.Write([]byte("tail"), 4)
	require.NoError(t.T(), err)
	t.Equal(4, n)

	length, err := h.Length()
	require.NoError(t.T(), err)
	t.EqualValues(24, length)
}

func (t *FileHandleTest) TestDenyWriteIsIdempotentPerHandle() {
	h := t.open()
	defer h.Close()

	h.DenyWrite()
	h.DenyWrite() // must not double-increment the shared inode's counter

	shared := t.table.Open(t.sec)
	defer t.table.Close(shared)
	t.Equal(1, shared.DenyWriteCount())

	h.AllowWrite()
}

// TestConcurrentWritesToSharedHandleNeverInterleaveAChunk models two
// processes that inherited the same FD across EXEC and both call WRITE
// at once: each append must land as a whole, contiguous chunk somewhere
// in the file, never torn across a position race with the other writer.
func (t *FileHandleTest) TestConcurrentWritesToSharedHandleNeverInterleaveAChunk() {
	h := t.open()
	defer h.Close()

	const chunkSize = 10
	const chunksPerWriter = 50

	writer := func(b byte) {
		chunk := bytes.Repeat([]byte{b}, chunkSize)
		for i := 0; i < chunksPerWriter; i++ {
			n, err := h.Write(chunk, chunkSize)
			require.NoError(t.T(), err)
			require.Equal(t.T(), chunkSize, n)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); writer(0xAA) }()
	go func() { defer wg.Done(); writer(0xBB) }()
	wg.Wait()

	length, err := h.Length()
	require.NoError(t.T(), err)
	t.EqualValues(chunkSize*chunksPerWriter*2, length)

	h.Seek(0)
	out := make([]byte, length)
	n, err := h.Read(out, int(length))
	require.NoError(t.T(), err)
	t.EqualValues(length, n)

	var counts [256]int
	for i := 0; i < len(out); i += chunkSize {
		chunk := out[i : i+chunkSize]
		first := chunk[0]
		for _, b := range chunk {
			require.Equalf(t.T(), first, b, "chunk at offset %d is torn: %v", i, chunk)
		}
		counts[first]++
	}
	t.Equal(chunksPerWriter, counts[0xAA])
	t.Equal(chunksPerWriter, counts[0xBB])
}

func (t *FileHandleTest) TestCloseUndoesOutstandingDenyWrite() {
	h := t.open()
	h.DenyWrite()
	require.NoError(t.T(), h.Close())

	// A fresh handle must be free to deny-write again without panicking
	// on an invariant violation left behind by the previous handle.
	h2 := t.open()
	defer h2.Close()
	h2.DenyWrite()
	h2.AllowWrite()
}
