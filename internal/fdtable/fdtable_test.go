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

package fdtable

import (
	"testing"
	"time"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/bufcache"
	"github.com/kernellab/diskfs/internal/filehandle"
	"github.com/kernellab/diskfs/internal/freemap"
	"github.com/kernellab/diskfs/internal/inode"
	"github.com/kernellab/diskfs/internal/metrics"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type FDTableTest struct {
	suite.Suite
	table *inode.Table
	free  *freemap.Map
}

func TestFDTableSuite(t *testing.T) {
	suite.Run(t, new(FDTableTest))
}

func (t *FDTableTest) SetupTest() {
	dev := block.NewMemDevice(4096)
	cache := bufcache.New(dev, 64, time.Hour, metrics.NewNoopHandle())
	var err error
	t.free, err = freemap.Format(cache, 1, 4096, 2)
	require.NoError(t.T(), err)
	t.table = inode.NewTable(cache, t.free, metrics.NewNoopHandle())
}

func (t *FDTableTest) newHandle() *filehandle.Handle {
	sec, ok, err := t.free.Allocate()
	require.NoError(t.T(), err)
	require.True(t.T(), ok)
	_, err = t.table.Create(sec, 0, false)
	require.NoError(t.T(), err)
	return filehandle.New(t.table, t.table.Open(sec))
}

func (t *FDTableTest) TestFirstOpenReturnsFDTwo() {
	fdt := New()
	fd := fdt.Open(t.newHandle())
	t.Equal(2, fd)
}

func (t *FDTableTest) TestDescriptorsNeverReused() {
	fdt := New()
	fd1 := fdt.Open(t.newHandle())
	require.NoError(t.T(), fdt.Close(fd1))
	fd2 := fdt.Open(t.newHandle())
	t.NotEqual(fd1, fd2)
}

func (t *FDTableTest) TestGetUnknownFD() {
	fdt := New()
	_, ok := fdt.Get(5)
	t.False(ok)
}

func (t *FDTableTest) TestCloseUnknownFDErrors() {
	fdt := New()
	t.Error(fdt.Close(99))
}

func (t *FDTableTest) TestCloseAllClearsTable() {
	fdt := New()
	fd1 := fdt.Open(t.newHandle())
	fd2 := fdt.Open(t.newHandle())

	fdt.CloseAll()

	_, ok1 := fdt.Get(fd1)
	_, ok2 := fdt.Get(fd2)
	t.False(ok1)
	t.False(ok2)
}
