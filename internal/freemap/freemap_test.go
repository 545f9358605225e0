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

package freemap

import (
	"testing"
	"time"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/bufcache"
	"github.com/kernellab/diskfs/internal/metrics"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *bufcache.Cache {
	t.Helper()
	dev := block.NewMemDevice(64)
	return bufcache.New(dev, 16, time.Hour, metrics.NewNoopHandle())
}

func TestFormatReservesPrefix(t *testing.T) {
	c := newTestCache(t)
	m, err := Format(c, 0, 32, 2)
	require.NoError(t, err)

	require.Equal(t, 2, m.UsedCount())
	require.Equal(t, 32, m.TotalCount())
}

func TestAllocateSkipsReservedAndPersists(t *testing.T) {
	c := newTestCache(t)
	m, err := Format(c, 0, 32, 2)
	require.NoError(t, err)

	sec, ok, err := m.Allocate()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, block.SectorNum(2), sec)
	require.Equal(t, 3, m.UsedCount())

	reloaded, err := Load(c, 0, 32, 2)
	require.NoError(t, err)
	require.Equal(t, 3, reloaded.UsedCount())
}

func TestReleaseFreesSector(t *testing.T) {
	c := newTestCache(t)
	m, err := Format(c, 0, 32, 2)
	require.NoError(t, err)

	sec, ok, err := m.Allocate()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Release(sec))
	require.Equal(t, 2, m.UsedCount())
}

func TestReleaseOfReservedSectorPanics(t *testing.T) {
	c := newTestCache(t)
	m, err := Format(c, 0, 32, 2)
	require.NoError(t, err)

	defer func() {
		require.NotNil(t, recover())
	}()
	_ = m.Release(0)
}

func TestReleaseTwicePanics(t *testing.T) {
	c := newTestCache(t)
	m, err := Format(c, 0, 32, 2)
	require.NoError(t, err)

	sec, ok, err := m.Allocate()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, m.Release(sec))

	defer func() {
		require.NotNil(t, recover())
	}()
	_ = m.Release(sec)
}

func TestAllocateExhaustionReturnsFalse(t *testing.T) {
	c := newTestCache(t)
	m, err := Format(c, 0, 4, 2)
	require.NoError(t, err)

	sec, ok, err := m.Allocate()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, block.SectorNum(2), sec)

	_, ok, err = m.Allocate()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.Allocate()
	require.NoError(t, err)
	require.False(t, ok, "expected exhaustion once every non-reserved sector is allocated")
}

func TestSectorsNeeded(t *testing.T) {
	require.Equal(t, 1, SectorsNeeded(8))
	require.Equal(t, 1, SectorsNeeded(block.SectorSize*8))
	require.Equal(t, 2, SectorsNeeded(block.SectorSize*8+1))
}
