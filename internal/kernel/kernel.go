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

// Package kernel wires the block device, buffer cache, free-sector map,
// inode layer, and syscall dispatcher into one bootable unit, and owns
// the shutdown ordering between them.
package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/bufcache"
	"github.com/kernellab/diskfs/internal/directory"
	"github.com/kernellab/diskfs/internal/freemap"
	"github.com/kernellab/diskfs/internal/inode"
	"github.com/kernellab/diskfs/internal/logger"
	"github.com/kernellab/diskfs/internal/metrics"
	"github.com/kernellab/diskfs/internal/process"
	"github.com/kernellab/diskfs/internal/syscall"
	"github.com/kernellab/diskfs/internal/vmframe"
	"github.com/kernellab/diskfs/internal/vmmmap"
)

// RootSector and BitmapSector are the two well-known sectors every disk
// image carries: the root directory's inode and the free-sector bitmap.
const (
	RootSector   block.SectorNum = 0
	BitmapSector block.SectorNum = 1

	// ReservedSectors is the smallest number of low sectors the free map
	// treats as permanently allocated: the root directory inode and the
	// bitmap sector itself. boot widens the prefix when the bitmap needs
	// more than one sector.
	ReservedSectors = 2
)

// Options configures a Kernel at boot.
type Options struct {
	CacheCapacity       int
	WriteBehindInterval int // milliseconds; 0 uses the cache's default
	TotalSectors        int
	EnableDirectories   bool
	EnableVM            bool
	FrameCount          int
	Console             syscall.Console
	Metrics             metrics.Handle
}

// Kernel is the assembled subsystem stack.
type Kernel struct {
	dev   block.Device
	cache *bufcache.Cache
	free  *freemap.Map
	table *inode.Table
	disp  *syscall.Dispatcher

	cacheCtx    context.Context
	cacheCancel context.CancelFunc
}

// Format initializes a brand-new disk image: writes the root directory
// at RootSector and a freshly zeroed free map at BitmapSector, then
// returns a booted Kernel over it.
func Format(dev block.Device, opts Options) (*Kernel, error) {
	k, err := boot(dev, opts, true)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Open boots a Kernel over an already-formatted disk image.
func Open(dev block.Device, opts Options) (*Kernel, error) {
	return boot(dev, opts, false)
}

func boot(dev block.Device, opts Options, format bool) (*Kernel, error) {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopHandle()
	}
	if opts.CacheCapacity == 0 {
		opts.CacheCapacity = 64
	}

	cache := bufcache.New(dev, opts.CacheCapacity, writeBehindDuration(opts.WriteBehindInterval), opts.Metrics)
	ctx, cancel := context.WithCancel(context.Background())
	cache.Start(ctx)

	reserved := ReservedSectors
	if need := int(BitmapSector) + freemap.SectorsNeeded(opts.TotalSectors); need > reserved {
		reserved = need
	}

	var free *freemap.Map
	var err error
	if format {
		free, err = freemap.Format(cache, BitmapSector, opts.TotalSectors, reserved)
	} else {
		free, err = freemap.Load(cache, BitmapSector, opts.TotalSectors, reserved)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}

	table := inode.NewTable(cache, free, opts.Metrics)

	if format {
		if err := directory.Create(table, RootSector, RootSector); err != nil {
			cancel()
			return nil, fmt.Errorf("kernel: format root directory: %w", err)
		}
	}

	var bridge syscall.MmapBridge
	if opts.EnableVM {
		frameCount := opts.FrameCount
		if frameCount == 0 {
			frameCount = 256
		}
		bridge = vmmmap.New(vmframe.New(frameCount))
	}

	disp := syscall.New(table, free, opts.Console, opts.Metrics, opts.EnableDirectories, bridge)

	logger.Infof("kernel: booted, cache_capacity=%d total_sectors=%d directories=%v vm=%v",
		opts.CacheCapacity, opts.TotalSectors, opts.EnableDirectories, opts.EnableVM)

	return &Kernel{
		dev:         dev,
		cache:       cache,
		free:        free,
		table:       table,
		disp:        disp,
		cacheCtx:    ctx,
		cacheCancel: cancel,
	}, nil
}

// writeBehindDuration converts the configured milliseconds into a
// time.Duration; zero is passed through so bufcache.New can apply its
// own default interval.
func writeBehindDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Dispatcher returns the syscall dispatcher user-process traps go
// through.
func (k *Kernel) Dispatcher() *syscall.Dispatcher { return k.disp }

// NewProcess returns a fresh process rooted at the disk's root
// directory.
func (k *Kernel) NewProcess(name string) *process.Process {
	return process.New(name, RootSector)
}

// Close flushes and drops the buffer cache after stopping its
// background workers. The write-behind and read-ahead loops must stop
// taking new work before Clear walks the cache's lists, or a
// concurrent read-ahead could re-populate an entry Clear just evicted.
func (k *Kernel) Close() error {
	k.cacheCancel()
	k.cache.Stop()
	if err := k.cache.Clear(); err != nil {
		return fmt.Errorf("kernel: close: %w", err)
	}
	return k.dev.Close()
}
