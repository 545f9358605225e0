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

// Package bufcache implements a bounded, write-back LRU cache of
// fixed-size disk sectors, with a background write-behind worker and an
// optional read-ahead worker.
//
// Locking discipline: the cache-wide mutex (Cache.mu) guards list
// membership and the sec_no -> entry search; each entry has its own mutex
// guarding its buffer and flags. The cache mutex is always acquired
// before an entry mutex, never the reverse, and this package holds the
// cache mutex across a disk I/O on a miss -- that serializes all cache
// I/O, which is an acceptable trade at this scale but must not be
// mistaken for an accident.
package bufcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kernellab/diskfs/clock"
	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/logger"
	"github.com/kernellab/diskfs/internal/metrics"
	"github.com/kernellab/diskfs/internal/queue"
	"golang.org/x/sync/errgroup"
)

// entry is a single cached sector. Its buffer and flags are guarded by mu;
// its list membership is guarded by the owning Cache's mu.
type entry struct {
	mu      sync.Mutex
	secNo   block.SectorNum
	loaded  bool
	dirty   bool
	buf     [block.SectorSize]byte
	element *list.Element // this entry's node in Cache.inUse or Cache.free
}

// Cache is a bounded, write-back LRU cache of disk sectors.
type Cache struct {
	dev     block.Device
	metrics metrics.CacheMetricHandle

	mu    sync.Mutex
	inUse *list.List          // most-recently-used at Front
	free  *list.List          // holds *entry not currently loaded
	index map[block.SectorNum]*list.Element

	capacity int

	readAheadMu   sync.Mutex
	readAheadCond *sync.Cond
	pending       queue.Queue[block.SectorNum]
	pendingSet    map[block.SectorNum]bool

	writeBehindInterval time.Duration
	clock               clock.Clock

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New preallocates capacity empty entries on the free list. It does not
// start the background workers; call Start for that.
func New(dev block.Device, capacity int, writeBehindInterval time.Duration, m metrics.CacheMetricHandle) *Cache {
	if capacity <= 0 {
		panic("bufcache: capacity must be positive")
	}
	c := &Cache{
		dev:                 dev,
		metrics:             m,
		inUse:               list.New(),
		free:                list.New(),
		index:               make(map[block.SectorNum]*list.Element, capacity),
		capacity:            capacity,
		pending:             queue.NewLinkedListQueue[block.SectorNum](),
		pendingSet:          make(map[block.SectorNum]bool),
		writeBehindInterval: writeBehindInterval,
		clock:               clock.RealClock{},
	}
	c.readAheadCond = sync.NewCond(&c.readAheadMu)
	for i := 0; i < capacity; i++ {
		c.free.PushFront(&entry{})
	}
	return c
}

// SetClock overrides the clock the write-behind loop schedules against.
// Tests use this to inject a clock.SimulatedClock and advance time
// deterministically instead of sleeping for real intervals. Must be
// called before Start.
func (c *Cache) SetClock(ck clock.Clock) {
	c.clock = ck
}

// Start launches the write-behind and read-ahead background workers,
// supervised by a single errgroup so Close can stop and join both with
// one call.
func (c *Cache) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	c.cancel = cancel
	c.group = g

	g.Go(func() error {
		c.writeBehindLoop(gctx)
		return nil
	})
	g.Go(func() error {
		c.readAheadLoop(gctx)
		return nil
	})
}

// Stop cancels the background workers and waits for them to exit. It does
// not flush; call Clear first if a flush is required.
func (c *Cache) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.readAheadMu.Lock()
	c.readAheadCond.Broadcast()
	c.readAheadMu.Unlock()
	_ = c.group.Wait()
}

// Read copies n bytes from sector sec, offset ofs, into dst.
// REQUIRES: ofs+n <= block.SectorSize.
//
// The cache-wide lock is held for the whole call, including any disk I/O
// on a miss: see the package doc comment.
func (c *Cache) Read(sec block.SectorNum, dst []byte, ofs, n int) error {
	if ofs+n > block.SectorSize {
		return fmt.Errorf("bufcache: read out of bounds: ofs=%d n=%d", ofs, n)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, hit, err := c.findOrInsertLocked(sec)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if hit {
		if c.metrics != nil {
			c.metrics.CacheHit(context.Background(), 1)
		}
	} else {
		if c.metrics != nil {
			c.metrics.CacheMiss(context.Background(), 1)
		}
		if err := c.dev.ReadSector(sec, e.buf[:]); err != nil {
			return fmt.Errorf("bufcache: read sector %d: %w", sec, err)
		}
		e.loaded = true
	}
	copy(dst, e.buf[ofs:ofs+n])
	return nil
}

// Write writes n bytes from src into sector sec at offset ofs, loading the
// sector first only if the write is partial and the entry was not already
// loaded. Marks the entry dirty.
func (c *Cache) Write(sec block.SectorNum, src []byte, ofs, n int) error {
	if ofs+n > block.SectorSize {
		return fmt.Errorf("bufcache: write out of bounds: ofs=%d n=%d", ofs, n)
	}
	full := ofs == 0 && n == block.SectorSize

	c.mu.Lock()
	defer c.mu.Unlock()

	e, hit, err := c.findOrInsertLocked(sec)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if hit {
		if c.metrics != nil {
			c.metrics.CacheHit(context.Background(), 1)
		}
	} else {
		if c.metrics != nil {
			c.metrics.CacheMiss(context.Background(), 1)
		}
		if !full && !e.loaded {
			if err := c.dev.ReadSector(sec, e.buf[:]); err != nil {
				return fmt.Errorf("bufcache: read sector %d: %w", sec, err)
			}
		}
	}
	copy(e.buf[ofs:ofs+n], src[:n])
	e.dirty = true
	e.loaded = true
	return nil
}

// Request hints that sec should be prefetched. It is a no-op if the
// sector is already cached. Enqueueing is at-most-once-effective per
// request: duplicate pending requests for the same sector collapse.
func (c *Cache) Request(sec block.SectorNum) {
	c.mu.Lock()
	_, cached := c.index[sec]
	c.mu.Unlock()
	if cached {
		return
	}

	c.readAheadMu.Lock()
	defer c.readAheadMu.Unlock()
	if c.pendingSet[sec] {
		return
	}
	c.pendingSet[sec] = true
	c.pending.Push(sec)
	c.readAheadCond.Signal()
}

// Clear flushes every dirty entry, then drops all entries back to the
// free list (cached bytes are discarded, not merely unlinked from the
// index).
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for el := c.inUse.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		e.mu.Lock()
		if err := c.flushLocked(e); err != nil && firstErr == nil {
			firstErr = err
		}
		e.loaded = false
		e.element = nil
		e.mu.Unlock()
		c.inUse.Remove(el)
		delete(c.index, e.secNo)
		c.free.PushFront(e)
		el = next
	}
	return firstErr
}

// FlushAll writes back every dirty loaded entry without evicting it. The
// returned snapshot includes every write that completed before FlushAll
// acquired the cache lock.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushAllLocked()
}

func (c *Cache) flushAllLocked() error {
	var firstErr error
	for el := c.inUse.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		e.mu.Lock()
		if err := c.flushLocked(e); err != nil && firstErr == nil {
			firstErr = err
		}
		e.mu.Unlock()
	}
	if c.metrics != nil {
		c.metrics.CacheFlush(context.Background(), 1)
	}
	return firstErr
}

// flushLocked writes e's buffer back to disk if dirty and loaded.
// REQUIRES: e.mu held.
func (c *Cache) flushLocked(e *entry) error {
	if !e.dirty || !e.loaded {
		return nil
	}
	if err := c.dev.WriteSector(e.secNo, e.buf[:]); err != nil {
		return fmt.Errorf("bufcache: flush sector %d: %w", e.secNo, err)
	}
	e.dirty = false
	return nil
}

// findOrInsertLocked returns the entry for sec, promoted to the head of
// the LRU list on a hit, or a freshly reused free entry (linked at the
// head of inUse, evicting if necessary) on a miss. It does not populate
// the buffer on a miss and does not touch e.mu. REQUIRES: c.mu held.
func (c *Cache) findOrInsertLocked(sec block.SectorNum) (e *entry, hit bool, err error) {
	if el, ok := c.index[sec]; ok {
		e := el.Value.(*entry)
		c.inUse.MoveToFront(el)
		return e, true, nil
	}
	e, err = c.insertMissLocked(sec)
	return e, false, err
}

// insertMissLocked evicts if necessary, reuses a free entry for sec, and
// links it at the head of inUse. REQUIRES: c.mu held. Does not populate
// the buffer or touch e.mu.
func (c *Cache) insertMissLocked(sec block.SectorNum) (*entry, error) {
	if c.free.Len() == 0 {
		if err := c.evictLocked(); err != nil {
			return nil, err
		}
	}

	fel := c.free.Front()
	e := fel.Value.(*entry)
	c.free.Remove(fel)

	e.secNo = sec
	e.dirty = false
	e.loaded = false
	e.element = c.inUse.PushFront(e)
	c.index[sec] = e.element
	return e, nil
}

// evictLocked evicts the tail of inUse: if dirty and loaded, writes it
// back first. REQUIRES: c.mu held.
func (c *Cache) evictLocked() error {
	tail := c.inUse.Back()
	if tail == nil {
		return fmt.Errorf("bufcache: evict called with no in-use entries")
	}
	e := tail.Value.(*entry)

	e.mu.Lock()
	err := c.flushLocked(e)
	e.loaded = false
	e.element = nil
	e.mu.Unlock()

	c.inUse.Remove(tail)
	delete(c.index, e.secNo)
	c.free.PushFront(e)

	if c.metrics != nil {
		c.metrics.CacheEviction(context.Background(), 1)
	}
	return err
}

// writeBehindLoop wakes every writeBehindInterval and flushes dirty
// entries. It is an ordinary kernel-thread-equivalent background worker.
// It re-arms c.clock.After each iteration rather than using a
// stdlib ticker, so a test driving a clock.SimulatedClock can fire it
// deterministically instead of sleeping for real.
func (c *Cache) writeBehindLoop(ctx context.Context) {
	interval := c.writeBehindInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(interval):
			c.mu.Lock()
			if err := c.flushAllLocked(); err != nil {
				logger.Warnf("bufcache: write-behind flush: %v", err)
			}
			c.mu.Unlock()
		}
	}
}

// readAheadLoop blocks on pending sector numbers and, for each, performs
// a read-miss that populates the cache but copies no data to a caller.
func (c *Cache) readAheadLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		c.readAheadMu.Lock()
		c.readAheadCond.Broadcast()
		c.readAheadMu.Unlock()
	}()

	for {
		c.readAheadMu.Lock()
		for c.pending.IsEmpty() {
			if ctx.Err() != nil {
				c.readAheadMu.Unlock()
				return
			}
			c.readAheadCond.Wait()
		}
		sec := c.pending.Pop()
		delete(c.pendingSet, sec)
		c.readAheadMu.Unlock()

		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if _, cached := c.index[sec]; cached {
			c.mu.Unlock()
			continue
		}
		e, err := c.insertMissLocked(sec)
		if err != nil {
			logger.Warnf("bufcache: read-ahead insert sector %d: %v", sec, err)
			c.mu.Unlock()
			continue
		}

		e.mu.Lock()
		err = c.dev.ReadSector(sec, e.buf[:])
		if err == nil {
			e.loaded = true
		}
		e.mu.Unlock()
		c.mu.Unlock()

		if err != nil {
			logger.Warnf("bufcache: read-ahead load sector %d: %v", sec, err)
			continue
		}
		if c.metrics != nil {
			c.metrics.ReadAheadServed(context.Background(), 1)
		}
	}
}
