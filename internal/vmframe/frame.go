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

// Package vmframe tracks the physical frames handed out to user pages.
// Allocation is decoupled from eviction policy: Allocator only knows how
// to hand out and reclaim frame slots; the policy for which frame to
// evict under pressure is supplied by the caller through Evict's
// callback, the way the original frame table kept eviction pluggable
// from its allocation bookkeeping.
package vmframe

import (
	"fmt"
	"sync"
)

// Frame identifies one physical page slot, 0-based.
type Frame int

// Owner is the metadata the allocator stores per occupied frame; the
// supplemental page table fills in what Owner actually means.
type Owner struct {
	Dirty bool
	Data  any
}

// Allocator hands out a fixed number of frames.
type Allocator struct {
	mu     sync.Mutex
	owners map[Frame]Owner
	order  []Frame // allocation order, oldest first, for a simple clock-free eviction fallback
	total  int
}

// New creates an allocator over `total` physical frames.
func New(total int) *Allocator {
	return &Allocator{owners: make(map[Frame]Owner), total: total}
}

// Allocate reserves and returns a free frame, or ok=false if none remain
// (the caller should then call Evict to make room).
func (a *Allocator) Allocate(owner Owner) (Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.owners) >= a.total {
		return 0, false
	}
	for f := Frame(0); int(f) < a.total; f++ {
		if _, taken := a.owners[f]; !taken {
			a.owners[f] = owner
			a.order = append(a.order, f)
			return f, true
		}
	}
	return 0, false
}

// Free releases f back to the pool.
func (a *Allocator) Free(f Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.owners, f)
	for i, of := range a.order {
		if of == f {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// MarkDirty records that f's contents diverge from its backing store.
func (a *Allocator) MarkDirty(f Frame, dirty bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o := a.owners[f]
	o.Dirty = dirty
	a.owners[f] = o
}

// Owner returns f's current owner metadata.
func (a *Allocator) Owner(f Frame) (Owner, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.owners[f]
	return o, ok
}

// Evict walks occupied frames oldest-first, calling shouldEvict(owner)
// on each until one returns true; that frame is freed by the caller
// (Evict itself does not free it, since write-back must happen first
// with the frame still valid) and its Frame/Owner are returned.
func (a *Allocator) Evict(shouldEvict func(Owner) bool) (Frame, Owner, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range a.order {
		o := a.owners[f]
		if shouldEvict(o) {
			return f, o, nil
		}
	}
	return 0, Owner{}, fmt.Errorf("vmframe: no evictable frame found")
}
