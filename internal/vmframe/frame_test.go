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

package vmframe

import "testing"

func TestAllocateUpToCapacity(t *testing.T) {
	a := New(2)
	if _, ok := a.Allocate(Owner{}); !ok {
		t.Fatal("expected first allocation to succeed")
	}
	if _, ok := a.Allocate(Owner{}); !ok {
		t.Fatal("expected second allocation to succeed")
	}
	if _, ok := a.Allocate(Owner{}); ok {
		t.Fatal("expected third allocation to fail: capacity exhausted")
	}
}

func TestFreeReclaimsSlot(t *testing.T) {
	a := New(1)
	f, ok := a.Allocate(Owner{})
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	a.Free(f)
	if _, ok := a.Allocate(Owner{}); !ok {
		t.Fatal("expected allocation to succeed after Free")
	}
}

func TestEvictFindsOldestMatchingOwner(t *testing.T) {
	a := New(2)
	f1, _ := a.Allocate(Owner{Dirty: false})
	a.Allocate(Owner{Dirty: true})

	victim, owner, err := a.Evict(func(o Owner) bool { return !o.Dirty })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if victim != f1 {
		t.Fatalf("expected victim %v, got %v", f1, victim)
	}
	if owner.Dirty {
		t.Fatal("expected a non-dirty owner")
	}
}

func TestEvictNoMatchErrors(t *testing.T) {
	a := New(1)
	a.Allocate(Owner{Dirty: true})
	if _, _, err := a.Evict(func(o Owner) bool { return !o.Dirty }); err == nil {
		t.Fatal("expected no evictable frame")
	}
}
