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

package clock

import (
	"sync"
	"time"
)

// FakeClock fires After on a real timer after a fixed WaitTime, instead of
// the real duration requested, so a test can assert a write-behind or
// read-ahead worker keeps waking up without waiting out its real interval.
// Unlike SimulatedClock it is not driven by explicit AdvanceTime/SetTime
// calls: Now reports whatever time it was last told to, and stays there
// until SetTime is called again.
type FakeClock struct {
	WaitTime time.Duration

	mu  sync.Mutex
	now time.Time
}

// Now returns the time FakeClock was last told to report via SetTime, or
// the zero time if SetTime was never called.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SetTime pins the time Now reports until the next SetTime call.
func (c *FakeClock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// After notifies on the returned channel once WaitTime has elapsed,
// regardless of the duration passed in.
func (c *FakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	go func() {
		time.Sleep(c.WaitTime)
		ch <- c.Now()
	}()
	return ch
}
