// Copyright 2024 The Kudu-Go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package hlc is a hybrid logical clock: a physical-time component that
// advances with the wall clock and a logical counter that breaks ties
// between events indistinguishable at the wall clock's resolution. Every
// write transaction (spec §4.G/H) is assigned a Timestamp from one of
// these, and every replica folds the timestamps it observes from peers back
// into its own via Update so causality tracks happens-before across the
// cluster without synchronized clocks.
package hlc

import (
	"sync"
	"time"

	"github.com/kudu-go/master/status"
)

// bitsToShift reserves the low 12 bits of a Timestamp for the logical
// counter, leaving the high bits for microseconds since the Unix epoch.
const bitsToShift = 12

const logicalMask = (1 << bitsToShift) - 1

// Timestamp is an opaque, totally ordered hybrid logical clock value:
// physical microseconds in the high bits, a logical tie-breaker in the low
// bits, exactly as the clock this package is modeled on packs them.
type Timestamp uint64

// Physical returns the microseconds-since-epoch component.
func (t Timestamp) Physical() uint64 { return uint64(t) >> bitsToShift }

// Logical returns the tie-breaking component.
func (t Timestamp) Logical() uint64 { return uint64(t) & logicalMask }

// Less reports whether t happened before other.
func (t Timestamp) Less(other Timestamp) bool { return t < other }

func fromParts(physicalMicros, logical uint64) Timestamp {
	return Timestamp((physicalMicros << bitsToShift) + logical)
}

// Clock is a hybrid logical clock local to one process. The zero value is
// not usable; construct with NewClock.
type Clock struct {
	mu sync.Mutex

	nowFn func() time.Time

	lastPhysical uint64
	nextLogical  uint64

	// maxDrift bounds how far into the future an externally observed
	// timestamp may sit before Update refuses it, guarding against a peer
	// whose clock (or a corrupted message) would otherwise poison ours.
	maxDrift time.Duration
}

// NewClock constructs a Clock whose physical component tracks the system
// wall clock, rejecting updates that claim to be more than maxDrift ahead of
// it.
func NewClock(maxDrift time.Duration) *Clock {
	return &Clock{nowFn: time.Now, maxDrift: maxDrift}
}

// Now returns a new Timestamp guaranteed to be greater than every Timestamp
// previously returned by Now or passed to Update on this Clock.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() Timestamp {
	physNow := uint64(c.nowFn().UnixMicro())
	if physNow > c.lastPhysical {
		c.lastPhysical = physNow
		c.nextLogical = 1
		return fromParts(c.lastPhysical, 0)
	}
	// The wall clock hasn't advanced past our last reading (or went
	// backwards); stay on lastPhysical and bump the logical counter so the
	// result still strictly exceeds the previous value.
	ts := fromParts(c.lastPhysical, c.nextLogical)
	c.nextLogical++
	return ts
}

// Update folds an externally observed Timestamp into the clock: the next
// value Now returns will exceed both what the clock would have produced on
// its own and the observed value, the core hybrid-logical-clock property
// that makes causality track happens-before across machines.
func (c *Clock) Update(observed Timestamp) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowLocked()
	if !now.Less(observed) {
		return nil
	}

	if c.maxDrift > 0 {
		driftMicros := observed.Physical() - now.Physical()
		if driftMicros > uint64(c.maxDrift.Microseconds()) {
			return status.InvalidArgumentf("observed timestamp %d is %dµs ahead of local clock, beyond max drift %s",
				uint64(observed), driftMicros, c.maxDrift)
		}
	}

	c.lastPhysical = observed.Physical()
	c.nextLogical = observed.Logical() + 1
	return nil
}
