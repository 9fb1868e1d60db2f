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

// Package txn is the write-transaction driver (spec §4.G/§4.H): Prepare,
// Replicate, Apply and Finish, built entirely as a caller of the primitives
// tablet.Peer exposes (SubmitAndWait for Replicate, Init's Apply callback
// for Apply) rather than as something tablet constructs itself.
package txn

import (
	"sort"
	"sync"
)

// RowLockTable hands out per-key locks in sorted order so two concurrent
// writes touching overlapping rows can never deadlock against each other
// (spec §4.G Prepare, §8 "deadlock-avoiding row locking"). It is the
// row-keyed counterpart of the teacher's range-keyed spanlatch.SpanSet,
// simplified to single keys because the catalog's rows are addressed by
// exact primary key, never by range.
type RowLockTable struct {
	mu    sync.Mutex
	locks map[string]*rowLock
}

type rowLock struct {
	mu  sync.Mutex
	ref int
}

// NewRowLockTable constructs an empty lock table.
func NewRowLockTable() *RowLockTable {
	return &RowLockTable{locks: make(map[string]*rowLock)}
}

// Held is the set of row locks acquired by a single Prepare call; Release
// drops every one of them in one call, as Finish does at the end of a
// transaction (spec §4.G Finish: "drop locks").
type Held struct {
	table *RowLockTable
	keys  []string
}

// Acquire locks every key in keys, always in sorted order regardless of the
// order keys were passed in, so that two Prepare calls racing over the same
// rows always attempt to take them in the same order and neither can block
// waiting on a lock the other already holds further down its own list.
func (t *RowLockTable) Acquire(keys []string) *Held {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	// Acquiring the same key twice (a batch that mutates one row more than
	// once) would deadlock a non-reentrant mutex against itself; collapse
	// duplicates after sorting instead.
	deduped := sorted[:0]
	for i, k := range sorted {
		if i == 0 || k != sorted[i-1] {
			deduped = append(deduped, k)
		}
	}

	for _, k := range deduped {
		t.mu.Lock()
		l, ok := t.locks[k]
		if !ok {
			l = &rowLock{}
			t.locks[k] = l
		}
		l.ref++
		t.mu.Unlock()

		l.mu.Lock()
	}
	return &Held{table: t, keys: deduped}
}

// Release drops every lock this Held holds.
func (h *Held) Release() {
	for _, k := range h.keys {
		h.table.mu.Lock()
		l := h.table.locks[k]
		l.ref--
		if l.ref == 0 {
			delete(h.table.locks, k)
		}
		h.table.mu.Unlock()

		l.mu.Unlock()
	}
}
