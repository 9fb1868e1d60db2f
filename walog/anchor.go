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

package walog

import (
	"sync"

	"github.com/google/btree"
	"github.com/kudu-go/master/masterpb"
)

// AnchorRegistry is the Log Anchor Registry (spec §4.C): the set of
// REPLICATE OpIDs that something still needs present in the log, kept in
// OpID order so the earliest anchor can be found in O(log n) regardless of
// how many anchors are currently registered. tablet.Peer registers an
// anchor when a REPLICATE is appended to the log and releases it once its
// COMMIT has been durably appended; bootstrap and any future log-GC pass
// must never discard an entry at or after the earliest anchor.
type AnchorRegistry struct {
	mu   sync.Mutex
	tree *btree.BTree
}

// anchorItem implements btree.Item by OpID's (term, index) order.
type anchorItem struct {
	id    masterpb.OpID
	count int
}

func (a *anchorItem) Less(than btree.Item) bool {
	return a.id.Less(than.(*anchorItem).id)
}

// NewAnchorRegistry creates an empty registry.
func NewAnchorRegistry() *AnchorRegistry {
	return &AnchorRegistry{tree: btree.New(32)}
}

// Register adds an anchor at id. The same id may be registered more than
// once (e.g. a retried operation); the anchor is only actually released
// once every Register call for it has a matching Release.
func (r *AnchorRegistry) Register(id masterpb.OpID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := &anchorItem{id: id}
	if existing := r.tree.Get(key); existing != nil {
		existing.(*anchorItem).count++
		return
	}
	key.count = 1
	r.tree.ReplaceOrInsert(key)
}

// Release removes one registration of id, dropping the anchor entirely
// once its count reaches zero.
func (r *AnchorRegistry) Release(id masterpb.OpID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := &anchorItem{id: id}
	existing := r.tree.Get(key)
	if existing == nil {
		return
	}
	item := existing.(*anchorItem)
	item.count--
	if item.count <= 0 {
		r.tree.Delete(key)
	}
}

// EarliestAnchor returns the smallest anchored OpID and true, or the zero
// OpID and false if nothing is currently anchored.
func (r *AnchorRegistry) EarliestAnchor() (masterpb.OpID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	min := r.tree.Min()
	if min == nil {
		return masterpb.OpID{}, false
	}
	return min.(*anchorItem).id, true
}

// Len returns the number of distinct anchored OpIDs.
func (r *AnchorRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Len()
}
