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

package consensus

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/coreos/etcd/raft/raftpb"
	"github.com/golang/glog"
)

// LocalTransport routes raft messages between Groups registered in the same
// process, the in-process analogue of the teacher's localRPCTransport
// (multiraft/transport.go's NewLocalRPCTransport): real inter-process
// delivery belongs to a network transport, which is out of scope for this
// module (spec §1), but the catalog's raft group still needs something to
// hand Ready().Messages to, and a single-node deployment needs no more than
// this to drive itself.
type LocalTransport struct {
	mu     sync.Mutex
	groups map[uint64]*Group
}

// NewLocalTransport returns an empty LocalTransport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{groups: make(map[uint64]*Group)}
}

// Register associates a raft ID with the Group that should receive messages
// addressed to it. Messages sent to an id before it is registered are
// dropped.
func (lt *LocalTransport) Register(id uint64, g *Group) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.groups[id] = g
}

// Unregister removes a previously Registered group.
func (lt *LocalTransport) Unregister(id uint64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	delete(lt.groups, id)
}

// Send implements Transport by stepping each message directly into its
// destination Group's raft.Node, each on its own goroutine so a slow or
// missing peer can't stall the sender's Ready() loop.
func (lt *LocalTransport) Send(msgs []raftpb.Message) {
	for _, m := range msgs {
		lt.mu.Lock()
		dst := lt.groups[m.To]
		lt.mu.Unlock()
		if dst == nil {
			continue
		}
		go func(m raftpb.Message) {
			if err := dst.Step(context.Background(), m); err != nil {
				glog.Warningf("consensus: local transport: deliver to %d: %v", m.To, err)
			}
		}(m)
	}
}

// IDFromUUID derives the numeric raft ID raft.Node requires from a replica's
// permanent_uuid (quorum.QuorumPeerPB.PermanentUUID). Raft IDs must be
// nonzero and unique within a group; permanent_uuids are opaque strings
// assigned once at a replica's first boot (spec §3), so they are hashed
// rather than parsed.
func IDFromUUID(uuid string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(uuid))
	id := h.Sum64()
	if id == 0 {
		// fnv never actually produces zero for a non-empty write, but raft
		// treats 0 as "no ID" so guard against it regardless of input.
		id = 1
	}
	return id
}
