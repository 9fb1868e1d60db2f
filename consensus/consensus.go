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

// Package consensus drives the sys catalog's single raft group. It wraps
// github.com/coreos/etcd/raft the way multiraft/multiraft.go wraps it for a
// cockroach range: a Config names the local peer and its ticking/transport
// dependencies, Start returns a running Group, and a goroutine pumps
// raft.Node's Ready() channel to disk and to the wire.
//
// Kudu's consensus module treats a quorum (membership) change as an ordinary
// replicated operation — masterpb.ChangeConfigOp — rather than as a native
// raft configuration change, so this package never calls
// raft.Node.ProposeConfChange. Nothing in this module proposes a
// ChangeConfigOp either, and txn.Driver.Apply rejects one as an unknown op
// type; the on-disk quorum is written only through consensusmeta, outside
// the replicated log. This keeps the group's peer set fixed for its own
// lifetime, matching Kudu's "sys_catalog.cc" restart-to-reconfigure model
// described in spec §3/§9 more closely than etcd/raft's own joint-consensus
// machinery would.
package consensus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coreos/etcd/raft"
	"github.com/coreos/etcd/raft/raftpb"
	"github.com/golang/glog"

	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/status"
)

// StateMachine is the write-transaction driver's hook into a Group's log.
// ApplyReplicate and ApplyCommit are invoked in log order, from the single
// goroutine that drains the Group's Ready() channel, so an implementation
// never sees them out of order or concurrently with each other.
type StateMachine interface {
	// ApplyReplicate is invoked once an entry has been appended to the raft
	// log, before it is known to be committed. msg.ID is assigned by
	// consensus itself (msg.ID.Term/Index mirror the raft entry's own term
	// and index), overriding whatever the proposer put there. Implementors
	// persist msg to their own write-ahead log (walog.Writer.AppendReplicate)
	// so bootstrap can replay operations that reached the log but crashed
	// before committing (spec §4.E's "orphaned replicates").
	ApplyReplicate(msg masterpb.ReplicateMsg) error

	// ApplyCommit is invoked once id has been committed by a quorum of the
	// group, in log order, and drives the write-transaction driver's
	// Apply/Commit phases (spec §4.G).
	ApplyCommit(id masterpb.OpID) error
}

// Transport delivers outbound raft messages to their destination peers.
// Real inter-process delivery is network transport and out of scope for
// this module (spec §1); LocalTransport below is the in-process stand-in
// used by tests and by a single-node deployment.
type Transport interface {
	Send(msgs []raftpb.Message)
}

// Config describes one local replica of the sys catalog's raft group.
type Config struct {
	// ID is this replica's raft identity. The quorum package resolves each
	// peer's permanent_uuid; IDFromUUID derives the numeric raft ID raft.Node
	// itself requires from that string.
	ID uint64
	// Peers lists every replica's raft ID for a brand-new group. Leave nil
	// when restarting an existing group from Storage.
	Peers []raft.Peer
	// Storage holds the raft-internal log raft.Node itself needs (term
	// votes, unstable entries); it is separate from and in addition to the
	// catalog's own walog, which is what bootstrap actually replays.
	Storage raft.Storage

	ElectionTick  int
	HeartbeatTick int
	TickInterval  time.Duration

	Applier   StateMachine
	Transport Transport

	// RoleChanged, if set, is invoked from the Group's own driving goroutine
	// whenever raft reports a soft-state transition — a role or leader
	// change. syscatalog.Table uses this as SysCatalogStateChanged's trigger
	// (spec §4.I): it must never block or call back into the Group.
	RoleChanged func(masterpb.Role)
}

func (c *Config) setDefaults() {
	if c.ElectionTick == 0 {
		c.ElectionTick = 10
	}
	if c.HeartbeatTick == 0 {
		c.HeartbeatTick = 1
	}
	if c.TickInterval == 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.Storage == nil {
		c.Storage = raft.NewMemoryStorage()
	}
}

func (c *Config) validate() error {
	if c.ID == 0 {
		return status.Configurationf("consensus: Config.ID must be nonzero")
	}
	if c.Applier == nil {
		return status.Configurationf("consensus: Config.Applier is required")
	}
	if c.Transport == nil {
		return status.Configurationf("consensus: Config.Transport is required")
	}
	return nil
}

// Group is one running replica of the sys catalog's raft group.
type Group struct {
	id   uint64
	node raft.Node
	cfg  Config

	stopOnce sync.Once
	stopc    chan struct{}
	donec    chan struct{}
}

// Start creates and runs a Group. Pass non-nil Peers to bootstrap a brand
// new group (spec §3's CreateNew path); pass nil Peers with a Storage
// already populated from a prior run to rejoin an existing one (spec §3's
// Load path) — this mirrors raft.StartNode vs raft.RestartNode.
func Start(cfg Config) (*Group, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rc := &raft.Config{
		ID:              cfg.ID,
		ElectionTick:    cfg.ElectionTick,
		HeartbeatTick:   cfg.HeartbeatTick,
		Storage:         cfg.Storage,
		MaxSizePerMsg:   1 << 20,
		MaxInflightMsgs: 256,
	}

	var node raft.Node
	if len(cfg.Peers) > 0 {
		node = raft.StartNode(rc, cfg.Peers)
	} else {
		node = raft.RestartNode(rc)
	}

	g := &Group{
		id:    cfg.ID,
		node:  node,
		cfg:   cfg,
		stopc: make(chan struct{}),
		donec: make(chan struct{}),
	}
	go g.run()
	return g, nil
}

// ID returns this replica's raft identity.
func (g *Group) ID() uint64 { return g.id }

// Propose submits a new write for replication. The (term, index) identifying
// the resulting log entry is assigned by consensus, not by the caller; it is
// reported back through StateMachine.ApplyReplicate/ApplyCommit.
func (g *Group) Propose(ctx context.Context, opType masterpb.OpType, timestamp uint64, payload []byte) error {
	body := masterpb.ReplicateMsg{Type: opType, Timestamp: timestamp, Payload: payload}
	data, err := body.Marshal()
	if err != nil {
		return status.Wrap(err, status.Corruption, "marshal replicate body")
	}
	return g.node.Propose(ctx, data)
}

// Step feeds an inbound raft message (delivered by Transport) into this
// group's state machine.
func (g *Group) Step(ctx context.Context, msg raftpb.Message) error {
	return g.node.Step(ctx, msg)
}

// Role reports this replica's current position in the quorum.
func (g *Group) Role() masterpb.Role {
	switch g.node.Status().RaftState {
	case raft.StateLeader:
		return masterpb.LEADER
	case raft.StateCandidate, raft.StatePreCandidate:
		return masterpb.CANDIDATE
	default:
		return masterpb.FOLLOWER
	}
}

// IsLeader reports whether this replica currently believes itself leader.
func (g *Group) IsLeader() bool { return g.Role() == masterpb.LEADER }

// Term returns this replica's current raft term.
func (g *Group) Term() uint64 { return g.node.Status().Term }

// Stop halts the group's driving goroutine and the underlying raft.Node.
func (g *Group) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopc)
		g.node.Stop()
		<-g.donec
	})
}

var errGroupStopped = errors.New("consensus: group stopped")

// run pumps raft.Node's Ready() channel: it persists new entries, applies
// committed ones, sends outbound messages, and ticks the election/heartbeat
// clock, exactly the loop the teacher's MultiRaft keeps per group except
// collapsed onto a single goroutine since this module runs exactly one
// group per process (spec §3 has no multi-tenant range map to fan out over).
func (g *Group) run() {
	defer close(g.donec)
	ticker := time.NewTicker(g.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopc:
			return
		case <-ticker.C:
			g.node.Tick()
		case rd := <-g.node.Ready():
			if err := g.handleReady(rd); err != nil {
				glog.Errorf("consensus: group %d: %v", g.id, err)
			}
			g.node.Advance()
		}
	}
}

func (g *Group) handleReady(rd raft.Ready) error {
	if !raft.IsEmptyHardState(rd.HardState) {
		if mem, ok := g.cfg.Storage.(*raft.MemoryStorage); ok {
			if err := mem.SetHardState(rd.HardState); err != nil {
				return status.Wrap(err, status.IOError, "persist raft hard state")
			}
		}
	}
	if len(rd.Entries) > 0 {
		if mem, ok := g.cfg.Storage.(*raft.MemoryStorage); ok {
			if err := mem.Append(rd.Entries); err != nil {
				return status.Wrap(err, status.IOError, "persist raft log entries")
			}
		}
		for _, e := range rd.Entries {
			if e.Type != raftpb.EntryNormal || len(e.Data) == 0 {
				continue
			}
			var msg masterpb.ReplicateMsg
			if err := msg.Unmarshal(e.Data); err != nil {
				return status.Wrap(err, status.Corruption, "unmarshal replicate entry")
			}
			msg.ID = masterpb.OpID{Term: e.Term, Index: e.Index}
			if err := g.cfg.Applier.ApplyReplicate(msg); err != nil {
				return err
			}
		}
	}

	if len(rd.Messages) > 0 {
		g.cfg.Transport.Send(rd.Messages)
	}

	for _, e := range rd.CommittedEntries {
		if e.Type != raftpb.EntryNormal || len(e.Data) == 0 {
			continue
		}
		id := masterpb.OpID{Term: e.Term, Index: e.Index}
		if err := g.cfg.Applier.ApplyCommit(id); err != nil {
			return err
		}
	}

	if rd.SoftState != nil {
		role := g.Role()
		glog.Infof("consensus: group %d: role now %s, leader %d", g.id, role, rd.SoftState.Lead)
		if g.cfg.RoleChanged != nil {
			g.cfg.RoleChanged(role)
		}
	}
	return nil
}
