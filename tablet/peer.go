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

package tablet

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/kudu-go/master/consensus"
	"github.com/kudu-go/master/hlc"
	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/rowstore"
	"github.com/kudu-go/master/status"
	"github.com/kudu-go/master/util/metric"
	"github.com/kudu-go/master/walog"
)

type commitResult struct {
	id   masterpb.OpID
	resp []byte
	err  error
}

// Peer owns everything one replica of the sys catalog's tablet needs: its
// metadata, its row store, its write-ahead log, its anchor registry, and
// the consensus.Group replicating it (spec §4.F). It implements
// consensus.StateMachine itself, so a REPLICATE/COMMIT pair flowing out of
// consensus drives the exact same write-ahead log and row store that
// bootstrap replay (tablet.Bootstrap) reads back on the next restart.
//
// The write-transaction driver (package txn) that spec §4.G/§4.H describe
// is built as a caller of the primitives exposed here — SubmitAndWait in
// particular — rather than as something this package constructs itself, so
// tablet never imports txn.
type Peer struct {
	Metadata *Metadata
	Rows     *rowstore.Store
	Clock    *hlc.Clock
	// Metrics is the metric sink spec §4.E's Init threads through bootstrap
	// and spec §4.I's table constructor; it tracks replicated/committed op
	// counts and apply failures, nothing more (no time-series backend is
	// wired, see DESIGN.md).
	Metrics *metric.Registry

	mu          sync.Mutex
	log         *walog.Writer
	anchors     *walog.AnchorRegistry
	group       *consensus.Group
	applyFn     Apply
	pending     map[masterpb.OpID]masterpb.ReplicateMsg
	nextToken   uint64
	waiters     map[uint64]chan commitResult
	tokenToOpID map[uint64]masterpb.OpID

	opsReplicated *metric.Counter
	opsCommitted  *metric.Counter
	applyErrors   *metric.Counter
}

// NewPeer constructs a Peer over already-open metadata, row store and
// clock. Init must be called before Start.
func NewPeer(metadata *Metadata, rows *rowstore.Store, clock *hlc.Clock) *Peer {
	registry := metric.NewRegistry()
	p := &Peer{
		Metadata:    metadata,
		Rows:        rows,
		Clock:       clock,
		Metrics:     registry,
		anchors:     walog.NewAnchorRegistry(),
		pending:     make(map[masterpb.OpID]masterpb.ReplicateMsg),
		waiters:     make(map[uint64]chan commitResult),
		tokenToOpID: make(map[uint64]masterpb.OpID),
	}
	p.opsReplicated = registry.Counter("ops.replicated")
	p.opsCommitted = registry.Counter("ops.committed")
	p.applyErrors = registry.Counter("ops.apply_errors")
	return p
}

// Init replays logPath (spec §4.E) via Bootstrap, applying each already
// committed REPLICATE it finds to Rows through applyToRows, and leaves the
// Peer holding an open log Writer at end-of-log ready for Start.
// applyToRows is retained and reused for every future ApplyCommit, so it
// must be the same function for the lifetime of the Peer.
func (p *Peer) Init(logPath string, applyToRows Apply) (*BootstrapInfo, error) {
	info, w, err := Bootstrap(logPath, applyToRows)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.log = w
	p.applyFn = applyToRows
	p.mu.Unlock()
	return info, nil
}

// Start launches consensus over cfg (Peers/Storage assembled by the master
// package from the persisted quorum) and re-drives every orphaned
// replicate bootstrap turned up.
//
// SPEC_FULL §12.F re-drives an orphan as a replica-side apply, never a
// fresh leader proposal, because a multi-replica deployment's raft log
// survives a restart and the orphan is still sitting in it waiting for a
// COMMIT. This module's consensus.Group does not persist the raft log
// itself across restarts — only this package's own walog and
// consensusmeta records survive a crash, by design (see DESIGN.md) — so on
// every restart the underlying raft.MemoryStorage starts empty regardless
// of what ran before. An orphan therefore has no surviving log entry for a
// quorum to re-deliver a COMMIT for; re-proposing it as a new leader write
// is the only way to honor it, which is safe because this process is, by
// construction, the only member of its own freshly started group.
func (p *Peer) Start(cfg consensus.Config, info *BootstrapInfo) error {
	cfg.Applier = p
	group, err := consensus.Start(cfg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.group = group
	p.mu.Unlock()

	for _, msg := range info.OrphanedReplicates {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, _, err := p.SubmitAndWait(ctx, msg.Type, msg.Payload)
		cancel()
		if err != nil {
			glog.Errorf("tablet %s: failed to re-drive orphaned replicate %s: %v",
				p.Metadata.TabletID(), msg.ID, err)
			return status.Wrap(err, status.ServiceUnavailable, "re-drive orphaned replicate "+msg.ID.String())
		}
	}
	return nil
}

// WaitUntilConsensusRunning polls in 1-second slices until consensus has
// started, logging a warning on every iteration it hasn't, the retry
// cadence SPEC_FULL §13.2 reconstructs from the original's
// sys_catalog.cc WaitUntilRunning (spec §4.F only says "polls until
// ready").
func (p *Peer) WaitUntilConsensusRunning(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		running := p.group != nil
		p.mu.Unlock()
		if running {
			return nil
		}
		if time.Now().After(deadline) {
			return status.TimedOutf("consensus did not start within %s", timeout)
		}
		glog.Warningf("tablet %s: still waiting for consensus to start", p.Metadata.TabletID())
		time.Sleep(time.Second)
	}
}

// Group returns the underlying consensus.Group, or nil before Start. Used
// by the owning master package to register this peer's group with a
// Transport.
func (p *Peer) Group() *consensus.Group {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.group
}

// Role reports this replica's current quorum role, or NON_PARTICIPANT if
// consensus has not started yet.
func (p *Peer) Role() masterpb.Role {
	p.mu.Lock()
	g := p.group
	p.mu.Unlock()
	if g == nil {
		return masterpb.NON_PARTICIPANT
	}
	return g.Role()
}

// Stop halts consensus and closes the log.
func (p *Peer) Stop() error {
	p.mu.Lock()
	g := p.group
	w := p.log
	p.mu.Unlock()
	if g != nil {
		g.Stop()
	}
	if w != nil {
		return w.Close()
	}
	return nil
}

// SubmitAndWait proposes payload through consensus under opType and blocks
// until it has committed (or ctx is done), returning the op id consensus
// assigned it together with whatever response bytes applyFn produced for
// it. This is the primitive spec §4.G's write-transaction driver calls
// during its Replicate step; Prepare-time validation, row locking and
// timestamp assignment all happen in the caller (package txn), not here.
func (p *Peer) SubmitAndWait(ctx context.Context, opType masterpb.OpType, payload []byte) (masterpb.OpID, []byte, error) {
	p.mu.Lock()
	if p.group == nil {
		p.mu.Unlock()
		return masterpb.OpID{}, nil, status.ServiceUnavailablef("consensus not running")
	}
	token := p.nextToken
	p.nextToken++
	ch := make(chan commitResult, 1)
	p.waiters[token] = ch
	group := p.group
	p.mu.Unlock()

	ts := p.Clock.Now()
	wrapped := encodeToken(token, payload)
	if err := group.Propose(ctx, opType, uint64(ts), wrapped); err != nil {
		p.mu.Lock()
		delete(p.waiters, token)
		p.mu.Unlock()
		return masterpb.OpID{}, nil, status.Wrap(err, status.ServiceUnavailable, "propose to consensus")
	}

	select {
	case res := <-ch:
		return res.id, res.resp, res.err
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.waiters, token)
		delete(p.tokenToOpID, token)
		p.mu.Unlock()
		return masterpb.OpID{}, nil, status.TimedOutf("write did not commit before deadline")
	}
}

// ApplyReplicate implements consensus.StateMachine: it strips this
// request's correlation token back off the payload, durably records the
// REPLICATE frame in the write-ahead log, anchors the op id so the log's
// GC policy won't reclaim it before a COMMIT arrives, and buffers the
// decoded message until ApplyCommit needs it.
func (p *Peer) ApplyReplicate(msg masterpb.ReplicateMsg) error {
	token, payload, err := decodeToken(msg.Payload)
	if err != nil {
		return status.Wrap(err, status.Corruption, "decode proposal token")
	}
	msg.Payload = payload

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.log != nil {
		if err := p.log.AppendReplicate(msg); err != nil {
			return err
		}
		if err := p.log.Sync(); err != nil {
			return err
		}
	}
	p.anchors.Register(msg.ID)
	p.pending[msg.ID] = msg
	p.tokenToOpID[token] = msg.ID
	p.opsReplicated.Inc(1)
	return nil
}

// ApplyCommit implements consensus.StateMachine: it runs the tablet's
// typed apply against Rows (spec §4.G's Apply step — InsertUnlocked /
// MutateRowUnlocked / AlterSchema, depending on what applyFn was given at
// Init), durably records the COMMIT frame regardless of whether that apply
// succeeded, releases the log anchor, and wakes whichever SubmitAndWait call,
// if any, is waiting on this op id.
//
// A per-row failure (AlreadyPresent, NotFound — applyFn returns these inside
// its response payload, not as a Go error) is still a normal commit: spec
// §4.G "per-row errors do not abort the batch". Only a real applyFn error —
// decode/IO failure, something the whole Apply step couldn't get past — is
// recorded as an OP_ABORT commit (spec §4.G/§7's tie-break), so a replica
// replaying this tablet's log later knows to discard the op rather than
// re-run an apply already known to fail.
func (p *Peer) ApplyCommit(id masterpb.OpID) error {
	p.mu.Lock()
	msg, ok := p.pending[id]
	if !ok {
		p.mu.Unlock()
		return status.Corruptionf("consensus committed unknown op %s", id)
	}
	delete(p.pending, id)
	applyFn := p.applyFn
	p.mu.Unlock()

	var applyResp []byte
	var applyErr error
	if applyFn != nil {
		applyResp, applyErr = applyFn(msg)
	}
	p.opsCommitted.Inc(1)
	if applyErr != nil {
		p.applyErrors.Inc(1)
	}

	commitType := msg.Type
	result := applyResp
	if applyErr != nil {
		commitType = masterpb.OpAbort
		result = nil
	}

	p.mu.Lock()
	if p.log != nil {
		commit := masterpb.CommitMsg{CommitedOpID: id, OpType: commitType, Timestamp: msg.Timestamp, Result: result}
		if err := p.log.AppendCommit(commit); err != nil {
			p.mu.Unlock()
			return err
		}
		if err := p.log.Sync(); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.anchors.Release(id)

	var waiter chan commitResult
	for token, opID := range p.tokenToOpID {
		if opID == id {
			waiter = p.waiters[token]
			delete(p.waiters, token)
			delete(p.tokenToOpID, token)
			break
		}
	}
	p.mu.Unlock()

	if waiter != nil {
		waiter <- commitResult{id: id, resp: applyResp, err: applyErr}
	}
	return nil
}

// encodeToken/decodeToken prefix a proposal's payload with an 8-byte
// correlation token so ApplyCommit can find the SubmitAndWait call that
// proposed it once consensus assigns it an op id — raft only ever hands
// Ready() entries back by (term, index), never by anything the proposer
// supplied, so the token has to travel inside the payload itself.
func encodeToken(token uint64, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(out, token)
	copy(out[8:], payload)
	return out
}

func decodeToken(data []byte) (token uint64, payload []byte, err error) {
	if len(data) < 8 {
		return 0, nil, status.Corruptionf("replicate payload too short for correlation token")
	}
	return binary.BigEndian.Uint64(data[:8]), data[8:], nil
}
