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

// Package master ties the quorum builder, the tablet peer and the typed
// sys-catalog table together into one running replica (spec §3, §4.F). It
// is the only package in this module that knows how to start from nothing
// (CreateNew) or resume from an existing data directory (Load); everything
// above it — an RPC service, a CLI — is out of scope (spec §1) except for
// cmd/master, which only parses Options and calls into here.
package master

import (
	"context"
	"path/filepath"
	"time"

	"github.com/coreos/etcd/raft"

	"github.com/kudu-go/master/consensus"
	"github.com/kudu-go/master/consensusmeta"
	"github.com/kudu-go/master/hlc"
	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/quorum"
	"github.com/kudu-go/master/rowstore"
	"github.com/kudu-go/master/status"
	"github.com/kudu-go/master/syscatalog"
	"github.com/kudu-go/master/tablet"
	"github.com/kudu-go/master/util"
)

// sysCatalogTableID is the catalog's own reserved table id, distinct from
// any user table the sys catalog might one day track rows about.
const sysCatalogTableID = "sys.catalog"

// maxClockDrift bounds how far into the future a peer's HLC timestamp may
// claim to be before this replica's clock refuses to adopt it.
const maxClockDrift = 500 * time.Millisecond

// Options collects everything one master process needs to start (spec §3;
// SPEC_FULL §10.3), grounded on Kudu's MasterOptions/mini_master.h.
type Options struct {
	// RPCAddress is this replica's own address, the Host/Port a quorum
	// peer resolves back to this process's permanent_uuid.
	RPCAddress util.HostPort
	// FollowerAddresses lists the other masters' addresses; meaningful
	// only when Leader is true (mirrors options.follower_addresses).
	FollowerAddresses []util.HostPort
	// LeaderAddress is the address of the master that starts the quorum
	// as LEADER, when this process is not it.
	LeaderAddress util.HostPort
	// Leader is true if this process should start the quorum as LEADER.
	Leader bool
	// FSRoot is the data directory holding this replica's instance uuid,
	// consensus metadata, tablet metadata, write-ahead log and row store.
	FSRoot string
	// InitialSeqno overrides the quorum's starting seqno; used by tests
	// that need a reproducible value rather than the zero default.
	InitialSeqno int64

	// ElectionTick/HeartbeatTick/TickInterval tune the consensus group's
	// clock; zero leaves consensus.Config's own defaults in place.
	ElectionTick  int
	HeartbeatTick int
	TickInterval  time.Duration
}

func (o Options) distributed() bool {
	return len(o.FollowerAddresses) > 0 || !o.LeaderAddress.IsZero()
}

func (o Options) validate() error {
	if o.FSRoot == "" {
		return status.Configurationf("master: Options.FSRoot is required")
	}
	return nil
}

// Master is one running replica of the sys catalog: its tablet peer, its
// typed table wrapper, and the local transport its consensus group drives
// outbound messages through. Construct with CreateNew or Load.
type Master struct {
	opts      Options
	selfUUID  string
	peer      *tablet.Peer
	table     *syscatalog.Table
	rows      *rowstore.Store
	transport *consensus.LocalTransport
}

// Table returns the typed sys-catalog accessor; everything above this
// package (an RPC service, out of scope per spec §1) is built against it.
func (m *Master) Table() *syscatalog.Table { return m.table }

// SelfUUID returns this replica's permanent_uuid.
func (m *Master) SelfUUID() string { return m.selfUUID }

// Role reports this replica's current quorum role.
func (m *Master) Role() masterpb.Role { return m.peer.Role() }

// WaitUntilRunning blocks until consensus has started or timeout elapses
// (SPEC_FULL §13.2's WaitUntilRunning retry loop).
func (m *Master) WaitUntilRunning(timeout time.Duration) error {
	return m.peer.WaitUntilConsensusRunning(timeout)
}

// Shutdown halts consensus, the apply pools, and closes the row store.
func (m *Master) Shutdown() {
	m.peer.Stop()
	m.table.Shutdown()
	m.rows.Close()
}

func walPath(fsRoot string) string {
	return filepath.Join(fsRoot, masterpb.SysCatalogTabletID+".wal")
}

func rowStorePath(fsRoot string) string {
	return filepath.Join(fsRoot, "rows.db")
}

// CreateNew bootstraps a brand-new sys catalog tablet under opts.FSRoot: a
// fresh instance uuid (minted if this directory has never run before), a
// fresh quorum resolved via resolver, and fresh consensus/tablet metadata.
// It fails (status.AlreadyPresent) if a tablet already exists there — spec
// §3's CreateNew path never silently adopts existing state.
func CreateNew(ctx context.Context, opts Options, resolver quorum.PeerResolver) (*Master, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	selfUUID, err := loadOrCreateInstanceUUID(opts.FSRoot)
	if err != nil {
		return nil, err
	}

	qopts := quorum.Options{
		Distributed:   opts.distributed(),
		SelfUUID:      selfUUID,
		SelfAddr:      opts.RPCAddress,
		IsLeader:      opts.Leader,
		FollowerAddrs: opts.FollowerAddresses,
		LeaderAddr:    opts.LeaderAddress,
	}
	q, err := quorum.Build(ctx, qopts, opts.InitialSeqno, resolver)
	if err != nil {
		return nil, err
	}

	if _, err := consensusmeta.Create(opts.FSRoot, masterpb.SysCatalogTabletID, q, quorum.MinimumTerm); err != nil {
		return nil, err
	}
	md, err := tablet.CreateNewMetadata(opts.FSRoot, masterpb.SysCatalogTabletID, sysCatalogTableID)
	if err != nil {
		return nil, err
	}

	return start(opts, selfUUID, md, q)
}

// Load resumes an existing sys catalog tablet from opts.FSRoot, rejoining
// whatever quorum was last durably recorded rather than building a new one
// (spec §3's Load path). Unlike CreateNew it never calls a PeerResolver: an
// already-persisted quorum's peers are, by construction, already resolved.
func Load(opts Options) (*Master, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	selfUUID, err := loadOrCreateInstanceUUID(opts.FSRoot)
	if err != nil {
		return nil, err
	}

	cmeta, err := consensusmeta.Load(opts.FSRoot, masterpb.SysCatalogTabletID)
	if err != nil {
		return nil, err
	}
	md, err := tablet.LoadMetadata(opts.FSRoot, masterpb.SysCatalogTabletID)
	if err != nil {
		return nil, err
	}

	return start(opts, selfUUID, md, cmeta.Quorum())
}

// start wires a peer, its typed table and a freshly started consensus
// group together. consensus.Group never persists its raft log across a
// process restart in this module (only the tablet's own walog and
// consensusmeta do, see tablet.Peer.Start's doc comment on orphan
// re-drive), so every call here — CreateNew or Load alike — bootstraps its
// group with the quorum's current peer set rather than attempting a true
// raft restart against empty Storage.
func start(opts Options, selfUUID string, md *tablet.Metadata, q masterpb.QuorumPB) (*Master, error) {
	rows, err := rowstore.Open(rowStorePath(opts.FSRoot))
	if err != nil {
		return nil, err
	}

	peer := tablet.NewPeer(md, rows, hlc.NewClock(maxClockDrift))
	// A non-distributed quorum always names this replica LEADER, whatever
	// opts.Leader says.
	table, err := syscatalog.NewTable(peer, opts.Leader || !opts.distributed())
	if err != nil {
		rows.Close()
		return nil, err
	}

	info, err := peer.Init(walPath(opts.FSRoot), table.ApplyCommitted)
	if err != nil {
		rows.Close()
		return nil, err
	}

	transport := consensus.NewLocalTransport()
	cfg := consensus.Config{
		ID:            consensus.IDFromUUID(selfUUID),
		Peers:         raftPeers(q),
		ElectionTick:  opts.ElectionTick,
		HeartbeatTick: opts.HeartbeatTick,
		TickInterval:  opts.TickInterval,
		Transport:     transport,
		RoleChanged:   table.SysCatalogStateChanged,
	}

	if err := peer.Start(cfg, info); err != nil {
		rows.Close()
		return nil, err
	}
	transport.Register(cfg.ID, peer.Group())

	return &Master{
		opts:      opts,
		selfUUID:  selfUUID,
		peer:      peer,
		table:     table,
		rows:      rows,
		transport: transport,
	}, nil
}

// raftPeers derives the raft.Peer set a brand-new group's Start needs from
// the quorum's already-resolved permanent_uuids.
func raftPeers(q masterpb.QuorumPB) []raft.Peer {
	peers := make([]raft.Peer, 0, len(q.Peers))
	for _, p := range q.Peers {
		peers = append(peers, raft.Peer{ID: consensus.IDFromUUID(p.PermanentUUID)})
	}
	return peers
}
