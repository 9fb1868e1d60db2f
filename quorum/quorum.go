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

// Package quorum builds and validates the QuorumPB peer-set descriptor that
// seeds the sys catalog's single replicated tablet (spec §3, component A).
// On first startup each master either declares itself the sole local peer
// (non-distributed) or assembles a quorum from its own configuration and
// resolves every peer's permanent_uuid by RPC before consensus may use it
// (spec §3's "any PeerResolver failure aborts quorum construction").
package quorum

import (
	"context"
	"fmt"

	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/status"
	"github.com/kudu-go/master/util"
)

// MinimumTerm is the term a freshly created quorum's consensus metadata
// starts at, before any election has taken place.
const MinimumTerm uint64 = 0

// PeerSpec is one statically configured peer of a distributed quorum: an
// address and, for the local peer, whether it starts as leader.
type PeerSpec struct {
	Addr util.HostPort
	Self bool
	// Leader marks the peer that should start in the LEADER role. Build
	// does not take PeerSpecs; it reads the leader from Options.
	Leader bool
}

// Options configures Build, mirroring MasterOptions.IsDistributed() /
// follower_addresses / leader_address / leader in the original.
type Options struct {
	// Distributed is false for a single-master deployment: Build then
	// returns a one-peer local quorum naming only SelfUUID.
	Distributed bool
	// SelfUUID is this process's own permanent_uuid; always known locally,
	// never resolved over RPC.
	SelfUUID string
	// SelfAddr is this process's own RPC address.
	SelfAddr util.HostPort
	// IsLeader is true if this process should start the quorum as LEADER.
	IsLeader bool
	// FollowerAddrs lists the other masters' addresses when IsLeader is
	// true (mirrors options.follower_addresses).
	FollowerAddrs []util.HostPort
	// LeaderAddr is the address of the master that should start as LEADER
	// when this process is not it (mirrors options.leader_address); Build
	// gives its peer entry the CANDIDATE role, matching the original.
	LeaderAddr util.HostPort
}

// PeerResolver looks up the permanent_uuid of a peer known only by address,
// the Go-side equivalent of consensus::SetPermanentUuidForRemotePeer: an RPC
// call made once per unresolved peer during quorum construction.
type PeerResolver interface {
	ResolvePermanentUUID(ctx context.Context, addr util.HostPort) (string, error)
}

// Build assembles a QuorumPB at the given seqno from opts, resolving every
// peer's permanent_uuid via resolver before returning. Any resolution
// failure aborts the whole call: a partially resolved quorum must never be
// installed, since an unresolved peer cannot be addressed by consensus.
func Build(ctx context.Context, opts Options, seqno int64, resolver PeerResolver) (masterpb.QuorumPB, error) {
	if !opts.Distributed {
		return masterpb.QuorumPB{
			Seqno: seqno,
			Local: true,
			Peers: []masterpb.QuorumPeerPB{
				{PermanentUUID: opts.SelfUUID, Role: masterpb.LEADER},
			},
		}, nil
	}

	if opts.SelfUUID == "" {
		return masterpb.QuorumPB{}, status.Configurationf("quorum: distributed mode requires a local permanent_uuid")
	}

	unresolved := masterpb.QuorumPB{Seqno: seqno, Local: false}

	for _, addr := range opts.FollowerAddrs {
		unresolved.Peers = append(unresolved.Peers, masterpb.QuorumPeerPB{
			Host: addr.Host,
			Port: int32(addr.Port),
			Role: masterpb.FOLLOWER,
		})
	}

	localRole := masterpb.FOLLOWER
	if opts.IsLeader {
		localRole = masterpb.LEADER
	}
	unresolved.Peers = append(unresolved.Peers, masterpb.QuorumPeerPB{
		PermanentUUID: opts.SelfUUID,
		Host:          opts.SelfAddr.Host,
		Port:          int32(opts.SelfAddr.Port),
		Role:          localRole,
	})

	if !opts.IsLeader {
		unresolved.Peers = append(unresolved.Peers, masterpb.QuorumPeerPB{
			Host: opts.LeaderAddr.Host,
			Port: int32(opts.LeaderAddr.Port),
			Role: masterpb.CANDIDATE,
		})
	}

	resolved := unresolved.Clone()
	resolved.Peers = nil
	for _, peer := range unresolved.Peers {
		if peer.HasPermanentUUID() {
			resolved.Peers = append(resolved.Peers, peer)
			continue
		}
		uuid, err := resolver.ResolvePermanentUUID(ctx, util.HostPort{Host: peer.Host, Port: int(peer.Port)})
		if err != nil {
			return masterpb.QuorumPB{}, status.Wrap(err, status.ServiceUnavailable,
				fmt.Sprintf("unable to resolve uuid for peer %s", peer))
		}
		peer.PermanentUUID = uuid
		resolved.Peers = append(resolved.Peers, peer)
	}

	if err := Verify(resolved); err != nil {
		return masterpb.QuorumPB{}, err
	}
	return resolved, nil
}

// Verify checks the structural invariants a QuorumPB must hold before
// consensus may use it: a non-empty peer set, no duplicate permanent_uuids,
// every peer fully resolved, and at most one LEADER.
func Verify(q masterpb.QuorumPB) error {
	if len(q.Peers) == 0 {
		return status.InvalidArgumentf("quorum: empty peer set")
	}
	seen := make(map[string]bool, len(q.Peers))
	leaders := 0
	for _, peer := range q.Peers {
		if !peer.HasPermanentUUID() {
			return status.InvalidArgumentf("quorum: peer %s has no permanent_uuid", peer)
		}
		if seen[peer.PermanentUUID] {
			return status.InvalidArgumentf("quorum: duplicate permanent_uuid %s", peer.PermanentUUID)
		}
		seen[peer.PermanentUUID] = true
		if peer.Role == masterpb.LEADER {
			leaders++
		}
	}
	if leaders > 1 {
		return status.InvalidArgumentf("quorum: more than one LEADER in peer set")
	}
	return nil
}

// FindPeer returns the peer with the given permanent_uuid, if present.
func FindPeer(q masterpb.QuorumPB, uuid string) (masterpb.QuorumPeerPB, bool) {
	for _, p := range q.Peers {
		if p.PermanentUUID == uuid {
			return p, true
		}
	}
	return masterpb.QuorumPeerPB{}, false
}
