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

package quorum

import (
	"context"
	"errors"
	"testing"

	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/util"
)

type fakeResolver struct {
	uuids map[string]string
	err   error
}

func (f *fakeResolver) ResolvePermanentUUID(ctx context.Context, addr util.HostPort) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	uuid, ok := f.uuids[addr.String()]
	if !ok {
		return "", errors.New("no uuid configured for " + addr.String())
	}
	return uuid, nil
}

func TestBuildLocalQuorum(t *testing.T) {
	q, err := Build(context.Background(), Options{Distributed: false, SelfUUID: "self-uuid"}, 0, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !q.Local || len(q.Peers) != 1 || q.Peers[0].Role != masterpb.LEADER {
		t.Fatalf("unexpected local quorum: %+v", q)
	}
}

func TestBuildDistributedQuorumResolvesPeers(t *testing.T) {
	opts := Options{
		Distributed:   true,
		SelfUUID:      "self-uuid",
		SelfAddr:      util.HostPort{Host: "self", Port: 7051},
		IsLeader:      true,
		FollowerAddrs: []util.HostPort{{Host: "f1", Port: 7051}, {Host: "f2", Port: 7051}},
	}
	resolver := &fakeResolver{uuids: map[string]string{
		"f1:7051": "uuid-f1",
		"f2:7051": "uuid-f2",
	}}
	q, err := Build(context.Background(), opts, 5, resolver)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if q.Seqno != 5 || q.Local {
		t.Fatalf("unexpected quorum header: %+v", q)
	}
	if len(q.Peers) != 3 {
		t.Fatalf("expected 3 peers, got %d: %+v", len(q.Peers), q.Peers)
	}
	for _, p := range q.Peers {
		if !p.HasPermanentUUID() {
			t.Fatalf("peer missing resolved uuid: %+v", p)
		}
	}
	if err := Verify(q); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestBuildAbortsOnResolverFailure(t *testing.T) {
	opts := Options{
		Distributed:   true,
		SelfUUID:      "self-uuid",
		SelfAddr:      util.HostPort{Host: "self", Port: 7051},
		IsLeader:      true,
		FollowerAddrs: []util.HostPort{{Host: "f1", Port: 7051}},
	}
	resolver := &fakeResolver{err: errors.New("rpc unavailable")}
	if _, err := Build(context.Background(), opts, 0, resolver); err == nil {
		t.Fatalf("expected Build to fail when resolver fails")
	}
}

func TestBuildNonLeaderAddsCandidateLeader(t *testing.T) {
	opts := Options{
		Distributed: true,
		SelfUUID:    "self-uuid",
		SelfAddr:    util.HostPort{Host: "self", Port: 7051},
		IsLeader:    false,
		LeaderAddr:  util.HostPort{Host: "ldr", Port: 7051},
	}
	resolver := &fakeResolver{uuids: map[string]string{"ldr:7051": "uuid-ldr"}}
	q, err := Build(context.Background(), opts, 0, resolver)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var sawCandidate bool
	for _, p := range q.Peers {
		if p.PermanentUUID == "uuid-ldr" {
			sawCandidate = p.Role == masterpb.CANDIDATE
		}
	}
	if !sawCandidate {
		t.Fatalf("expected the unresolved leader peer to have been seeded as CANDIDATE: %+v", q.Peers)
	}
}

func TestVerifyRejectsDuplicateUUIDs(t *testing.T) {
	q := masterpb.QuorumPB{Peers: []masterpb.QuorumPeerPB{
		{PermanentUUID: "a", Role: masterpb.LEADER},
		{PermanentUUID: "a", Role: masterpb.FOLLOWER},
	}}
	if err := Verify(q); err == nil {
		t.Fatalf("expected Verify to reject duplicate permanent_uuids")
	}
}

func TestVerifyRejectsMultipleLeaders(t *testing.T) {
	q := masterpb.QuorumPB{Peers: []masterpb.QuorumPeerPB{
		{PermanentUUID: "a", Role: masterpb.LEADER},
		{PermanentUUID: "b", Role: masterpb.LEADER},
	}}
	if err := Verify(q); err == nil {
		t.Fatalf("expected Verify to reject more than one LEADER")
	}
}

func TestVerifyRejectsUnresolvedPeer(t *testing.T) {
	q := masterpb.QuorumPB{Peers: []masterpb.QuorumPeerPB{{Host: "h", Port: 1}}}
	if err := Verify(q); err == nil {
		t.Fatalf("expected Verify to reject a peer with no permanent_uuid")
	}
}

func TestFindPeer(t *testing.T) {
	q := masterpb.QuorumPB{Peers: []masterpb.QuorumPeerPB{{PermanentUUID: "a"}, {PermanentUUID: "b"}}}
	if _, ok := FindPeer(q, "b"); !ok {
		t.Fatalf("expected to find peer b")
	}
	if _, ok := FindPeer(q, "c"); ok {
		t.Fatalf("did not expect to find peer c")
	}
}
