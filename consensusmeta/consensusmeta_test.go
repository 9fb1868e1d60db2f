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

package consensusmeta

import (
	"testing"

	"github.com/kudu-go/master/masterpb"
)

func TestCreateLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	quorum := masterpb.QuorumPB{Seqno: 1, Peers: []masterpb.QuorumPeerPB{{PermanentUUID: "u1", Role: masterpb.LEADER}}}

	s, err := Create(dir, "sys.catalog", quorum, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.CurrentTerm() != 0 {
		t.Fatalf("expected initial term 0, got %d", s.CurrentTerm())
	}

	loaded, err := Load(dir, "sys.catalog")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Quorum().Seqno != 1 || len(loaded.Quorum().Peers) != 1 {
		t.Fatalf("unexpected loaded quorum: %+v", loaded.Quorum())
	}
}

func TestCreateRejectsExisting(t *testing.T) {
	dir := t.TempDir()
	quorum := masterpb.QuorumPB{Seqno: 0}
	if _, err := Create(dir, "t1", quorum, 0); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := Create(dir, "t1", quorum, 0); err == nil {
		t.Fatalf("expected second Create to fail")
	}
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir, "nonexistent"); err == nil {
		t.Fatalf("expected Load of missing tablet to fail")
	}
}

func TestSetTermAndVotePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir, "t1", masterpb.QuorumPB{Seqno: 0}, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetTermAndVote(3, "uuid-1"); err != nil {
		t.Fatalf("SetTermAndVote: %v", err)
	}

	reloaded, err := Load(dir, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.CurrentTerm() != 3 || reloaded.VotedFor() != "uuid-1" {
		t.Fatalf("term/vote not persisted: term=%d votedFor=%s", reloaded.CurrentTerm(), reloaded.VotedFor())
	}
}

func TestSetQuorumPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir, "t1", masterpb.QuorumPB{Seqno: 0}, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	newQuorum := masterpb.QuorumPB{Seqno: 1, Peers: []masterpb.QuorumPeerPB{{PermanentUUID: "u1"}}}
	if err := s.SetQuorum(newQuorum); err != nil {
		t.Fatalf("SetQuorum: %v", err)
	}
	reloaded, err := Load(dir, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Quorum().Seqno != 1 {
		t.Fatalf("expected new seqno to persist, got %d", reloaded.Quorum().Seqno)
	}
}
