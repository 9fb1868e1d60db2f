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

package masterpb

import (
	"reflect"
	"testing"
)

func TestQuorumPBRoundTrip(t *testing.T) {
	q := QuorumPB{
		Seqno: 7,
		Local: false,
		Peers: []QuorumPeerPB{
			{PermanentUUID: "uuid-1", Host: "host-a", Port: 7051, Role: LEADER},
			{PermanentUUID: "uuid-2", Host: "host-b", Port: 7051, Role: FOLLOWER},
		},
	}
	buf, err := q.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got QuorumPB
	if err := got.Unmarshal(buf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(q, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, q)
	}
}

func TestQuorumPBCloneIsIndependent(t *testing.T) {
	q := QuorumPB{Seqno: 1, Peers: []QuorumPeerPB{{PermanentUUID: "a"}}}
	clone := q.Clone()
	clone.Peers[0].PermanentUUID = "b"
	if q.Peers[0].PermanentUUID != "a" {
		t.Fatalf("Clone shared underlying storage with original")
	}
}

func TestSysTablesEntryPBRoundTrip(t *testing.T) {
	entry := SysTablesEntryPB{
		Name: "my_table",
		Schema: []ColumnSchema{
			{Name: "id", Type: "INT64", IsKey: true},
			{Name: "val", Type: "STRING", Nullable: true},
		},
		State:   TableRunning,
		Version: 3,
	}
	buf, err := entry.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got SysTablesEntryPB
	if err := got.Unmarshal(buf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(entry, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, entry)
	}
}

func TestSysTabletsEntryPBRoundTrip(t *testing.T) {
	entry := SysTabletsEntryPB{
		TabletID: "tablet-1",
		TableID:  "table-1",
		StartKey: []byte{0x00},
		EndKey:   []byte{0xff},
		State:    TabletRunning,
		Replicas: []TabletReplica{
			{PermanentUUID: "uuid-1", Role: LEADER},
			{PermanentUUID: "uuid-2", Role: FOLLOWER},
		},
	}
	buf, err := entry.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got SysTabletsEntryPB
	if err := got.Unmarshal(buf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(entry, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, entry)
	}
}

func TestWriteRequestResponseRoundTrip(t *testing.T) {
	req := WriteRequestPB{
		TabletID: "tablet-1",
		RowOps: []RowOperation{
			{Type: RowInsert, RowData: []byte("row-1")},
			{Type: RowUpdate, RowData: []byte("row-2")},
		},
	}
	buf, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal request: %v", err)
	}
	var gotReq WriteRequestPB
	if err := gotReq.Unmarshal(buf); err != nil {
		t.Fatalf("Unmarshal request: %v", err)
	}
	if !reflect.DeepEqual(req, gotReq) {
		t.Fatalf("request round trip mismatch: got %+v, want %+v", gotReq, req)
	}

	resp := WriteResponsePB{
		Timestamp: 42,
		PerRowErrors: []PerRowError{
			{RowIndex: 1, Error: ErrorPB{Code: 3, Message: "already present"}},
		},
	}
	buf, err = resp.Marshal()
	if err != nil {
		t.Fatalf("Marshal response: %v", err)
	}
	var gotResp WriteResponsePB
	if err := gotResp.Unmarshal(buf); err != nil {
		t.Fatalf("Unmarshal response: %v", err)
	}
	if !reflect.DeepEqual(resp, gotResp) {
		t.Fatalf("response round trip mismatch: got %+v, want %+v", gotResp, resp)
	}
	if !gotResp.HasErrors() {
		t.Fatalf("expected HasErrors true")
	}
}

func TestReplicateAndCommitRoundTrip(t *testing.T) {
	rep := ReplicateMsg{
		ID:        OpID{Term: 2, Index: 5},
		Type:      WriteOp,
		Timestamp: 100,
		Payload:   []byte("payload"),
	}
	buf, err := rep.Marshal()
	if err != nil {
		t.Fatalf("Marshal replicate: %v", err)
	}
	var gotRep ReplicateMsg
	if err := gotRep.Unmarshal(buf); err != nil {
		t.Fatalf("Unmarshal replicate: %v", err)
	}
	if !reflect.DeepEqual(rep, gotRep) {
		t.Fatalf("replicate round trip mismatch: got %+v, want %+v", gotRep, rep)
	}

	commit := CommitMsg{CommitedOpID: rep.ID, OpType: OpAbort, Timestamp: 101, Result: []byte("per-op result")}
	buf, err = commit.Marshal()
	if err != nil {
		t.Fatalf("Marshal commit: %v", err)
	}
	var gotCommit CommitMsg
	if err := gotCommit.Unmarshal(buf); err != nil {
		t.Fatalf("Unmarshal commit: %v", err)
	}
	if !reflect.DeepEqual(commit, gotCommit) {
		t.Fatalf("commit round trip mismatch: got %+v, want %+v", gotCommit, commit)
	}
}

func TestOpIDLess(t *testing.T) {
	a := OpID{Term: 1, Index: 9}
	b := OpID{Term: 2, Index: 0}
	if !a.Less(b) {
		t.Fatalf("expected %v < %v", a, b)
	}
	if b.Less(a) {
		t.Fatalf("expected %v !< %v", b, a)
	}
}

func TestConsensusMetadataPBRoundTrip(t *testing.T) {
	cmeta := ConsensusMetadataPB{
		Quorum: QuorumPB{
			Seqno: 1,
			Peers: []QuorumPeerPB{{PermanentUUID: "uuid-1", Host: "h", Port: 1, Role: LEADER}},
		},
		CurrentTerm: 4,
		VotedFor:    "uuid-1",
	}
	buf, err := cmeta.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got ConsensusMetadataPB
	if err := got.Unmarshal(buf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(cmeta, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, cmeta)
	}
}

func TestTabletMetadataPBSwap(t *testing.T) {
	m := TabletMetadataPB{
		TabletID:  "sys.catalog",
		BlockA:    SysCatalogBlockA,
		BlockB:    SysCatalogBlockB,
		ActiveIsA: true,
	}
	if m.ActiveBlock() != SysCatalogBlockA || m.InactiveBlock() != SysCatalogBlockB {
		t.Fatalf("unexpected active/inactive blocks: %+v", m)
	}
	buf, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got TabletMetadataPB
	if err := got.Unmarshal(buf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(m, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
}
