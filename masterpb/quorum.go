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

import "fmt"

// Role is a QuorumPeerPB's role within its configuration (spec §3).
type Role int32

const (
	NON_PARTICIPANT Role = iota
	LEADER
	FOLLOWER
	CANDIDATE
	LEARNER
)

func (r Role) String() string {
	switch r {
	case LEADER:
		return "LEADER"
	case FOLLOWER:
		return "FOLLOWER"
	case CANDIDATE:
		return "CANDIDATE"
	case LEARNER:
		return "LEARNER"
	default:
		return "NON_PARTICIPANT"
	}
}

// QuorumPeerPB is one peer's entry in a QuorumPB.
type QuorumPeerPB struct {
	PermanentUUID string
	Host          string
	Port          int32
	Role          Role
}

func (p QuorumPeerPB) HasPermanentUUID() bool { return p.PermanentUUID != "" }

func (p QuorumPeerPB) String() string {
	return fmt.Sprintf("{uuid:%s addr:%s:%d role:%s}", p.PermanentUUID, p.Host, p.Port, p.Role)
}

const (
	peerFieldUUID = 1
	peerFieldHost = 2
	peerFieldPort = 3
	peerFieldRole = 4
)

func (p QuorumPeerPB) Marshal() ([]byte, error) {
	var buf []byte
	buf = putStringField(buf, peerFieldUUID, p.PermanentUUID)
	buf = putStringField(buf, peerFieldHost, p.Host)
	buf = putVarintField(buf, peerFieldPort, uint64(p.Port))
	buf = putVarintField(buf, peerFieldRole, uint64(p.Role))
	return buf, nil
}

func (p *QuorumPeerPB) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	for _, f := range fields {
		switch f.num {
		case peerFieldUUID:
			p.PermanentUUID = string(f.bytes)
		case peerFieldHost:
			p.Host = string(f.bytes)
		case peerFieldPort:
			p.Port = int32(f.varint)
		case peerFieldRole:
			p.Role = Role(f.varint)
		}
	}
	return nil
}

// QuorumPB is the peer-set descriptor for a replicated tablet (spec §3).
type QuorumPB struct {
	Seqno int64
	Local bool
	Peers []QuorumPeerPB
}

func (q QuorumPB) String() string {
	return fmt.Sprintf("{seqno:%d local:%v peers:%v}", q.Seqno, q.Local, q.Peers)
}

const (
	quorumFieldSeqno = 1
	quorumFieldLocal = 2
	quorumFieldPeer  = 3
)

func (q QuorumPB) Marshal() ([]byte, error) {
	var buf []byte
	buf = putVarintField(buf, quorumFieldSeqno, uint64(q.Seqno))
	buf = putBoolField(buf, quorumFieldLocal, q.Local)
	for _, p := range q.Peers {
		pb, err := p.Marshal()
		if err != nil {
			return nil, err
		}
		buf = putBytesField(buf, quorumFieldPeer, pb)
	}
	return buf, nil
}

func (q *QuorumPB) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	*q = QuorumPB{}
	for _, f := range fields {
		switch f.num {
		case quorumFieldSeqno:
			q.Seqno = int64(f.varint)
		case quorumFieldLocal:
			q.Local = f.varint != 0
		case quorumFieldPeer:
			var p QuorumPeerPB
			if err := p.Unmarshal(f.bytes); err != nil {
				return err
			}
			q.Peers = append(q.Peers, p)
		}
	}
	return nil
}

// Clone returns a deep copy, grounded on the teacher's protoutil.Clone
// convention (pass-by-value + fresh Peers slice) without needing reflection
// over a generated descriptor.
func (q QuorumPB) Clone() QuorumPB {
	out := q
	out.Peers = append([]QuorumPeerPB(nil), q.Peers...)
	return out
}
