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

// OpType distinguishes the kinds of op that flow through the log (spec §5):
// row writes, alter-schema ops, configuration changes and no-ops, plus the
// commit-only OpAbort.
type OpType int32

const (
	WriteOp OpType = iota
	AlterSchemaOp
	ChangeConfigOp
	NoOp
	// OpAbort only ever appears in a CommitMsg, never in a ReplicateMsg: it
	// marks an op whose Apply step failed on the leader after the op was
	// already replicated (spec §4.G's tie-break, §7's propagation policy).
	// Followers see the same OpAbort and discard rather than re-running an
	// apply that's already known to fail.
	OpAbort
)

// OpID identifies a single entry in the replicated log by (term, index), the
// same pairing the teacher's multiraft wraps from etcd/raft.
type OpID struct {
	Term  uint64
	Index uint64
}

func (id OpID) String() string { return fmt.Sprintf("%d.%d", id.Term, id.Index) }

// Less orders OpIDs by (term, index), matching log sequence order.
func (id OpID) Less(other OpID) bool {
	if id.Term != other.Term {
		return id.Term < other.Term
	}
	return id.Index < other.Index
}

const (
	opidFieldTerm  = 1
	opidFieldIndex = 2
)

func (id OpID) Marshal() ([]byte, error) {
	var buf []byte
	buf = putVarintField(buf, opidFieldTerm, id.Term)
	buf = putVarintField(buf, opidFieldIndex, id.Index)
	return buf, nil
}

func (id *OpID) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	for _, f := range fields {
		switch f.num {
		case opidFieldTerm:
			id.Term = f.varint
		case opidFieldIndex:
			id.Index = f.varint
		}
	}
	return nil
}

// ReplicateMsg is the REPLICATE record written to the log before a write is
// applied (spec §5, §7): the operation's id, type, timestamp and payload.
type ReplicateMsg struct {
	ID        OpID
	Type      OpType
	Timestamp uint64
	Payload   []byte
}

const (
	replFieldID        = 1
	replFieldType      = 2
	replFieldTimestamp = 3
	replFieldPayload   = 4
)

func (m ReplicateMsg) Marshal() ([]byte, error) {
	idb, err := m.ID.Marshal()
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf = putBytesField(buf, replFieldID, idb)
	buf = putVarintField(buf, replFieldType, uint64(m.Type))
	buf = putVarintField(buf, replFieldTimestamp, m.Timestamp)
	buf = putBytesField(buf, replFieldPayload, m.Payload)
	return buf, nil
}

func (m *ReplicateMsg) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	*m = ReplicateMsg{}
	for _, f := range fields {
		switch f.num {
		case replFieldID:
			if err := m.ID.Unmarshal(f.bytes); err != nil {
				return err
			}
		case replFieldType:
			m.Type = OpType(f.varint)
		case replFieldTimestamp:
			m.Timestamp = f.varint
		case replFieldPayload:
			m.Payload = append([]byte(nil), f.bytes...)
		}
	}
	return nil
}

// CommitMsg is the COMMIT record written once an operation's Apply phase has
// finished (spec §5, §6, §7); it references the REPLICATE it closes out so
// bootstrap can pair the two and recognize orphaned replicates. OpType
// carries either the replicated op's own type or OpAbort, the discriminant
// bootstrap replay uses to tell a normal commit from one whose Apply failed
// on the leader; Result is that Apply step's response payload (nil for an
// aborted op, which has none to carry).
type CommitMsg struct {
	CommitedOpID OpID
	OpType       OpType
	Timestamp    uint64
	Result       []byte
}

const (
	commitFieldOpID      = 1
	commitFieldTimestamp = 2
	commitFieldOpType    = 3
	commitFieldResult    = 4
)

func (m CommitMsg) Marshal() ([]byte, error) {
	idb, err := m.CommitedOpID.Marshal()
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf = putBytesField(buf, commitFieldOpID, idb)
	buf = putVarintField(buf, commitFieldTimestamp, m.Timestamp)
	buf = putVarintField(buf, commitFieldOpType, uint64(m.OpType))
	buf = putBytesField(buf, commitFieldResult, m.Result)
	return buf, nil
}

func (m *CommitMsg) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	*m = CommitMsg{}
	for _, f := range fields {
		switch f.num {
		case commitFieldOpID:
			if err := m.CommitedOpID.Unmarshal(f.bytes); err != nil {
				return err
			}
		case commitFieldTimestamp:
			m.Timestamp = f.varint
		case commitFieldOpType:
			m.OpType = OpType(f.varint)
		case commitFieldResult:
			m.Result = append([]byte(nil), f.bytes...)
		}
	}
	return nil
}
