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

// Package masterpb holds the wire messages of §6: QuorumPB, the
// SysTablesEntryPB/SysTabletsEntryPB metadata records, and the
// WriteRequestPB/WriteResponsePB/ReplicateMsg/CommitMsg family. There is no
// .proto/protoc step in this module; each message hand-implements
// Marshal/Unmarshal the way the teacher's proto.NodeID does — with
// github.com/gogo/protobuf/proto's EncodeVarint/DecodeVarint as the varint
// codec and a small tag/wire-type framing helper below for the
// length-delimited (string/bytes/submessage) and repeated fields the
// teacher's single-varint NodeID didn't need.
package masterpb

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
)

const (
	wireVarint = 0
	wireBytes  = 2
)

func putTag(buf []byte, field int, wireType int) []byte {
	return append(buf, proto.EncodeVarint(uint64(field<<3|wireType))...)
}

func putVarintField(buf []byte, field int, v uint64) []byte {
	buf = putTag(buf, field, wireVarint)
	return append(buf, proto.EncodeVarint(v)...)
}

func putBoolField(buf []byte, field int, v bool) []byte {
	if !v {
		return buf
	}
	return putVarintField(buf, field, 1)
}

func putBytesField(buf []byte, field int, v []byte) []byte {
	buf = putTag(buf, field, wireBytes)
	buf = append(buf, proto.EncodeVarint(uint64(len(v)))...)
	return append(buf, v...)
}

func putStringField(buf []byte, field int, v string) []byte {
	if v == "" {
		return buf
	}
	return putBytesField(buf, field, []byte(v))
}

// rawField is one decoded (field number, wire type, payload) triple; bytes
// fields carry their payload directly, varint fields carry it in varint.
type rawField struct {
	num     int
	varint  uint64
	bytes   []byte
	isBytes bool
}

// decodeFields tokenizes buf into its top-level (field, value) pairs without
// knowing the message's schema, the same split that a generated message's
// Unmarshal performs internally before dispatching on field number.
func decodeFields(buf []byte) ([]rawField, error) {
	var fields []rawField
	for len(buf) > 0 {
		key, n := proto.DecodeVarint(buf)
		if n == 0 {
			return nil, fmt.Errorf("masterpb: truncated tag")
		}
		buf = buf[n:]
		field := int(key >> 3)
		wireType := int(key & 0x7)
		switch wireType {
		case wireVarint:
			v, n := proto.DecodeVarint(buf)
			if n == 0 {
				return nil, fmt.Errorf("masterpb: truncated varint for field %d", field)
			}
			buf = buf[n:]
			fields = append(fields, rawField{num: field, varint: v})
		case wireBytes:
			l, n := proto.DecodeVarint(buf)
			if n == 0 {
				return nil, fmt.Errorf("masterpb: truncated length for field %d", field)
			}
			buf = buf[n:]
			if uint64(len(buf)) < l {
				return nil, fmt.Errorf("masterpb: truncated payload for field %d", field)
			}
			fields = append(fields, rawField{num: field, bytes: buf[:l], isBytes: true})
			buf = buf[l:]
		default:
			return nil, fmt.Errorf("masterpb: unsupported wire type %d for field %d", wireType, field)
		}
	}
	return fields, nil
}
