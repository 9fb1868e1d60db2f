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

package rowstore

import (
	"encoding/binary"

	"github.com/kudu-go/master/status"
)

// masterpb.RowOperation carries only {Type, RowData}: the write-request
// wire format leaves a row's primary key and its encoded value as one
// opaque blob (spec §4.G "decode schema, resolve columns" is where the
// original pulls them back apart). EncodeRowData/DecodeRowData give RowData
// a concrete layout — entry type, id, value — shared by every package that
// builds or consumes a RowOperation (txn's Prepare/Apply, syscatalog's
// typed accessors) so they agree on the format without importing each
// other.
func EncodeRowData(entry EntryType, id string, value []byte) []byte {
	buf := make([]byte, 1+2+len(id)+len(value))
	buf[0] = byte(entry)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(id)))
	copy(buf[3:], id)
	copy(buf[3+len(id):], value)
	return buf
}

// DecodeRowData is EncodeRowData's inverse.
func DecodeRowData(data []byte) (entry EntryType, id string, value []byte, err error) {
	if len(data) < 3 {
		return 0, "", nil, status.Corruptionf("row data too short for entry/id header")
	}
	entry = EntryType(data[0])
	idLen := int(binary.BigEndian.Uint16(data[1:3]))
	if len(data) < 3+idLen {
		return 0, "", nil, status.Corruptionf("row data truncated before end of id")
	}
	id = string(data[3 : 3+idLen])
	value = data[3+idLen:]
	return entry, id, value, nil
}
