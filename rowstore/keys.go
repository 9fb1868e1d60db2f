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

// EntryType names which catalog record a key belongs to, the leading byte
// of every compound key so tables and tablets can be scanned independently
// of one another despite sharing a single bucket.
type EntryType byte

const (
	TablesEntry  EntryType = 1
	TabletsEntry EntryType = 2
)

// Prefix returns the scan prefix for every row of the given entry type.
func Prefix(t EntryType) []byte { return []byte{byte(t)} }

// Key builds the compound key for a single row: entry type followed by the
// row's own id (table name or tablet id).
func Key(t EntryType, id string) []byte {
	k := make([]byte, 1+len(id))
	k[0] = byte(t)
	copy(k[1:], id)
	return k
}

// ID strips the entry-type prefix from a key produced by Scan, returning
// the row's own id.
func ID(key []byte) string {
	if len(key) == 0 {
		return ""
	}
	return string(key[1:])
}
