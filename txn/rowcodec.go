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

package txn

import "github.com/kudu-go/master/rowstore"

// decodeRowData/rowKey are thin local aliases over rowstore's row-data wire
// format (shared with syscatalog, which builds the same RowOperations this
// package applies) so Prepare can recover a row's key and Apply can recover
// its value without the two ends of the pipe agreeing on anything beyond
// rowstore.EncodeRowData/DecodeRowData.
func decodeRowData(data []byte) (entry rowstore.EntryType, id string, value []byte, err error) {
	return rowstore.DecodeRowData(data)
}

func rowKey(entry rowstore.EntryType, id string) string {
	return string(rowstore.Key(entry, id))
}
