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

import (
	"context"
	"reflect"

	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/rowstore"
	"github.com/kudu-go/master/status"
)

// SubmitAlterSchema runs an alter-schema transaction to completion (spec
// §4.H): CreatePreparedAlterSchema-equivalent validation happens twice —
// once here against the schema this replica currently has on hand (so an
// obviously bad request never reaches consensus), and again inside
// applyAlterSchema against whatever the committed log order turns out to
// have left the table's schema as, which is the copy that actually matters.
//
// Unlike SubmitWrite, this acquires the schema lock exclusively and holds
// it for the duration of the call: spec §4.H requires the alter to wait for
// every write already holding the lock in shared mode (inside
// Driver.SubmitWrite) to finish its Apply step before proceeding, and to
// block any write that arrives afterward until the alter itself commits.
func (d *Driver) SubmitAlterSchema(ctx context.Context, tableID string, newSchema []masterpb.ColumnSchema) (*masterpb.AlterSchemaResponsePB, error) {
	d.schemaLock.Lock()
	defer d.schemaLock.Unlock()

	current, found, err := d.lookupTable(tableID)
	if err != nil {
		return nil, err
	}
	if found && schemaIdentical(current.Schema, newSchema) {
		// SPEC_FULL §13.4: an idempotent retry of an alter that already
		// applied is a no-op success, not a validation error.
		return &masterpb.AlterSchemaResponsePB{NewVersion: current.Version}, nil
	}
	if found && !schemaIsSupersetCompatible(current.Schema, newSchema) {
		return nil, status.InvalidSchemaf("new schema for table %q is not a superset-compatible change", tableID)
	}

	req := masterpb.AlterSchemaRequestPB{TableID: tableID, NewSchema: newSchema}
	payload, err := req.Marshal()
	if err != nil {
		return nil, status.Wrap(err, status.InvalidSchema, "marshal alter schema request")
	}

	_, respBytes, err := d.peer.SubmitAndWait(ctx, masterpb.AlterSchemaOp, payload)
	if err != nil {
		return nil, err
	}
	var resp masterpb.AlterSchemaResponsePB
	if err := resp.Unmarshal(respBytes); err != nil {
		return nil, status.Wrap(err, status.Corruption, "unmarshal alter schema response")
	}
	return &resp, nil
}

// applyAlterSchema is the Apply step for an ALTER_SCHEMA_OP (spec §4.H): it
// re-validates against the table's current committed schema (which, by the
// time this runs, reflects every write and alter ordered before it in the
// log) and, unless the schema is already identical, rewrites the table's
// catalog row with the new schema and a bumped version.
func (d *Driver) applyAlterSchema(msg masterpb.ReplicateMsg) ([]byte, error) {
	var req masterpb.AlterSchemaRequestPB
	if err := req.Unmarshal(msg.Payload); err != nil {
		return nil, status.Wrap(err, status.Corruption, "unmarshal committed alter schema request")
	}

	current, found, err := d.lookupTable(req.TableID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, status.NotFoundf("alter schema: table %q not found", req.TableID)
	}

	if schemaIdentical(current.Schema, req.NewSchema) {
		resp := masterpb.AlterSchemaResponsePB{NewVersion: current.Version}
		return resp.Marshal()
	}
	if !schemaIsSupersetCompatible(current.Schema, req.NewSchema) {
		return nil, status.InvalidSchemaf("committed alter schema for table %q is not superset-compatible", req.TableID)
	}

	updated := *current
	updated.Schema = req.NewSchema
	updated.Version++
	value, err := updated.Marshal()
	if err != nil {
		return nil, status.Wrap(err, status.Corruption, "marshal altered table entry")
	}

	key := rowstore.Key(rowstore.TablesEntry, req.TableID)
	if err := d.peer.Rows.WriteBatch([]rowstore.Mutation{{Key: key, Value: value}}); err != nil {
		return nil, status.Wrap(err, status.IOError, "persist altered table entry")
	}

	resp := masterpb.AlterSchemaResponsePB{NewVersion: updated.Version}
	return resp.Marshal()
}

func (d *Driver) lookupTable(tableID string) (*masterpb.SysTablesEntryPB, bool, error) {
	key := rowstore.Key(rowstore.TablesEntry, tableID)
	value, ok, err := d.peer.Rows.Get(key)
	if err != nil {
		return nil, false, status.Wrap(err, status.IOError, "read table entry")
	}
	if !ok {
		return nil, false, nil
	}
	var entry masterpb.SysTablesEntryPB
	if err := entry.Unmarshal(value); err != nil {
		return nil, false, status.Wrap(err, status.Corruption, "unmarshal table entry")
	}
	return &entry, true, nil
}

func schemaIdentical(a, b []masterpb.ColumnSchema) bool {
	return reflect.DeepEqual(a, b)
}

// schemaIsSupersetCompatible reports whether newSchema could replace
// current without breaking anything already relying on current's key
// columns (spec §4.H: "validates the new schema is a superset-compatible
// change"). Every key column current declares must still be present in
// newSchema, unchanged in type and key-ness; newSchema may add columns or
// relax nullability on non-key columns freely.
func schemaIsSupersetCompatible(current, newSchema []masterpb.ColumnSchema) bool {
	byName := make(map[string]masterpb.ColumnSchema, len(newSchema))
	for _, c := range newSchema {
		byName[c.Name] = c
	}
	for _, old := range current {
		if !old.IsKey {
			continue
		}
		nc, ok := byName[old.Name]
		if !ok || !nc.IsKey || nc.Type != old.Type {
			return false
		}
	}
	return true
}
