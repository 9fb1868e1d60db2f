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
	"path/filepath"
	"testing"
	"time"

	"github.com/coreos/etcd/raft"

	"github.com/kudu-go/master/consensus"
	"github.com/kudu-go/master/hlc"
	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/rowstore"
	"github.com/kudu-go/master/tablet"
)

func newRunningDriver(t *testing.T) (*Driver, *tablet.Peer, func()) {
	t.Helper()
	dir := t.TempDir()

	rows, err := rowstore.Open(filepath.Join(dir, "rows.db"))
	if err != nil {
		t.Fatalf("rowstore.Open: %v", err)
	}
	md, err := tablet.CreateNewMetadata(dir, "sys-tablet", "sys.catalog")
	if err != nil {
		t.Fatalf("CreateNewMetadata: %v", err)
	}

	peer := tablet.NewPeer(md, rows, hlc.NewClock(0))
	driver := NewDriver(peer)

	info, err := peer.Init(filepath.Join(dir, "sys-tablet.wal"), driver.Apply)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	cfg := consensus.Config{
		ID:            1,
		Peers:         []raft.Peer{{ID: 1}},
		ElectionTick:  5,
		HeartbeatTick: 1,
		TickInterval:  5 * time.Millisecond,
		Transport:     consensus.NewLocalTransport(),
	}
	if err := peer.Start(cfg, info); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && peer.Role() != masterpb.LEADER {
		time.Sleep(5 * time.Millisecond)
	}
	if peer.Role() != masterpb.LEADER {
		t.Fatalf("timed out waiting for single-node peer to become leader")
	}

	cleanup := func() {
		peer.Stop()
		rows.Close()
	}
	return driver, peer, cleanup
}

func tableRowOp(opType masterpb.RowOpType, tableID string, entry masterpb.SysTablesEntryPB) masterpb.RowOperation {
	value, err := entry.Marshal()
	if err != nil {
		panic(err)
	}
	return masterpb.RowOperation{
		Type:    opType,
		RowData: rowstore.EncodeRowData(rowstore.TablesEntry, tableID, value),
	}
}

func TestSubmitWriteInsertsNewRow(t *testing.T) {
	driver, peer, cleanup := newRunningDriver(t)
	defer cleanup()

	entry := masterpb.SysTablesEntryPB{Name: "widgets", State: masterpb.TableRunning, Version: 1}
	state := &WriteState{
		TabletID: "sys-tablet",
		RowOps:   []masterpb.RowOperation{tableRowOp(masterpb.RowInsert, "widgets", entry)},
	}

	resp, err := driver.SubmitWrite(context.Background(), state)
	if err != nil {
		t.Fatalf("SubmitWrite: %v", err)
	}
	if resp.HasErrors() {
		t.Fatalf("expected no per-row errors, got %v", resp.PerRowErrors)
	}

	v, ok, err := peer.Rows.Get(rowstore.Key(rowstore.TablesEntry, "widgets"))
	if err != nil || !ok {
		t.Fatalf("expected widgets row present: ok=%v err=%v", ok, err)
	}
	var stored masterpb.SysTablesEntryPB
	if err := stored.Unmarshal(v); err != nil {
		t.Fatalf("unmarshal stored entry: %v", err)
	}
	if stored.Name != "widgets" {
		t.Fatalf("expected stored entry name widgets, got %q", stored.Name)
	}
}

func TestSubmitWriteInsertExistingRowIsPerRowError(t *testing.T) {
	driver, _, cleanup := newRunningDriver(t)
	defer cleanup()

	entry := masterpb.SysTablesEntryPB{Name: "widgets", Version: 1}
	ctx := context.Background()
	if _, err := driver.SubmitWrite(ctx, &WriteState{
		TabletID: "sys-tablet",
		RowOps:   []masterpb.RowOperation{tableRowOp(masterpb.RowInsert, "widgets", entry)},
	}); err != nil {
		t.Fatalf("first SubmitWrite: %v", err)
	}

	resp, err := driver.SubmitWrite(ctx, &WriteState{
		TabletID: "sys-tablet",
		RowOps:   []masterpb.RowOperation{tableRowOp(masterpb.RowInsert, "widgets", entry)},
	})
	if err != nil {
		t.Fatalf("second SubmitWrite: %v", err)
	}
	if !resp.HasErrors() || len(resp.PerRowErrors) != 1 {
		t.Fatalf("expected exactly one per-row error for duplicate insert, got %v", resp.PerRowErrors)
	}
}

func TestSubmitWriteUpdateMissingRowIsPerRowError(t *testing.T) {
	driver, _, cleanup := newRunningDriver(t)
	defer cleanup()

	resp, err := driver.SubmitWrite(context.Background(), &WriteState{
		TabletID: "sys-tablet",
		RowOps:   []masterpb.RowOperation{tableRowOp(masterpb.RowUpdate, "ghost", masterpb.SysTablesEntryPB{Name: "ghost"})},
	})
	if err != nil {
		t.Fatalf("SubmitWrite: %v", err)
	}
	if !resp.HasErrors() {
		t.Fatalf("expected update of a missing row to report a per-row error")
	}
}

func TestSubmitAlterSchemaBumpsVersion(t *testing.T) {
	driver, _, cleanup := newRunningDriver(t)
	defer cleanup()

	ctx := context.Background()
	original := masterpb.SysTablesEntryPB{
		Name:    "widgets",
		Version: 1,
		Schema: []masterpb.ColumnSchema{
			{Name: "id", Type: "int64", IsKey: true},
		},
	}
	if _, err := driver.SubmitWrite(ctx, &WriteState{
		TabletID: "sys-tablet",
		RowOps:   []masterpb.RowOperation{tableRowOp(masterpb.RowInsert, "widgets", original)},
	}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	newSchema := append(append([]masterpb.ColumnSchema(nil), original.Schema...),
		masterpb.ColumnSchema{Name: "name", Type: "string", Nullable: true})

	resp, err := driver.SubmitAlterSchema(ctx, "widgets", newSchema)
	if err != nil {
		t.Fatalf("SubmitAlterSchema: %v", err)
	}
	if resp.NewVersion != 2 {
		t.Fatalf("expected version bumped to 2, got %d", resp.NewVersion)
	}

	// Idempotent retry of the same schema is a no-op success (SPEC_FULL
	// §13.4), not a second version bump.
	resp2, err := driver.SubmitAlterSchema(ctx, "widgets", newSchema)
	if err != nil {
		t.Fatalf("retry SubmitAlterSchema: %v", err)
	}
	if resp2.NewVersion != 2 {
		t.Fatalf("expected retry to be a no-op at version 2, got %d", resp2.NewVersion)
	}
}

func TestSubmitAlterSchemaRejectsDroppedKeyColumn(t *testing.T) {
	driver, _, cleanup := newRunningDriver(t)
	defer cleanup()

	ctx := context.Background()
	original := masterpb.SysTablesEntryPB{
		Name:    "widgets",
		Version: 1,
		Schema: []masterpb.ColumnSchema{
			{Name: "id", Type: "int64", IsKey: true},
		},
	}
	if _, err := driver.SubmitWrite(ctx, &WriteState{
		TabletID: "sys-tablet",
		RowOps:   []masterpb.RowOperation{tableRowOp(masterpb.RowInsert, "widgets", original)},
	}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	if _, err := driver.SubmitAlterSchema(ctx, "widgets", nil); err == nil {
		t.Fatalf("expected dropping the key column to be rejected")
	}
}
