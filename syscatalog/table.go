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

// Package syscatalog is the sys-catalog table (spec §4.I): a typed
// TABLES_ENTRY/TABLETS_ENTRY accessor wrapped around a tablet.Peer, the two
// apply thread pools a catalog write runs on, and the quorum-state-change
// assertion SysCatalogStateChanged performs until this module has real
// multi-replica elections to trust instead.
package syscatalog

import (
	"context"

	"github.com/golang/glog"

	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/rowstore"
	"github.com/kudu-go/master/status"
	"github.com/kudu-go/master/tablet"
	"github.com/kudu-go/master/threadpool"
	"github.com/kudu-go/master/txn"
	"github.com/kudu-go/master/util/metric"
)

// Table wraps the single sys-catalog tablet.Peer with the typed accessors
// spec §4.I describes, dispatching every committed apply through one of two
// dedicated pools depending on this replica's role at commit time.
// ApplyCommitted waits for each apply's result before returning, so one
// apply still finishes before the next committed entry's apply starts.
type Table struct {
	peer   *tablet.Peer
	driver *txn.Driver

	ldrPool  *threadpool.ThreadPool
	replPool *threadpool.ThreadPool

	// wantLeader is opts.leader in distributed mode and true for a
	// single-node quorum (SPEC_FULL §13.3; master.start computes it): the
	// locally configured belief about whether this process should be the
	// quorum's leader, in the absence of a real multi-replica election to
	// derive it from.
	wantLeader bool
}

// NewTable constructs a Table over peer. Callers must pass the returned
// Table's ApplyCommitted to peer.Init as the Apply callback, and
// SysCatalogStateChanged to consensus.Config.RoleChanged, before calling
// peer.Start; see master.CreateNew/Load for the wiring.
func NewTable(peer *tablet.Peer, wantLeader bool) (*Table, error) {
	ldrPool, err := threadpool.NewBuilder("ldr-apply").Build()
	if err != nil {
		return nil, status.Wrap(err, status.Configuration, "build ldr-apply pool")
	}
	replPool, err := threadpool.NewBuilder("repl-apply").Build()
	if err != nil {
		return nil, status.Wrap(err, status.Configuration, "build repl-apply pool")
	}
	return &Table{
		peer:       peer,
		driver:     txn.NewDriver(peer),
		ldrPool:    ldrPool,
		replPool:   replPool,
		wantLeader: wantLeader,
	}, nil
}

// ApplyCommitted is the tablet.Apply callback: it runs the write-transaction
// driver's Apply step (txn.Driver.Apply) on ldr-apply if this replica
// currently believes itself leader, repl-apply otherwise. The result is
// still returned synchronously — apply order within a replica is fixed by
// the log index order consensus already committed entries in (spec §5), so
// dispatching through a pool changes which goroutine does the work without
// changing the order it's observed to complete in.
func (t *Table) ApplyCommitted(msg masterpb.ReplicateMsg) ([]byte, error) {
	pool := t.replPool
	if t.peer.Role() == masterpb.LEADER {
		pool = t.ldrPool
	}

	type outcome struct {
		resp []byte
		err  error
	}
	done := make(chan outcome, 1)
	submitErr := pool.Submit(func() {
		resp, err := t.driver.Apply(msg)
		done <- outcome{resp, err}
	})
	if submitErr != nil {
		return nil, submitErr
	}
	o := <-done
	return o.resp, o.err
}

// SysCatalogStateChanged is consensus.Config.RoleChanged's callback (spec
// §4.I): it logs the new role and, until this module grows real
// multi-replica elections, asserts that a settled role (LEADER or FOLLOWER,
// never the transient CANDIDATE) matches what opts.leader configured this
// process to be (SPEC_FULL §13.3).
func (t *Table) SysCatalogStateChanged(role masterpb.Role) {
	glog.Infof("sys catalog: quorum state changed, local role now %s", role)
	switch role {
	case masterpb.LEADER:
		if !t.wantLeader {
			glog.Fatalf("sys catalog: local peer became LEADER but opts.leader=false")
		}
	case masterpb.FOLLOWER:
		if t.wantLeader {
			glog.Fatalf("sys catalog: local peer is FOLLOWER but opts.leader=true")
		}
	}
}

// Shutdown drains and stops both apply pools. Call after tablet.Peer.Stop
// so no ApplyCommitted call is still in flight when the pools exit.
func (t *Table) Shutdown() {
	t.ldrPool.Shutdown()
	t.replPool.Shutdown()
}

// Metrics returns the underlying peer's metric sink (spec §4.I's
// metric_ctx), tracking replicated/committed op counts and apply failures.
func (t *Table) Metrics() *metric.Registry {
	return t.peer.Metrics
}

func tableRowOp(opType masterpb.RowOpType, entry masterpb.SysTablesEntryPB) (masterpb.RowOperation, error) {
	value, err := entry.Marshal()
	if err != nil {
		return masterpb.RowOperation{}, status.Wrap(err, status.InvalidArgument, "marshal table entry")
	}
	return masterpb.RowOperation{
		Type:    opType,
		RowData: rowstore.EncodeRowData(rowstore.TablesEntry, entry.Name, value),
	}, nil
}

func tabletRowOp(opType masterpb.RowOpType, entry masterpb.SysTabletsEntryPB) (masterpb.RowOperation, error) {
	value, err := entry.Marshal()
	if err != nil {
		return masterpb.RowOperation{}, status.Wrap(err, status.InvalidArgument, "marshal tablet entry")
	}
	return masterpb.RowOperation{
		Type:    opType,
		RowData: rowstore.EncodeRowData(rowstore.TabletsEntry, entry.TabletID, value),
	}, nil
}

// SyncWrite submits rowOps against the sys-catalog tablet and blocks until
// consensus commits them (spec §4.I "blocks on a CountDownLatch of 1 fired
// by the transaction completion callback" — txn.Driver.SubmitWrite's own
// blocking channel wait is that latch).
func (t *Table) SyncWrite(ctx context.Context, rowOps []masterpb.RowOperation) (*masterpb.WriteResponsePB, error) {
	return t.driver.SubmitWrite(ctx, &txn.WriteState{
		TabletID: masterpb.SysCatalogTabletID,
		RowOps:   rowOps,
	})
}

// asCorruption translates a write response's per-row errors into a single
// Corruption status (spec §4.I "translate per-row errors to a Corruption
// status"): these accessors either fully succeed or the catalog itself is
// in an unexpected state, unlike AddAndUpdateTablets below where a partial
// failure is an ordinary, expected outcome.
func asCorruption(op string, resp *masterpb.WriteResponsePB) error {
	if !resp.HasErrors() {
		return nil
	}
	first := resp.PerRowErrors[0]
	return status.Corruptionf("%s: one or more rows failed to write: %s", op, first.Error.Message)
}

// AddTable inserts a new table's catalog row.
func (t *Table) AddTable(ctx context.Context, entry masterpb.SysTablesEntryPB) error {
	op, err := tableRowOp(masterpb.RowInsert, entry)
	if err != nil {
		return err
	}
	resp, err := t.SyncWrite(ctx, []masterpb.RowOperation{op})
	if err != nil {
		return err
	}
	return asCorruption("add table "+entry.Name, resp)
}

// UpdateTable overwrites an existing table's catalog row.
func (t *Table) UpdateTable(ctx context.Context, entry masterpb.SysTablesEntryPB) error {
	op, err := tableRowOp(masterpb.RowUpdate, entry)
	if err != nil {
		return err
	}
	resp, err := t.SyncWrite(ctx, []masterpb.RowOperation{op})
	if err != nil {
		return err
	}
	return asCorruption("update table "+entry.Name, resp)
}

// DeleteTable removes a table's catalog row.
//
// Open Question decision: the original implementation has a long-standing
// bug where DeleteTable submits its write against the table's own column
// name instead of the sys-catalog tablet id; this implementation always
// targets masterpb.SysCatalogTabletID (via SyncWrite), not the bug.
func (t *Table) DeleteTable(ctx context.Context, name string) error {
	op := masterpb.RowOperation{
		Type:    masterpb.RowDelete,
		RowData: rowstore.EncodeRowData(rowstore.TablesEntry, name, nil),
	}
	resp, err := t.SyncWrite(ctx, []masterpb.RowOperation{op})
	if err != nil {
		return err
	}
	return asCorruption("delete table "+name, resp)
}

// AddTablets inserts new tablet catalog rows in a single batch.
func (t *Table) AddTablets(ctx context.Context, entries []masterpb.SysTabletsEntryPB) error {
	return t.batchTablets(ctx, "add tablets", masterpb.RowInsert, entries)
}

// UpdateTablets overwrites existing tablet catalog rows in a single batch.
func (t *Table) UpdateTablets(ctx context.Context, entries []masterpb.SysTabletsEntryPB) error {
	return t.batchTablets(ctx, "update tablets", masterpb.RowUpdate, entries)
}

// DeleteTablets removes tablet catalog rows in a single batch.
func (t *Table) DeleteTablets(ctx context.Context, tabletIDs []string) error {
	ops := make([]masterpb.RowOperation, len(tabletIDs))
	for i, id := range tabletIDs {
		ops[i] = masterpb.RowOperation{Type: masterpb.RowDelete, RowData: rowstore.EncodeRowData(rowstore.TabletsEntry, id, nil)}
	}
	resp, err := t.SyncWrite(ctx, ops)
	if err != nil {
		return err
	}
	return asCorruption("delete tablets", resp)
}

// AddAndUpdateTablets batches an insert set and an update set into a single
// write. A partial failure — some rows succeeding, others not — is an
// expected outcome here (unlike the other accessors above), so this
// returns the raw per-row response instead of collapsing it into a single
// Corruption: callers that need an all-or-nothing guarantee must check
// resp.HasErrors() themselves (Open Question decision #2: reconciling a
// partial failure is left to the out-of-scope catalog-manager layer).
func (t *Table) AddAndUpdateTablets(ctx context.Context, toAdd, toUpdate []masterpb.SysTabletsEntryPB) (*masterpb.WriteResponsePB, error) {
	ops := make([]masterpb.RowOperation, 0, len(toAdd)+len(toUpdate))
	for _, e := range toAdd {
		op, err := tabletRowOp(masterpb.RowInsert, e)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	for _, e := range toUpdate {
		op, err := tabletRowOp(masterpb.RowUpdate, e)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return t.SyncWrite(ctx, ops)
}

func (t *Table) batchTablets(ctx context.Context, opName string, opType masterpb.RowOpType, entries []masterpb.SysTabletsEntryPB) error {
	ops := make([]masterpb.RowOperation, len(entries))
	for i, e := range entries {
		op, err := tabletRowOp(opType, e)
		if err != nil {
			return err
		}
		ops[i] = op
	}
	resp, err := t.SyncWrite(ctx, ops)
	if err != nil {
		return err
	}
	return asCorruption(opName, resp)
}

// VisitTables calls visitor for every table row in the catalog, in key
// (name) order, parsing each row's opaque metadata into a
// SysTablesEntryPB (spec §4.I).
func (t *Table) VisitTables(visitor func(masterpb.SysTablesEntryPB) error) error {
	return t.peer.Rows.Scan(rowstore.Prefix(rowstore.TablesEntry), func(key, value []byte) error {
		var entry masterpb.SysTablesEntryPB
		if err := entry.Unmarshal(value); err != nil {
			return status.Wrap(err, status.Corruption, "unmarshal table entry during visit")
		}
		return visitor(entry)
	})
}

// VisitTablets calls visitor for every tablet row in the catalog, in key
// (tablet id) order.
func (t *Table) VisitTablets(visitor func(masterpb.SysTabletsEntryPB) error) error {
	return t.peer.Rows.Scan(rowstore.Prefix(rowstore.TabletsEntry), func(key, value []byte) error {
		var entry masterpb.SysTabletsEntryPB
		if err := entry.Unmarshal(value); err != nil {
			return status.Wrap(err, status.Corruption, "unmarshal tablet entry during visit")
		}
		return visitor(entry)
	})
}
