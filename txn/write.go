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
	"fmt"
	"sync"
	"time"

	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/rowstore"
	"github.com/kudu-go/master/status"
	"github.com/kudu-go/master/tablet"
)

// WriteState is everything a single write transaction needs from its
// caller (spec §4.G): which tablet, which row mutations, and an optional
// deadline. A master method such as AddTable builds one of these, hands it
// to Driver.SubmitWrite, and blocks until it returns.
type WriteState struct {
	TabletID string
	RowOps   []masterpb.RowOperation
	// Deadline is the point past which SubmitWrite gives up waiting for
	// consensus to commit (SPEC_FULL §12.G/H); the zero value means no
	// deadline.
	Deadline time.Time
}

// Driver is the write-transaction driver (spec §4.G): it runs Prepare,
// Replicate, Apply and Finish for row writes, and its Apply is handed to the
// owning tablet.Peer as the Apply callback Init takes, so a write that
// comes through the normal path and a write replayed at bootstrap run
// through the exact same row-mutation logic.
type Driver struct {
	peer  *tablet.Peer
	locks *RowLockTable

	// schemaLock is the tablet-level component lock spec §4.G/H describe:
	// writes take it in shared mode for the duration of their Apply step,
	// AlterSchema takes it exclusively so it never observes (or races
	// with) an in-flight write's Apply.
	schemaLock sync.RWMutex
}

// NewDriver constructs a Driver over peer. Callers must pass d.Apply to
// peer.Init as the Apply callback before calling peer.Start.
func NewDriver(peer *tablet.Peer) *Driver {
	return &Driver{peer: peer, locks: NewRowLockTable()}
}

// Apply is the tablet.Apply callback: it dispatches a committed
// ReplicateMsg to this tablet's write or alter-schema apply logic depending
// on its OpType. Passed to tablet.Peer.Init.
func (d *Driver) Apply(msg masterpb.ReplicateMsg) ([]byte, error) {
	switch msg.Type {
	case masterpb.WriteOp:
		return d.applyWrite(msg)
	case masterpb.AlterSchemaOp:
		return d.applyAlterSchema(msg)
	case masterpb.NoOp:
		return nil, nil
	default:
		return nil, status.Corruptionf("unknown op type %d in committed replicate", msg.Type)
	}
}

// SubmitWrite runs a full write transaction to completion: Prepare (row-key
// validation and lock acquisition), Replicate (hand the request to
// consensus via peer.SubmitAndWait), Apply (the committed callback mutates
// rowstore, see applyWrite), and Finish (drop locks, return the per-row
// response). It is the synchronous call a master method such as AddTable
// makes and blocks on (spec §4.G's top-level control flow).
func (d *Driver) SubmitWrite(ctx context.Context, state *WriteState) (*masterpb.WriteResponsePB, error) {
	keys := make([]string, 0, len(state.RowOps))
	for _, op := range state.RowOps {
		entry, id, _, err := decodeRowData(op.RowData)
		if err != nil {
			return nil, status.Wrap(err, status.InvalidArgument, "decode row operation")
		}
		keys = append(keys, rowKey(entry, id))
	}

	// Prepare: acquire every row lock this batch touches, in sorted order,
	// before this write is allowed to reach consensus at all (spec §4.G
	// Prepare, §8 deadlock avoidance).
	held := d.locks.Acquire(keys)
	defer held.Release()

	d.schemaLock.RLock()
	defer d.schemaLock.RUnlock()

	if !state.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, state.Deadline)
		defer cancel()
	}

	req := masterpb.WriteRequestPB{TabletID: state.TabletID, RowOps: state.RowOps}
	payload, err := req.Marshal()
	if err != nil {
		return nil, status.Wrap(err, status.InvalidArgument, "marshal write request")
	}

	// Replicate + Apply happen inside SubmitAndWait: it blocks until
	// consensus commits the entry and this tablet's Apply callback (above)
	// has run against it.
	_, respBytes, err := d.peer.SubmitAndWait(ctx, masterpb.WriteOp, payload)
	if err != nil {
		return nil, err
	}

	var resp masterpb.WriteResponsePB
	if err := resp.Unmarshal(respBytes); err != nil {
		return nil, status.Wrap(err, status.Corruption, "unmarshal write response")
	}
	return &resp, nil
}

// applyWrite is the Apply step for a WRITE_OP (spec §4.G Apply): it decodes
// the committed request, resolves each row op against the current state of
// the row store (InsertUnlocked/MutateRowUnlocked's per-op semantics —
// insert must be absent, update/delete must be present, upsert never
// fails), and applies every row that resolved cleanly in a single
// rowstore.WriteBatch so the batch is atomic even though individual rows
// may have failed. A per-row failure never fails the whole apply: it is
// recorded in the response's PerRowErrors and the op still commits
// normally, not as OP_ABORT (spec §4.G "still committed ... response
// carries the error").
func (d *Driver) applyWrite(msg masterpb.ReplicateMsg) ([]byte, error) {
	var req masterpb.WriteRequestPB
	if err := req.Unmarshal(msg.Payload); err != nil {
		return nil, status.Wrap(err, status.Corruption, "unmarshal committed write request")
	}

	var muts []rowstore.Mutation
	var perRowErrs []masterpb.PerRowError

	for i, op := range req.RowOps {
		entry, id, value, err := decodeRowData(op.RowData)
		if err != nil {
			perRowErrs = append(perRowErrs, rowErrorf(i, status.Corruption, "decode row data: %v", err))
			continue
		}
		key := rowstore.Key(entry, id)
		_, exists, err := d.peer.Rows.Get(key)
		if err != nil {
			return nil, status.Wrap(err, status.IOError, "read row store during apply")
		}

		switch op.Type {
		case masterpb.RowInsert:
			if exists {
				perRowErrs = append(perRowErrs, rowErrorf(i, status.AlreadyPresent, "row %q already exists", id))
				continue
			}
			muts = append(muts, rowstore.Mutation{Key: key, Value: value})
		case masterpb.RowUpdate:
			if !exists {
				perRowErrs = append(perRowErrs, rowErrorf(i, status.NotFound, "row %q not found", id))
				continue
			}
			muts = append(muts, rowstore.Mutation{Key: key, Value: value})
		case masterpb.RowUpsert:
			muts = append(muts, rowstore.Mutation{Key: key, Value: value})
		case masterpb.RowDelete:
			if !exists {
				perRowErrs = append(perRowErrs, rowErrorf(i, status.NotFound, "row %q not found", id))
				continue
			}
			muts = append(muts, rowstore.Mutation{Key: key, Delete: true})
		default:
			perRowErrs = append(perRowErrs, rowErrorf(i, status.InvalidArgument, "unknown row op type %d", op.Type))
		}
	}

	if len(muts) > 0 {
		if err := d.peer.Rows.WriteBatch(muts); err != nil {
			return nil, status.Wrap(err, status.IOError, "apply committed write batch")
		}
	}

	resp := masterpb.WriteResponsePB{Timestamp: msg.Timestamp, PerRowErrors: perRowErrs}
	return resp.Marshal()
}

func rowErrorf(rowIndex int, kind status.Kind, format string, args ...interface{}) masterpb.PerRowError {
	return masterpb.PerRowError{
		RowIndex: int32(rowIndex),
		Error:    masterpb.ErrorPB{Code: int32(kind), Message: fmt.Sprintf(format, args...)},
	}
}
