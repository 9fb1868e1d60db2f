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

package tablet

import (
	"io"
	"os"
	"sort"

	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/status"
	"github.com/kudu-go/master/walog"
)

// BootstrapInfo is the outcome of replaying a tablet's log on startup
// (spec §4.E): what consensus needs to know to resume where the log left
// off, and which replicated-but-uncommitted writes must be retried.
type BootstrapInfo struct {
	// LastID is the op id of the last entry in the log, used to seed
	// consensus's own notion of the log's current end.
	LastID masterpb.OpID
	// LastCommittedID is the highest op id known to have committed.
	LastCommittedID masterpb.OpID
	// OrphanedReplicates are REPLICATE entries with no matching COMMIT,
	// ordered by op id. tablet.Peer.Start re-drives each of these through
	// the normal write-transaction pipeline (SPEC_FULL §12.F).
	OrphanedReplicates []masterpb.ReplicateMsg
}

// Apply is the callback Bootstrap invokes, in log order, once a REPLICATE
// is confirmed committed during replay: it is exactly what the Apply phase
// of the write-transaction driver does for a live write, run here against
// the log instead of a fresh proposal. Its response payload is discarded
// during replay (nobody is waiting on it) but shares the signature
// Peer.ApplyCommit uses live, so one function serves both paths.
type Apply func(masterpb.ReplicateMsg) ([]byte, error)

// Bootstrap implements spec §4.E: it opens logPath for reading (a missing
// file means a brand-new tablet with an empty history), replays every
// entry, applies each REPLICATE whose COMMIT is present, and returns the
// resulting BootstrapInfo together with a Writer positioned at end-of-log
// ready to accept new appends.
func Bootstrap(logPath string, apply Apply) (*BootstrapInfo, *walog.Writer, error) {
	pending := make(map[masterpb.OpID]masterpb.ReplicateMsg)
	info := &BootstrapInfo{}

	if _, err := os.Stat(logPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, status.Wrap(err, status.IOError, "stat log")
		}
		// No log yet: nothing to replay. OpenWriter creates it.
	} else {
		r, err := walog.OpenReader(logPath)
		if err != nil {
			return nil, nil, err
		}
		for {
			entry, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				r.Close()
				return nil, nil, status.Wrap(err, status.Corruption, "replay log")
			}

			switch entry.Kind {
			case walog.ReplicateEntry:
				pending[entry.Replicate.ID] = entry.Replicate
				if info.LastID.Less(entry.Replicate.ID) {
					info.LastID = entry.Replicate.ID
				}
			case walog.CommitEntry:
				id := entry.Commit.CommitedOpID
				msg, ok := pending[id]
				if !ok {
					r.Close()
					return nil, nil, status.Corruptionf("log has COMMIT for %s with no matching REPLICATE", id)
				}
				delete(pending, id)
				// An OP_ABORT commit means this op's Apply already failed on
				// the leader before the crash; replaying it again would only
				// reproduce the same failure (spec §4.E step 2 "for each
				// OP_ABORT commit, discard").
				if entry.Commit.OpType != masterpb.OpAbort {
					if _, err := apply(msg); err != nil {
						r.Close()
						return nil, nil, status.Wrap(err, status.Corruption, "replay apply for "+id.String())
					}
				}
				if info.LastCommittedID.Less(id) {
					info.LastCommittedID = id
				}
			}
		}
		r.Close()
	}

	info.OrphanedReplicates = make([]masterpb.ReplicateMsg, 0, len(pending))
	for _, msg := range pending {
		info.OrphanedReplicates = append(info.OrphanedReplicates, msg)
	}
	sort.Slice(info.OrphanedReplicates, func(i, j int) bool {
		return info.OrphanedReplicates[i].ID.Less(info.OrphanedReplicates[j].ID)
	})

	w, err := walog.OpenWriter(logPath)
	if err != nil {
		return nil, nil, err
	}
	return info, w, nil
}
