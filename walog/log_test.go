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

package walog

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/kudu-go/master/masterpb"
)

func TestWriteAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := OpenWriter(path)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}

	rep := masterpb.ReplicateMsg{ID: masterpb.OpID{Term: 1, Index: 1}, Type: masterpb.WriteOp, Timestamp: 10, Payload: []byte("p1")}
	if err := w.AppendReplicate(rep); err != nil {
		t.Fatalf("AppendReplicate: %v", err)
	}
	commit := masterpb.CommitMsg{CommitedOpID: rep.ID, Timestamp: 11}
	if err := w.AppendCommit(commit); err != nil {
		t.Fatalf("AppendCommit: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	e1, err := r.Next()
	if err != nil {
		t.Fatalf("Next 1: %v", err)
	}
	if e1.Kind != ReplicateEntry || e1.Replicate.ID != rep.ID {
		t.Fatalf("unexpected first entry: %+v", e1)
	}

	e2, err := r.Next()
	if err != nil {
		t.Fatalf("Next 2: %v", err)
	}
	if e2.Kind != CommitEntry || e2.Commit.CommitedOpID != commit.CommitedOpID {
		t.Fatalf("unexpected second entry: %+v", e2)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of log, got %v", err)
	}
}

func TestReplayStopsAtTruncatedTrailingFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := OpenWriter(path)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	rep := masterpb.ReplicateMsg{ID: masterpb.OpID{Term: 1, Index: 1}, Type: masterpb.WriteOp, Payload: []byte("p1")}
	if err := w.AppendReplicate(rep); err != nil {
		t.Fatalf("AppendReplicate: %v", err)
	}
	rep2 := masterpb.ReplicateMsg{ID: masterpb.OpID{Term: 1, Index: 2}, Type: masterpb.WriteOp, Payload: []byte("p2")}
	if err := w.AppendReplicate(rep2); err != nil {
		t.Fatalf("AppendReplicate: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	first, err := r.Next()
	if err != nil {
		t.Fatalf("Next (first, complete) entry: %v", err)
	}
	if first.Replicate.ID != rep.ID {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected truncated trailing frame to read back as io.EOF, got %v", err)
	}
}

func TestAnchorRegistryTracksEarliest(t *testing.T) {
	reg := NewAnchorRegistry()
	if _, ok := reg.EarliestAnchor(); ok {
		t.Fatalf("expected no anchors in a fresh registry")
	}

	id1 := masterpb.OpID{Term: 1, Index: 5}
	id2 := masterpb.OpID{Term: 1, Index: 2}
	id3 := masterpb.OpID{Term: 2, Index: 1}

	reg.Register(id1)
	reg.Register(id2)
	reg.Register(id3)

	earliest, ok := reg.EarliestAnchor()
	if !ok || earliest != id2 {
		t.Fatalf("expected earliest anchor %v, got %v (ok=%v)", id2, earliest, ok)
	}

	reg.Release(id2)
	earliest, ok = reg.EarliestAnchor()
	if !ok || earliest != id1 {
		t.Fatalf("expected earliest anchor %v after release, got %v (ok=%v)", id1, earliest, ok)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 anchors remaining, got %d", reg.Len())
	}
}

func TestAnchorRegistryRefCounts(t *testing.T) {
	reg := NewAnchorRegistry()
	id := masterpb.OpID{Term: 1, Index: 1}
	reg.Register(id)
	reg.Register(id)
	reg.Release(id)
	if _, ok := reg.EarliestAnchor(); !ok {
		t.Fatalf("expected anchor to remain registered after a single release of a double-registered id")
	}
	reg.Release(id)
	if _, ok := reg.EarliestAnchor(); ok {
		t.Fatalf("expected anchor to be gone after releasing both registrations")
	}
}
