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

// Package consensusmeta persists a tablet's committed QuorumPB and the
// peer's own consensus term/vote record outside of the replicated log
// itself (spec §3, component B), so a restarted peer knows who it is and
// who it may vote for before it has replayed a single log entry. Create,
// SetQuorum and SetTermAndVote write via a temp-file-then-rename so a crash mid-write can never
// leave a torn record behind, the same durability idiom the teacher's
// storage layer relies on for its own metadata files.
package consensusmeta

import (
	"os"
	"path/filepath"

	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/status"
)

// Store is the on-disk consensus-metadata record for a single tablet.
type Store struct {
	path string
	pb   masterpb.ConsensusMetadataPB
}

func metaPath(dir, tabletID string) string {
	return filepath.Join(dir, tabletID+".cmeta")
}

// Create writes a brand-new consensus-metadata file for tabletID, failing
// if one already exists.
func Create(dir, tabletID string, quorum masterpb.QuorumPB, term uint64) (*Store, error) {
	path := metaPath(dir, tabletID)
	if _, err := os.Stat(path); err == nil {
		return nil, status.AlreadyPresentf("consensus metadata already exists for tablet %s", tabletID)
	} else if !os.IsNotExist(err) {
		return nil, status.Wrap(err, status.IOError, "stat consensus metadata")
	}
	s := &Store{path: path, pb: masterpb.ConsensusMetadataPB{Quorum: quorum, CurrentTerm: term}}
	if err := s.flushLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the existing consensus-metadata file for tabletID.
func Load(dir, tabletID string) (*Store, error) {
	path := metaPath(dir, tabletID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.NotFoundf("no consensus metadata for tablet %s", tabletID)
		}
		return nil, status.Wrap(err, status.IOError, "read consensus metadata")
	}
	var pb masterpb.ConsensusMetadataPB
	if err := pb.Unmarshal(data); err != nil {
		return nil, status.Wrap(err, status.Corruption, "decode consensus metadata for tablet "+tabletID)
	}
	return &Store{path: path, pb: pb}, nil
}

// Quorum returns the currently committed quorum descriptor.
func (s *Store) Quorum() masterpb.QuorumPB { return s.pb.Quorum.Clone() }

// CurrentTerm returns the current consensus term.
func (s *Store) CurrentTerm() uint64 { return s.pb.CurrentTerm }

// VotedFor returns the permanent_uuid this peer voted for in CurrentTerm,
// or "" if it hasn't voted yet this term.
func (s *Store) VotedFor() string { return s.pb.VotedFor }

// SetQuorum installs a new committed quorum (e.g. after a configuration
// change) without touching the term/vote record, and flushes it to disk.
func (s *Store) SetQuorum(q masterpb.QuorumPB) error {
	s.pb.Quorum = q.Clone()
	return s.flushLocked()
}

// SetTermAndVote records a new term and the peer voted for within it
// (mirrors the raft durability requirement that term/vote survive a
// restart before any further vote may be cast), and flushes it to disk.
func (s *Store) SetTermAndVote(term uint64, votedFor string) error {
	s.pb.CurrentTerm = term
	s.pb.VotedFor = votedFor
	return s.flushLocked()
}

// flushLocked serializes pb and atomically replaces the on-disk file via a
// temp-file-write-fsync-rename sequence, so a reader never observes a
// partially written record regardless of when a crash occurs.
func (s *Store) flushLocked() error {
	data, err := s.pb.Marshal()
	if err != nil {
		return status.Wrap(err, status.Corruption, "encode consensus metadata")
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return status.Wrap(err, status.IOError, "create temp consensus metadata file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return status.Wrap(err, status.IOError, "write temp consensus metadata file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return status.Wrap(err, status.IOError, "fsync temp consensus metadata file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return status.Wrap(err, status.IOError, "close temp consensus metadata file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return status.Wrap(err, status.IOError, "install consensus metadata file")
	}
	return nil
}
