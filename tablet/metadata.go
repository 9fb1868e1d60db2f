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

// Package tablet owns the sys catalog's single tablet: its on-disk
// metadata, its write-ahead log, and the TabletPeer that ties a log, a
// row store and a consensus.Group together into something the txn
// package's write-transaction driver can submit against (spec §4.D-§4.F).
package tablet

import (
	"os"
	"path/filepath"

	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/status"
)

func metaPath(dir, tabletID string) string {
	return filepath.Join(dir, tabletID+".tmeta")
}

// Metadata is the durable per-tablet record of block pointers and identity
// (spec §4.D). It does not hold the tablet's schema — the sys catalog's
// row schema is fixed (spec's "Sys-catalog row schema" section) — so the
// only mutable state is which of block_a/block_b is active.
type Metadata struct {
	path string
	pb   masterpb.TabletMetadataPB
}

// CreateNewMetadata writes a brand-new tablet metadata record with both
// block slots set to the module's two reserved sys-catalog block ids
// (masterpb.SysCatalogBlockA/B), block_a active.
func CreateNewMetadata(dir, tabletID, tableID string) (*Metadata, error) {
	path := metaPath(dir, tabletID)
	if _, err := os.Stat(path); err == nil {
		return nil, status.AlreadyPresentf("tablet metadata already exists for %s", tabletID)
	} else if !os.IsNotExist(err) {
		return nil, status.Wrap(err, status.IOError, "stat tablet metadata")
	}
	m := &Metadata{
		path: path,
		pb: masterpb.TabletMetadataPB{
			TabletID:  tabletID,
			TableID:   tableID,
			BlockA:    masterpb.SysCatalogBlockA,
			BlockB:    masterpb.SysCatalogBlockB,
			ActiveIsA: true,
		},
	}
	if err := m.flushLocked(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadMetadata reads an existing tablet metadata record for tabletID.
func LoadMetadata(dir, tabletID string) (*Metadata, error) {
	path := metaPath(dir, tabletID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.NotFoundf("no tablet metadata for %s", tabletID)
		}
		return nil, status.Wrap(err, status.IOError, "read tablet metadata")
	}
	var pb masterpb.TabletMetadataPB
	if err := pb.Unmarshal(data); err != nil {
		return nil, status.Wrap(err, status.Corruption, "decode tablet metadata for "+tabletID)
	}
	return &Metadata{path: path, pb: pb}, nil
}

// TabletID returns this tablet's id.
func (m *Metadata) TabletID() string { return m.pb.TabletID }

// TableID returns the catalog table this tablet belongs to (the sys
// catalog's own reserved table id, for this module's one tablet).
func (m *Metadata) TableID() string { return m.pb.TableID }

// ActiveBlock returns the block id a reader should open right now.
func (m *Metadata) ActiveBlock() string { return m.pb.ActiveBlock() }

// SwapBlocks implements the two-phase block swap (spec §4.D; SPEC_FULL
// §12.D/E): the currently inactive slot is overwritten with next and
// flushed durably, and only once that succeeds does ActiveIsA flip to
// point at it. A crash between the two flushes leaves the old block still
// active and next sitting in the inactive slot, ready to be retried.
func (m *Metadata) SwapBlocks(next string) error {
	if m.pb.ActiveIsA {
		m.pb.BlockB = next
	} else {
		m.pb.BlockA = next
	}
	if err := m.flushLocked(); err != nil {
		return err
	}
	m.pb.ActiveIsA = !m.pb.ActiveIsA
	return m.flushLocked()
}

func (m *Metadata) flushLocked() error {
	data, err := m.pb.Marshal()
	if err != nil {
		return status.Wrap(err, status.Corruption, "encode tablet metadata")
	}

	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return status.Wrap(err, status.IOError, "create temp tablet metadata file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return status.Wrap(err, status.IOError, "write temp tablet metadata file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return status.Wrap(err, status.IOError, "fsync temp tablet metadata file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return status.Wrap(err, status.IOError, "close temp tablet metadata file")
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return status.Wrap(err, status.IOError, "install tablet metadata file")
	}
	return nil
}
