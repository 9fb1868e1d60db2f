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

package master

import (
	"context"
	"testing"
	"time"

	"github.com/kudu-go/master/masterpb"
)

func waitForLeader(t *testing.T, m *Master) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && m.Role() != masterpb.LEADER {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Role() != masterpb.LEADER {
		t.Fatalf("timed out waiting for single-node master to become leader")
	}
}

func TestCreateNewSingleNodeBecomesLeader(t *testing.T) {
	dir := t.TempDir()
	opts := Options{FSRoot: dir, TickInterval: 5 * time.Millisecond, ElectionTick: 5, HeartbeatTick: 1}

	m, err := CreateNew(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("CreateNew: %v", err)
	}
	defer m.Shutdown()
	waitForLeader(t, m)

	if m.SelfUUID() == "" {
		t.Fatalf("expected a non-empty self uuid")
	}
}

func TestCreateNewTwiceFails(t *testing.T) {
	dir := t.TempDir()
	opts := Options{FSRoot: dir, TickInterval: 5 * time.Millisecond, ElectionTick: 5, HeartbeatTick: 1}

	m, err := CreateNew(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("first CreateNew: %v", err)
	}
	m.Shutdown()

	if _, err := CreateNew(context.Background(), opts, nil); err == nil {
		t.Fatalf("expected second CreateNew against the same FSRoot to fail")
	}
}

func TestLoadResumesPersistedCatalogData(t *testing.T) {
	dir := t.TempDir()
	opts := Options{FSRoot: dir, TickInterval: 5 * time.Millisecond, ElectionTick: 5, HeartbeatTick: 1}

	m, err := CreateNew(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("CreateNew: %v", err)
	}
	waitForLeader(t, m)
	firstUUID := m.SelfUUID()

	ctx := context.Background()
	if err := m.Table().AddTable(ctx, masterpb.SysTablesEntryPB{Name: "widgets", Version: 1}); err != nil {
		t.Fatalf("AddTable: %v", err)
	}
	m.Shutdown()

	m2, err := Load(opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m2.Shutdown()
	waitForLeader(t, m2)

	if m2.SelfUUID() != firstUUID {
		t.Fatalf("expected Load to reuse the instance uuid %q, got %q", firstUUID, m2.SelfUUID())
	}

	var names []string
	if err := m2.Table().VisitTables(func(e masterpb.SysTablesEntryPB) error {
		names = append(names, e.Name)
		return nil
	}); err != nil {
		t.Fatalf("VisitTables: %v", err)
	}
	if len(names) != 1 || names[0] != "widgets" {
		t.Fatalf("expected the previously added table to survive a restart, got %v", names)
	}
}

func TestLoadWithoutCreateNewFails(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(Options{FSRoot: dir}); err == nil {
		t.Fatalf("expected Load against an empty FSRoot to fail")
	}
}
