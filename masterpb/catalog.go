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

package masterpb

// TableState is a SysTablesEntryPB's lifecycle state (spec §4.I).
type TableState int32

const (
	TableRunning TableState = iota
	TableAltering
	TableDeleting
	TableDeleted
)

func (s TableState) String() string {
	switch s {
	case TableRunning:
		return "RUNNING"
	case TableAltering:
		return "ALTERING"
	case TableDeleting:
		return "DELETING"
	case TableDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// ColumnSchema is a single column of a SysTablesEntryPB's schema.
type ColumnSchema struct {
	Name     string
	Type     string
	IsKey    bool
	Nullable bool
}

const (
	colFieldName     = 1
	colFieldType     = 2
	colFieldIsKey    = 3
	colFieldNullable = 4
)

func (c ColumnSchema) Marshal() ([]byte, error) {
	var buf []byte
	buf = putStringField(buf, colFieldName, c.Name)
	buf = putStringField(buf, colFieldType, c.Type)
	buf = putBoolField(buf, colFieldIsKey, c.IsKey)
	buf = putBoolField(buf, colFieldNullable, c.Nullable)
	return buf, nil
}

func (c *ColumnSchema) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	for _, f := range fields {
		switch f.num {
		case colFieldName:
			c.Name = string(f.bytes)
		case colFieldType:
			c.Type = string(f.bytes)
		case colFieldIsKey:
			c.IsKey = f.varint != 0
		case colFieldNullable:
			c.Nullable = f.varint != 0
		}
	}
	return nil
}

// SysTablesEntryPB is the catalog row describing one table (spec §4.I).
type SysTablesEntryPB struct {
	Name    string
	Schema  []ColumnSchema
	State   TableState
	Version uint32
}

const (
	tableFieldName    = 1
	tableFieldSchema  = 2
	tableFieldState   = 3
	tableFieldVersion = 4
)

func (t SysTablesEntryPB) Marshal() ([]byte, error) {
	var buf []byte
	buf = putStringField(buf, tableFieldName, t.Name)
	for _, c := range t.Schema {
		cb, err := c.Marshal()
		if err != nil {
			return nil, err
		}
		buf = putBytesField(buf, tableFieldSchema, cb)
	}
	buf = putVarintField(buf, tableFieldState, uint64(t.State))
	buf = putVarintField(buf, tableFieldVersion, uint64(t.Version))
	return buf, nil
}

func (t *SysTablesEntryPB) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	*t = SysTablesEntryPB{}
	for _, f := range fields {
		switch f.num {
		case tableFieldName:
			t.Name = string(f.bytes)
		case tableFieldSchema:
			var c ColumnSchema
			if err := c.Unmarshal(f.bytes); err != nil {
				return err
			}
			t.Schema = append(t.Schema, c)
		case tableFieldState:
			t.State = TableState(f.varint)
		case tableFieldVersion:
			t.Version = uint32(f.varint)
		}
	}
	return nil
}

// TabletState is a SysTabletsEntryPB's lifecycle state.
type TabletState int32

const (
	TabletPreparing TabletState = iota
	TabletRunning
	TabletStopping
	TabletStopped
	TabletDeleted
)

func (s TabletState) String() string {
	switch s {
	case TabletPreparing:
		return "PREPARING"
	case TabletRunning:
		return "RUNNING"
	case TabletStopping:
		return "STOPPING"
	case TabletStopped:
		return "STOPPED"
	case TabletDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// TabletReplica names one tablet server assigned a replica of a tablet.
type TabletReplica struct {
	PermanentUUID string
	Role          Role
}

const (
	replicaFieldUUID = 1
	replicaFieldRole = 2
)

func (r TabletReplica) Marshal() ([]byte, error) {
	var buf []byte
	buf = putStringField(buf, replicaFieldUUID, r.PermanentUUID)
	buf = putVarintField(buf, replicaFieldRole, uint64(r.Role))
	return buf, nil
}

func (r *TabletReplica) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	for _, f := range fields {
		switch f.num {
		case replicaFieldUUID:
			r.PermanentUUID = string(f.bytes)
		case replicaFieldRole:
			r.Role = Role(f.varint)
		}
	}
	return nil
}

// SysTabletsEntryPB is the catalog row describing one tablet of a table.
type SysTabletsEntryPB struct {
	TabletID   string
	TableID    string
	StartKey   []byte
	EndKey     []byte
	State      TabletState
	Replicas   []TabletReplica
}

const (
	tabletFieldID       = 1
	tabletFieldTableID  = 2
	tabletFieldStartKey = 3
	tabletFieldEndKey   = 4
	tabletFieldState    = 5
	tabletFieldReplica  = 6
)

func (t SysTabletsEntryPB) Marshal() ([]byte, error) {
	var buf []byte
	buf = putStringField(buf, tabletFieldID, t.TabletID)
	buf = putStringField(buf, tabletFieldTableID, t.TableID)
	buf = putBytesField(buf, tabletFieldStartKey, t.StartKey)
	buf = putBytesField(buf, tabletFieldEndKey, t.EndKey)
	buf = putVarintField(buf, tabletFieldState, uint64(t.State))
	for _, r := range t.Replicas {
		rb, err := r.Marshal()
		if err != nil {
			return nil, err
		}
		buf = putBytesField(buf, tabletFieldReplica, rb)
	}
	return buf, nil
}

func (t *SysTabletsEntryPB) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	*t = SysTabletsEntryPB{}
	for _, f := range fields {
		switch f.num {
		case tabletFieldID:
			t.TabletID = string(f.bytes)
		case tabletFieldTableID:
			t.TableID = string(f.bytes)
		case tabletFieldStartKey:
			t.StartKey = append([]byte(nil), f.bytes...)
		case tabletFieldEndKey:
			t.EndKey = append([]byte(nil), f.bytes...)
		case tabletFieldState:
			t.State = TabletState(f.varint)
		case tabletFieldReplica:
			var r TabletReplica
			if err := r.Unmarshal(f.bytes); err != nil {
				return err
			}
			t.Replicas = append(t.Replicas, r)
		}
	}
	return nil
}
