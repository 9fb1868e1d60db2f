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

// AlterSchemaRequestPB is the payload an AlterSchemaOp replicates (spec
// §4.H): the table being altered and the schema it should have afterward.
type AlterSchemaRequestPB struct {
	TableID   string
	NewSchema []ColumnSchema
}

const (
	alterReqFieldTableID = 1
	alterReqFieldColumn  = 2
)

func (a AlterSchemaRequestPB) Marshal() ([]byte, error) {
	var buf []byte
	buf = putStringField(buf, alterReqFieldTableID, a.TableID)
	for _, c := range a.NewSchema {
		cb, err := c.Marshal()
		if err != nil {
			return nil, err
		}
		buf = putBytesField(buf, alterReqFieldColumn, cb)
	}
	return buf, nil
}

func (a *AlterSchemaRequestPB) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	*a = AlterSchemaRequestPB{}
	for _, f := range fields {
		switch f.num {
		case alterReqFieldTableID:
			a.TableID = string(f.bytes)
		case alterReqFieldColumn:
			var c ColumnSchema
			if err := c.Unmarshal(f.bytes); err != nil {
				return err
			}
			a.NewSchema = append(a.NewSchema, c)
		}
	}
	return nil
}

// AlterSchemaResponsePB reports the version the table's schema carries once
// an AlterSchemaOp has committed (spec §4.H): unchanged from before the op
// if it turned out to be the identical-schema fast path in SPEC_FULL §13.4.
type AlterSchemaResponsePB struct {
	NewVersion uint32
}

const alterRespFieldVersion = 1

func (a AlterSchemaResponsePB) Marshal() ([]byte, error) {
	var buf []byte
	buf = putVarintField(buf, alterRespFieldVersion, uint64(a.NewVersion))
	return buf, nil
}

func (a *AlterSchemaResponsePB) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	*a = AlterSchemaResponsePB{}
	for _, f := range fields {
		if f.num == alterRespFieldVersion {
			a.NewVersion = uint32(f.varint)
		}
	}
	return nil
}
