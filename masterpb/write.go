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

// RowOpType is the kind of mutation a single RowOperation performs
// (spec §4.G).
type RowOpType int32

const (
	RowInsert RowOpType = iota
	RowUpdate
	RowUpsert
	RowDelete
)

// RowOperation is one row-level mutation within a WriteRequestPB.
type RowOperation struct {
	Type    RowOpType
	RowData []byte
}

const (
	rowOpFieldType = 1
	rowOpFieldData = 2
)

func (r RowOperation) Marshal() ([]byte, error) {
	var buf []byte
	buf = putVarintField(buf, rowOpFieldType, uint64(r.Type))
	buf = putBytesField(buf, rowOpFieldData, r.RowData)
	return buf, nil
}

func (r *RowOperation) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	for _, f := range fields {
		switch f.num {
		case rowOpFieldType:
			r.Type = RowOpType(f.varint)
		case rowOpFieldData:
			r.RowData = append([]byte(nil), f.bytes...)
		}
	}
	return nil
}

// WriteRequestPB batches the row operations of a single write transaction
// (spec §4.G) bound for one tablet.
type WriteRequestPB struct {
	TabletID string
	RowOps   []RowOperation
}

const (
	writeReqFieldTabletID = 1
	writeReqFieldRowOp    = 2
)

func (w WriteRequestPB) Marshal() ([]byte, error) {
	var buf []byte
	buf = putStringField(buf, writeReqFieldTabletID, w.TabletID)
	for _, op := range w.RowOps {
		ob, err := op.Marshal()
		if err != nil {
			return nil, err
		}
		buf = putBytesField(buf, writeReqFieldRowOp, ob)
	}
	return buf, nil
}

func (w *WriteRequestPB) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	*w = WriteRequestPB{}
	for _, f := range fields {
		switch f.num {
		case writeReqFieldTabletID:
			w.TabletID = string(f.bytes)
		case writeReqFieldRowOp:
			var op RowOperation
			if err := op.Unmarshal(f.bytes); err != nil {
				return err
			}
			w.RowOps = append(w.RowOps, op)
		}
	}
	return nil
}

// ErrorPB carries a status.Kind-compatible code and message across the
// write-transaction boundary without importing the status package itself
// (masterpb stays leaf-level so every other package can import it).
type ErrorPB struct {
	Code    int32
	Message string
}

const (
	errFieldCode    = 1
	errFieldMessage = 2
)

func (e ErrorPB) Marshal() ([]byte, error) {
	var buf []byte
	buf = putVarintField(buf, errFieldCode, uint64(e.Code))
	buf = putStringField(buf, errFieldMessage, e.Message)
	return buf, nil
}

func (e *ErrorPB) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	for _, f := range fields {
		switch f.num {
		case errFieldCode:
			e.Code = int32(f.varint)
		case errFieldMessage:
			e.Message = string(f.bytes)
		}
	}
	return nil
}

// PerRowError pairs a RowOperation's index within a WriteRequestPB with the
// ErrorPB its application failed with; indexes not mentioned succeeded.
type PerRowError struct {
	RowIndex int32
	Error    ErrorPB
}

const (
	perRowFieldIndex = 1
	perRowFieldError = 2
)

func (p PerRowError) Marshal() ([]byte, error) {
	eb, err := p.Error.Marshal()
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf = putVarintField(buf, perRowFieldIndex, uint64(p.RowIndex))
	buf = putBytesField(buf, perRowFieldError, eb)
	return buf, nil
}

func (p *PerRowError) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	for _, f := range fields {
		switch f.num {
		case perRowFieldIndex:
			p.RowIndex = int32(f.varint)
		case perRowFieldError:
			if err := p.Error.Unmarshal(f.bytes); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteResponsePB is the per-request outcome of a WriteRequestPB: the
// timestamp the write was assigned plus any row-level failures.
type WriteResponsePB struct {
	Timestamp    uint64
	PerRowErrors []PerRowError
}

const (
	writeRespFieldTimestamp = 1
	writeRespFieldPerRowErr = 2
)

func (w WriteResponsePB) Marshal() ([]byte, error) {
	var buf []byte
	buf = putVarintField(buf, writeRespFieldTimestamp, w.Timestamp)
	for _, e := range w.PerRowErrors {
		eb, err := e.Marshal()
		if err != nil {
			return nil, err
		}
		buf = putBytesField(buf, writeRespFieldPerRowErr, eb)
	}
	return buf, nil
}

func (w *WriteResponsePB) Unmarshal(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	*w = WriteResponsePB{}
	for _, f := range fields {
		switch f.num {
		case writeRespFieldTimestamp:
			w.Timestamp = f.varint
		case writeRespFieldPerRowErr:
			var e PerRowError
			if err := e.Unmarshal(f.bytes); err != nil {
				return err
			}
			w.PerRowErrors = append(w.PerRowErrors, e)
		}
	}
	return nil
}

// HasErrors reports whether any row in the batch failed.
func (w WriteResponsePB) HasErrors() bool { return len(w.PerRowErrors) > 0 }
